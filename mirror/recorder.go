package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/InsulaLabs/ntmirror/bus"
	"github.com/InsulaLabs/ntmirror/codec"
	"github.com/InsulaLabs/ntmirror/internal/metrics"
	"github.com/InsulaLabs/ntmirror/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type recordOptions struct {
	initialValues bool
}

type RecordOption func(*recordOptions)

// WithInitialValues makes the recording start with the current value of
// every matching topic, ahead of the updates seen during the window.
func WithInitialValues() RecordOption {
	return func(o *recordOptions) {
		o.initialValues = true
	}
}

func (m *Manager) recordDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return m.cfg.DefaultRecordDuration
	}
	if d > m.cfg.MaxRecordDuration {
		return m.cfg.MaxRecordDuration
	}
	return d
}

/*
	Subscribe records every update to topics matching any of prefixes for the
	given duration and returns them grouped by topic in arrival order. Topics
	with no update in the window are absent.

	Each call has its own bus subscription, so concurrent recordings never
	share or steal updates, and the live caches are not involved.

	A duration of zero or less records for the configured default; longer
	than the configured maximum is cut to the maximum. If ctx ends first the
	updates gathered so far are returned along with ctx's error.
*/
func (m *Manager) Subscribe(
	ctx context.Context,
	prefixes []string,
	duration time.Duration,
	opts ...RecordOption,
) (map[string][]models.ValueRecord, error) {
	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}
	duration = m.recordDuration(duration)

	session := uuid.NewString()
	logger := m.logger.WithGroup("recorder").With("session", session)

	poller, err := m.bus.Subscribe(prefixes, bus.SubscribeOptions{
		SendAll:   true,
		Immediate: o.initialValues,
	})
	if err != nil {
		m.metrics.Recording(metrics.ResultError, 0)
		return nil, errors.Wrap(err, "opening recording subscription")
	}
	defer func() {
		if err := poller.Close(); err != nil {
			logger.Warn("Could not close recording subscription", "error", err)
		}
	}()

	logger.Info("Recording started", "prefixes", prefixes, "duration", duration)

	records := make(map[string][]models.ValueRecord)
	count := 0
	drain := func() error {
		evs, err := poller.ReadQueue()
		if err != nil {
			return err
		}
		for _, ev := range evs {
			records[ev.Topic] = append(records[ev.Topic], codec.Decode(ev))
		}
		count += len(evs)
		return nil
	}

	window := time.NewTimer(duration)
	defer window.Stop()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := drain(); err != nil {
				logger.Warn("Final read after cancellation failed", "error", err)
			}
			m.metrics.Recording(metrics.ResultCancelled, count)
			logger.Info("Recording cancelled", "values", count, "topics", len(records))
			return records, ctx.Err()

		case <-window.C:
			if err := drain(); err != nil {
				return m.failRecording(logger, records, count, err)
			}
			m.metrics.Recording(metrics.ResultSuccess, count)
			logger.Info("Recording finished", "values", count, "topics", len(records))
			return records, nil

		case <-ticker.C:
			if err := drain(); err != nil {
				return m.failRecording(logger, records, count, err)
			}
		}
	}
}

func (m *Manager) failRecording(
	logger *slog.Logger,
	records map[string][]models.ValueRecord,
	count int,
	err error,
) (map[string][]models.ValueRecord, error) {
	m.metrics.Recording(metrics.ResultError, count)
	logger.Error("Recording aborted", "values", count, "error", err)
	return records, errors.Wrap(err, "reading recording queue")
}

package mirror

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/InsulaLabs/ntmirror/codec"
	"github.com/InsulaLabs/ntmirror/internal/metrics"
	"github.com/InsulaLabs/ntmirror/models"
	pkgerrors "github.com/pkg/errors"
)

// ListTopics returns the known topic names starting with prefix, sorted. An
// empty prefix matches every topic.
func (m *Manager) ListTopics(prefix string) []string {
	return m.hub.topics.names(prefix)
}

func (m *Manager) TopicInfo(name string) (models.TopicInfo, bool) {
	return m.hub.topics.get(name)
}

// Topics is ListTopics with each topic's metadata.
func (m *Manager) Topics(prefix string) []models.TopicInfo {
	return m.hub.topics.list(prefix)
}

func (m *Manager) GetValue(name string) (models.ValueRecord, bool) {
	return m.hub.values.get(name)
}

// GetValues returns the records for the names that have one. Unknown names
// are left out.
func (m *Manager) GetValues(names []string) map[string]models.ValueRecord {
	out := make(map[string]models.ValueRecord, len(names))
	for _, name := range names {
		if rec, ok := m.hub.values.get(name); ok {
			out[name] = rec
		}
	}
	return out
}

// SetValue writes value to the named topic. Values the codec cannot
// represent fail with ErrTypeMismatch and never reach the bus. A false
// result with a nil error means the write was refused, either by the write
// limiter or by the bus because the topic holds another type.
func (m *Manager) SetValue(name string, value any) (bool, error) {
	if name == "" {
		m.metrics.Write(metrics.ResultError)
		return false, ErrEmptyTopicName
	}

	v, err := codec.Encode(value)
	if err != nil {
		m.metrics.Write(metrics.ResultMismatch)
		m.logger.Error("Cannot encode value", "topic", name, "go_type", fmt.Sprintf("%T", value), "error", err)
		return false, pkgerrors.Wrapf(err, "topic %s", name)
	}

	if !m.limiter.Allow() {
		m.metrics.Write(metrics.ResultRateLimited)
		m.logger.Warn("Write rate limited", "topic", name)
		return false, nil
	}

	if !m.bus.Publish(name, v) {
		m.metrics.Write(metrics.ResultRejected)
		m.logger.Warn("Write rejected", "topic", name, "type", v.Type())
		return false, nil
	}

	m.metrics.Write(metrics.ResultSuccess)
	m.logger.Debug("Value written", "topic", name, "type", v.Type())
	return true, nil
}

// SetValues performs independent writes. Every name gets a result; the
// errors of the writes that failed to encode are joined.
func (m *Manager) SetValues(values map[string]any) (map[string]bool, error) {
	results := make(map[string]bool, len(values))
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(values)) {
		ok, err := m.SetValue(name, values[name])
		results[name] = ok
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/InsulaLabs/ntmirror/bus"
	"github.com/InsulaLabs/ntmirror/codec"
	"github.com/InsulaLabs/ntmirror/internal/metrics"
	"github.com/InsulaLabs/ntmirror/models"
)

// eventHub is the only writer of the topic, value and time sync caches and
// of the connected flag. It is registered on the bus once for every event
// kind.
type eventHub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	topics    *topicCache
	values    *valueCache
	timeSync  *timeSyncTracker
	connected atomic.Bool
}

var _ bus.Listener = (*eventHub)(nil)

func newEventHub(logger *slog.Logger, m *metrics.Metrics, valueTTL time.Duration) *eventHub {
	return &eventHub{
		logger:   logger,
		metrics:  m,
		topics:   newTopicCache(),
		values:   newValueCache(valueTTL),
		timeSync: &timeSyncTracker{},
	}
}

func (h *eventHub) OnEvent(_ context.Context, ev models.Event) {
	switch e := ev.(type) {
	case models.TopicAnnounced:
		n := h.topics.put(models.TopicInfo{
			Name:       e.Name,
			Type:       e.Type,
			Properties: h.decodeProperties(e.Name, e.Properties),
		})
		h.metrics.Topics(n)
		h.logger.Debug("Topic announced", "topic", e.Name, "type", e.Type)

	case models.TopicRemoved:
		h.metrics.Topics(h.topics.remove(e.Name))
		h.logger.Debug("Topic unpublished", "topic", e.Name)

	case models.PropertiesChanged:
		if !h.topics.setProperties(e.Name, h.decodeProperties(e.Name, e.Properties)) {
			h.logger.Debug("Properties changed for unknown topic", "topic", e.Name)
		}

	case models.ValueChanged:
		h.values.set(e.Topic, codec.Decode(e.ValueEvent))

	case models.ConnectionChanged:
		was := h.connected.Swap(e.Connected)
		h.metrics.Connected(e.Connected)
		switch {
		case e.Connected && !was:
			h.logger.Info("Connected",
				"remote_id", e.Peer.RemoteID,
				"remote_ip", e.Peer.RemoteIP,
				"remote_port", e.Peer.RemotePort)
		case !e.Connected && was:
			h.logger.Warn("Disconnected", "remote_id", e.Peer.RemoteID)
		}

	case models.TimeSyncChanged:
		prev := h.timeSync.get()
		h.timeSync.set(e.TimeSyncInfo)
		switch {
		case e.Valid && !prev.Valid:
			h.logger.Info("Time sync established", "ping_us", e.Ping, "drift_us", e.Drift)
		case !e.Valid && prev.Valid:
			h.logger.Warn("Time sync lost")
		}

	default:
		h.logger.Warn("Ignoring unknown event", "event", ev)
		return
	}

	h.metrics.Event(bus.KindOf(ev).String())
}

// markDisconnected clears the connected flag without waiting for the bus to
// report the stop.
func (h *eventHub) markDisconnected() {
	if h.connected.Swap(false) {
		h.metrics.Connected(false)
	}
}

func (h *eventHub) isConnected() bool {
	return h.connected.Load()
}

func (h *eventHub) decodeProperties(topic string, raw json.RawMessage) map[string]any {
	props := make(map[string]any)
	if len(raw) == 0 {
		return props
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		h.logger.Warn("Discarding malformed topic properties", "topic", topic, "error", err)
		return make(map[string]any)
	}
	if props == nil {
		// A literal null decodes to a nil map.
		props = make(map[string]any)
	}
	return props
}

package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/InsulaLabs/ntmirror/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(ttl time.Duration) *eventHub {
	return newEventHub(slog.Default(), nil, ttl)
}

func TestHubTopicEvents(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()

	h.OnEvent(ctx, models.TopicAnnounced{Name: "/t", Type: "double", Properties: json.RawMessage(`{"unit":"m"}`)})
	info, ok := h.topics.get("/t")
	require.True(t, ok)
	assert.Equal(t, "double", info.Type)
	assert.Equal(t, map[string]any{"unit": "m"}, info.Properties)

	h.OnEvent(ctx, models.PropertiesChanged{Name: "/t", Properties: json.RawMessage(`{"persistent":true}`)})
	info, _ = h.topics.get("/t")
	assert.Equal(t, map[string]any{"persistent": true}, info.Properties)

	h.OnEvent(ctx, models.PropertiesChanged{Name: "/unknown", Properties: json.RawMessage(`{}`)})
	_, ok = h.topics.get("/unknown")
	assert.False(t, ok)

	h.OnEvent(ctx, models.TopicAnnounced{Name: "/bad", Type: "int", Properties: json.RawMessage(`{not json`)})
	info, ok = h.topics.get("/bad")
	require.True(t, ok)
	assert.Empty(t, info.Properties)
	assert.NotNil(t, info.Properties)

	h.OnEvent(ctx, models.TopicAnnounced{Name: "/null", Type: "int", Properties: json.RawMessage(`null`)})
	info, _ = h.topics.get("/null")
	assert.NotNil(t, info.Properties)

	h.OnEvent(ctx, models.TopicRemoved{Name: "/t"})
	h.OnEvent(ctx, models.TopicRemoved{Name: "/t"})
	_, ok = h.topics.get("/t")
	assert.False(t, ok)
	assert.Equal(t, []string{"/bad", "/null"}, h.topics.names(""))
}

func TestHubTopicInfoIsACopy(t *testing.T) {
	h := newTestHub(0)
	h.OnEvent(context.Background(), models.TopicAnnounced{Name: "/t", Type: "int", Properties: json.RawMessage(`{"a":1}`)})

	info, _ := h.topics.get("/t")
	info.Properties["a"] = "mutated"

	again, _ := h.topics.get("/t")
	assert.Equal(t, float64(1), again.Properties["a"])
}

func TestHubValueIsACopy(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()
	h.OnEvent(ctx, models.ValueChanged{ValueEvent: models.ValueEvent{
		Topic: "/arr",
		Type:  "int[]",
		Value: models.IntegerArrayValue([]int64{1, 2, 3}),
	}})
	h.OnEvent(ctx, models.ValueChanged{ValueEvent: models.ValueEvent{
		Topic: "/raw",
		Type:  "raw",
		Value: models.RawValue([]byte{0xde, 0xad}),
	}})

	rec, ok := h.values.get("/arr")
	require.True(t, ok)
	rec.Value.([]int64)[0] = 99

	again, _ := h.values.get("/arr")
	assert.Equal(t, []int64{1, 2, 3}, again.Value)

	raw, _ := h.values.get("/raw")
	raw.Value.([]byte)[0] = 0
	raw, _ = h.values.get("/raw")
	assert.Equal(t, []byte{0xde, 0xad}, raw.Value)
}

func TestHubValuesLastWriteWins(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		h.OnEvent(ctx, models.ValueChanged{ValueEvent: models.ValueEvent{
			Topic: "/v",
			Type:  "int",
			Value: models.IntegerValue(i),
		}})
	}

	rec, ok := h.values.get("/v")
	require.True(t, ok)
	assert.Equal(t, int64(3), rec.Value)
	assert.Equal(t, 8, rec.Size)
}

func TestHubValueTTL(t *testing.T) {
	h := newTestHub(30 * time.Millisecond)
	defer h.values.stop()

	h.OnEvent(context.Background(), models.ValueChanged{ValueEvent: models.ValueEvent{
		Topic: "/stale",
		Value: models.BooleanValue(true),
	}})
	_, ok := h.values.get("/stale")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := h.values.get("/stale")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestHubConnectionAndTimeSync(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()

	h.OnEvent(ctx, models.ConnectionChanged{Connected: true, Peer: models.PeerInfo{RemoteID: "robot"}})
	assert.True(t, h.isConnected())

	h.OnEvent(ctx, models.TimeSyncChanged{TimeSyncInfo: models.TimeSyncInfo{Valid: true, Ping: 10, Drift: -4}})
	assert.Equal(t, models.TimeSyncInfo{Valid: true, Ping: 10, Drift: -4}, h.timeSync.get())

	h.OnEvent(ctx, models.TimeSyncChanged{TimeSyncInfo: models.TimeSyncInfo{Valid: true, Ping: 12}})
	assert.Equal(t, models.TimeSyncInfo{Valid: true, Ping: 12}, h.timeSync.get())

	h.OnEvent(ctx, models.ConnectionChanged{Connected: false})
	assert.False(t, h.isConnected())

	h.OnEvent(ctx, models.ConnectionChanged{Connected: true})
	h.markDisconnected()
	assert.False(t, h.isConnected())
}

func TestHubConcurrentEventsAndReads(t *testing.T) {
	h := newTestHub(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.OnEvent(ctx, models.TopicAnnounced{Name: "/c", Type: "int"})
				h.OnEvent(ctx, models.ValueChanged{ValueEvent: models.ValueEvent{Topic: "/c", Value: models.IntegerValue(int64(i))}})
				h.OnEvent(ctx, models.TopicRemoved{Name: "/c"})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.topics.names("/")
				h.topics.list("")
				h.values.get("/c")
				h.timeSync.get()
			}
		}()
	}
	wg.Wait()

	rec, ok := h.values.get("/c")
	require.True(t, ok)
	assert.Equal(t, "int", rec.Type)
}

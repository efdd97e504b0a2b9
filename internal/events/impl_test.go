package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/InsulaLabs/ntmirror/models"
	"github.com/google/uuid"
)

// mockImplSubscriber is a TopicSubscriber for implementation tests.
type mockImplSubscriber struct {
	mu       sync.Mutex
	messages []Event
	ID       string
}

func newMockImplSubscriber(id string) *mockImplSubscriber {
	return &mockImplSubscriber{
		ID:       id,
		messages: make([]Event, 0),
	}
}

func (ms *mockImplSubscriber) OnMessage(ctx context.Context, event Event) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.messages = append(ms.messages, event)
}

func (ms *mockImplSubscriber) getMessages() []Event {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	msgsCopy := make([]Event, len(ms.messages))
	copy(msgsCopy, ms.messages)
	return msgsCopy
}

// mockImplEventRouter captures routed events instead of delivering them.
type mockImplEventRouter struct {
	mu              sync.RWMutex
	publishedEvents []Event
	simulateError   bool
}

func (mer *mockImplEventRouter) routeEvent(ctx context.Context, event Event) error {
	mer.mu.Lock()
	defer mer.mu.Unlock()

	if mer.simulateError {
		return errors.New("mock router publish error")
	}
	mer.publishedEvents = append(mer.publishedEvents, event)
	return nil
}

func (mer *mockImplEventRouter) getPublishedEvents() []Event {
	mer.mu.RLock()
	defer mer.mu.RUnlock()
	eventsCopy := make([]Event, len(mer.publishedEvents))
	copy(eventsCopy, mer.publishedEvents)
	return eventsCopy
}

func TestTopicPublisherImpl_Publish(t *testing.T) {
	mockRouter := &mockImplEventRouter{}
	tp := &topicPublisherImpl{
		emitterId: "client-1",
		topic:     "value",
		router:    mockRouter.routeEvent,
	}

	data := models.ValueChanged{ValueEvent: models.ValueEvent{Topic: "/SmartDashboard/x", Value: models.IntegerValue(3)}}
	if err := tp.Publish(context.Background(), data); err != nil {
		t.Fatalf("Publish() error = %v, wantErr nil", err)
	}

	published := mockRouter.getPublishedEvents()
	if len(published) != 1 {
		t.Fatalf("expected 1 event published to router, got %d", len(published))
	}

	event := published[0]
	if event.Topic != "value" {
		t.Errorf("event.Topic got = %s, want value", event.Topic)
	}
	if event.Emitter != "client-1" {
		t.Errorf("event.Emitter got = %s, want client-1", event.Emitter)
	}
	got, ok := event.Data.(models.ValueChanged)
	if !ok || got.Topic != "/SmartDashboard/x" {
		t.Errorf("event.Data got = %#v, want %#v", event.Data, data)
	}
	if _, err := uuid.Parse(event.EventID); err != nil {
		t.Errorf("event.EventID is not a valid UUID: %v", err)
	}
	if event.EmittedAt.IsZero() {
		t.Error("event.EmittedAt is zero")
	}

	mockRouter.simulateError = true
	err := tp.Publish(context.Background(), data)
	if err == nil || err.Error() != "mock router publish error" {
		t.Errorf("Publish() with router error got = %v", err)
	}
}

func TestTopicPublisherImpl_PublishCancelled(t *testing.T) {
	mockRouter := &mockImplEventRouter{}
	tp := &topicPublisherImpl{topic: "value", router: mockRouter.routeEvent}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tp.Publish(ctx, models.TopicRemoved{Name: "/a"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Publish() on cancelled ctx error = %v, want context.Canceled", err)
	}
	if n := len(mockRouter.getPublishedEvents()); n != 0 {
		t.Errorf("router received %d events from a cancelled publish", n)
	}
}

func TestPubSubImpl_GetPublisherCaches(t *testing.T) {
	ps := NewPubSub(Config{Topics: []string{"topic"}}).(*pubSubImpl)

	p1, err := ps.GetPublisher("client", "topic")
	if err != nil {
		t.Fatalf("GetPublisher() error = %v", err)
	}
	p2, _ := ps.GetPublisher("client", "topic")
	if p1 != p2 {
		t.Error("GetPublisher() returned a new publisher for the same emitter and topic")
	}

	if _, err := ps.GetPublisher("client", "nope"); !errors.Is(err, ErrTopicNotPermitted) {
		t.Errorf("GetPublisher() for unknown topic error = %v, want %v", err, ErrTopicNotPermitted)
	}
}

func TestPubSubImpl_DispatchOrderAndUnsubscribe(t *testing.T) {
	ps := NewPubSub(Config{Topics: []string{"value"}}).(*pubSubImpl)
	sub := newMockImplSubscriber("sub-1")

	unsub, err := ps.Subscribe("value", sub)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	pub, _ := ps.GetPublisher("client", "value")
	for i := int64(0); i < 5; i++ {
		ev := models.ValueChanged{ValueEvent: models.ValueEvent{Topic: "/n", Value: models.IntegerValue(i)}}
		if err := pub.Publish(context.Background(), ev); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	got := sub.getMessages()
	if len(got) != 5 {
		t.Fatalf("subscriber expected 5 messages, got %d", len(got))
	}
	for i, m := range got {
		vc := m.Data.(models.ValueChanged)
		if vc.Value.Native() != int64(i) {
			t.Errorf("message %d carries %v, delivery order broken", i, vc.Value)
		}
	}

	unsub()
	unsub()
	if n := ps.SubscriberCount("value"); n != 0 {
		t.Fatalf("SubscriberCount() after unsubscribe = %d, want 0", n)
	}

	_ = pub.Publish(context.Background(), models.TopicRemoved{Name: "/n"})
	if len(sub.getMessages()) != 5 {
		t.Error("subscriber received a message after unsubscribe")
	}
}

func TestPubSubImpl_SameSubscriberTwice(t *testing.T) {
	ps := NewPubSub(Config{Topics: []string{"topic"}})
	sub := newMockImplSubscriber("dup")

	unsub1, _ := ps.Subscribe("topic", sub)
	_, _ = ps.Subscribe("topic", sub)

	unsub1()
	if n := ps.SubscriberCount("topic"); n != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1 after removing one of two registrations", n)
	}

	pub, _ := ps.GetPublisher("client", "topic")
	_ = pub.Publish(context.Background(), models.TopicRemoved{Name: "/x"})
	if n := len(sub.getMessages()); n != 1 {
		t.Errorf("subscriber got %d messages, want 1", n)
	}
}

package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/InsulaLabs/ntmirror/models"
)

var (
	ErrTopicNotPermitted = errors.New("topic not permitted")
)

// Event wraps a bus event with its routing envelope. Topic here is the event
// category ("value", "topic", ...), not a telemetry topic name.
type Event struct {
	EventID   string
	Topic     string
	EmittedAt time.Time
	Emitter   string
	Data      models.Event
}

type TopicPublisher interface {
	// Publish is handed a context that should be respected by the EventRouter
	// such that if the context is cancelled the event is not published.
	Publish(ctx context.Context, data models.Event) error
}

// TopicSubscriber is the interface that is used to receive events from a topic.
// When returned from the PubSub.Subscribe method it is the responsibility of the
// caller to call the Unsubscriber function to unsubscribe from the topic.
type TopicSubscriber interface {
	OnMessage(ctx context.Context, event Event)
}

// Call to unsubscribe from a topic
type Unsubscriber func()

// The function that fulfills the event publishing logic. When the config
// leaves it nil the pubsub delivers to its own subscribers, synchronously and
// in subscription order.
type EventRouter func(ctx context.Context, event Event) error

type PubSub interface {
	GetPermittedTopics() ([]string, error)
	GetPublisher(emitterId, topic string) (TopicPublisher, error)
	Subscribe(topic string, subscriber TopicSubscriber) (Unsubscriber, error)
	SubscriberCount(topic string) int
}

type Config struct {
	Router EventRouter
	Topics []string
}

func NewPubSub(config Config) PubSub {
	ps := &pubSubImpl{
		permittedTopics:  config.Topics,
		topics:           make(map[string]TopicPublisher),
		subscribers:      make(map[string][]*subscription),
		topicsMutex:      sync.RWMutex{},
		subscribersMutex: sync.RWMutex{},
		router:           config.Router,
	}
	if ps.router == nil {
		ps.router = ps.dispatch
	}
	return ps
}

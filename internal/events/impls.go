package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/InsulaLabs/ntmirror/models"
	"github.com/google/uuid"
)

// The implementation of the TopicPublisher interface that is handed to a
// caller who wants to publish events to a topic. The topic was validated when
// the publisher was requested.
type topicPublisherImpl struct {
	emitterId string
	topic     string

	router EventRouter
}

func (tp *topicPublisherImpl) Publish(ctx context.Context, data models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return tp.router(ctx, Event{
		EventID:   uuid.NewString(),
		Topic:     tp.topic,
		EmittedAt: time.Now(),
		Emitter:   tp.emitterId,
		Data:      data,
	})
}

// Each subscription gets its own identity so the same subscriber can be
// registered twice and removed one registration at a time.
type subscription struct {
	id         string
	subscriber TopicSubscriber
}

type pubSubImpl struct {
	permittedTopics []string
	topics          map[string]TopicPublisher
	subscribers     map[string][]*subscription

	topicsMutex      sync.RWMutex
	subscribersMutex sync.RWMutex

	router EventRouter
}

func (ps *pubSubImpl) GetPermittedTopics() ([]string, error) {
	return slices.Clone(ps.permittedTopics), nil
}

// Publishers are cached per emitter and topic.
func (ps *pubSubImpl) GetPublisher(emitterId, topic string) (TopicPublisher, error) {
	if !slices.Contains(ps.permittedTopics, topic) {
		return nil, ErrTopicNotPermitted
	}

	key := emitterId + "\x00" + topic

	ps.topicsMutex.RLock()
	publisher, ok := ps.topics[key]
	ps.topicsMutex.RUnlock()
	if ok {
		return publisher, nil
	}

	ps.topicsMutex.Lock()
	defer ps.topicsMutex.Unlock()
	if publisher, ok := ps.topics[key]; ok {
		return publisher, nil
	}
	publisher = &topicPublisherImpl{
		emitterId: emitterId,
		topic:     topic,
		router:    ps.router,
	}
	ps.topics[key] = publisher
	return publisher, nil
}

func (ps *pubSubImpl) Subscribe(topic string, subscriber TopicSubscriber) (Unsubscriber, error) {
	if !slices.Contains(ps.permittedTopics, topic) {
		return nil, ErrTopicNotPermitted
	}

	sub := &subscription{id: uuid.NewString(), subscriber: subscriber}

	ps.subscribersMutex.Lock()
	defer ps.subscribersMutex.Unlock()

	ps.subscribers[topic] = append(ps.subscribers[topic], sub)

	// The returned function captures the mutex so it can be called safely and
	// at any time by the subscriber owner.
	var once sync.Once
	return func() {
		once.Do(func() {
			ps.subscribersMutex.Lock()
			defer ps.subscribersMutex.Unlock()

			ps.subscribers[topic] = slices.DeleteFunc(ps.subscribers[topic], func(s *subscription) bool {
				return s.id == sub.id
			})
		})
	}, nil
}

func (ps *pubSubImpl) SubscriberCount(topic string) int {
	ps.subscribersMutex.RLock()
	defer ps.subscribersMutex.RUnlock()
	return len(ps.subscribers[topic])
}

// dispatch is the default router. Subscribers are copied out under the read
// lock so a subscriber may unsubscribe from inside OnMessage.
func (ps *pubSubImpl) dispatch(ctx context.Context, event Event) error {
	ps.subscribersMutex.RLock()
	subs := slices.Clone(ps.subscribers[event.Topic])
	ps.subscribersMutex.RUnlock()

	for _, s := range subs {
		s.subscriber.OnMessage(ctx, event)
	}
	return nil
}

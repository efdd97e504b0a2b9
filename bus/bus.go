// Package bus describes what the mirror needs from a NetworkTables client
// transport. Implementations own the wire protocol and deliver events on
// their own goroutines.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/InsulaLabs/ntmirror/models"
)

var (
	ErrClosed         = errors.New("bus: closed")
	ErrNoPrefixes     = errors.New("bus: at least one prefix is required")
	ErrNilListener    = errors.New("bus: listener cannot be nil")
	ErrEmptyEventMask = errors.New("bus: event mask is empty")
)

// EventKind is a bit mask of event categories a listener wants.
type EventKind uint8

const (
	EventTopic EventKind = 1 << iota
	EventValue
	EventConnection
	EventTimeSync

	EventAll = EventTopic | EventValue | EventConnection | EventTimeSync
)

// KindOf returns the category of an event.
func KindOf(ev models.Event) EventKind {
	switch ev.(type) {
	case models.TopicAnnounced, models.TopicRemoved, models.PropertiesChanged:
		return EventTopic
	case models.ValueChanged:
		return EventValue
	case models.ConnectionChanged:
		return EventConnection
	case models.TimeSyncChanged:
		return EventTimeSync
	}
	return 0
}

func (k EventKind) String() string {
	switch k {
	case EventTopic:
		return "topic"
	case EventValue:
		return "value"
	case EventConnection:
		return "connection"
	case EventTimeSync:
		return "timesync"
	}
	return fmt.Sprintf("mask(%#x)", uint8(k))
}

// Listener receives events. OnEvent may be called concurrently with any other
// method of the mirror, but a single bus delivers to a listener from one
// goroutine at a time.
type Listener interface {
	OnEvent(ctx context.Context, ev models.Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev models.Event)

func (f ListenerFunc) OnEvent(ctx context.Context, ev models.Event) { f(ctx, ev) }

// Call to stop receiving events.
type Unsubscriber func()

type SubscribeOptions struct {
	// SendAll asks for every update instead of only the most recent one.
	SendAll bool
	// Immediate queues the current value of every matching topic as soon
	// as the subscription is made.
	Immediate bool
}

// Poller is a transient prefix subscription with its own event queue. It must
// be closed by whoever opened it.
type Poller interface {
	// ReadQueue drains and returns the pending value events in arrival order.
	ReadQueue() ([]models.ValueEvent, error)
	Close() error
}

type Bus interface {
	SetServer(host string, port int)
	SetServerTeam(team int, port int)

	// StartClient begins connecting under the given identity and returns
	// without waiting for the handshake.
	StartClient(identity string) error
	StopClient()

	Connections() []models.PeerInfo

	AddListener(mask EventKind, l Listener) (Unsubscriber, error)

	// Publish writes a value. It returns false when the transport rejects
	// the write, for instance because the topic already has another type.
	Publish(name string, v models.Value) bool

	Subscribe(prefixes []string, opts SubscribeOptions) (Poller, error)
}

package models

import "encoding/json"

/*
	Events delivered by the bus. Each variant carries the entity the change
	is about; consumers switch on the concrete type.
*/

type Event interface {
	isEvent()
}

// TopicAnnounced is delivered when a topic is published, and for every known
// topic right after a connection comes up.
type TopicAnnounced struct {
	Name       string
	Type       string
	Properties json.RawMessage
}

type TopicRemoved struct {
	Name string
}

// PropertiesChanged carries the complete new property bag.
type PropertiesChanged struct {
	Name       string
	Properties json.RawMessage
}

type ValueChanged struct {
	ValueEvent
}

type ConnectionChanged struct {
	Connected bool
	Peer      PeerInfo
}

type TimeSyncChanged struct {
	TimeSyncInfo
}

func (TopicAnnounced) isEvent()    {}
func (TopicRemoved) isEvent()      {}
func (PropertiesChanged) isEvent() {}
func (ValueChanged) isEvent()      {}
func (ConnectionChanged) isEvent() {}
func (TimeSyncChanged) isEvent()   {}

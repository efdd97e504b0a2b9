package mirror

import (
	"errors"

	"github.com/InsulaLabs/ntmirror/bus"
	"github.com/InsulaLabs/ntmirror/codec"
)

var (
	ErrNilBus         = errors.New("bus cannot be nil")
	ErrConfiguration  = errors.New("invalid connection configuration")
	ErrNotConnected   = errors.New("not connected")
	ErrEmptyTopicName = errors.New("topic name cannot be empty")

	ErrTypeMismatch = codec.ErrTypeMismatch
	ErrNoPrefixes   = bus.ErrNoPrefixes
)

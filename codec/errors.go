package codec

import "errors"

var (
	ErrTypeMismatch = errors.New("type mismatch")
)

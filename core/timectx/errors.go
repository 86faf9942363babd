package timectx

import "errors"

var (
	ErrDuplicateRegistration = errors.New("key already registered")
	ErrUnknownTimeSystem     = errors.New("unknown time system")
	ErrUnknownClock          = errors.New("unknown clock")
	ErrInvalidPath           = errors.New("invalid object path")
)

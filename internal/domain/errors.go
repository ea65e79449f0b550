package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAmbiguousDirection  = errors.New("ambiguous position direction")
	ErrNotConnected        = errors.New("session not connected")
	ErrSessionClosed       = errors.New("session closed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrUnsupportedLeverage = errors.New("unsupported leverage")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrInvalidMessage      = errors.New("invalid message")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidPosition     = errors.New("invalid position state")
	ErrLockHeld            = errors.New("lock already held")
)

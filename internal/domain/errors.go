package domain

import "errors"

var (
	ErrInvalidDelta        = errors.New("message delta must be positive")
	ErrBroadcasterStopped  = errors.New("broadcaster stopped")
	ErrUnknownEvent        = errors.New("unknown event")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

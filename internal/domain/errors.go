package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrMalformedTick = errors.New("malformed tick")
	ErrStaleTick     = errors.New("stale tick")
	ErrLockHeld      = errors.New("lock already held")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrOrderTimeout  = errors.New("order confirmation timed out")
	ErrUnknownVenue  = errors.New("unknown venue")
)

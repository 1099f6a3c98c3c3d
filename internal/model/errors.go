package model

import "errors"

// Engine errors. Only ErrAuthExpired is expected to cross the engine
// boundary as a returned error that callers must act on (session teardown);
// the rest surface through the engine's error state.
var (
	ErrAuthExpired      = errors.New("session expired")
	ErrPermissionDenied = errors.New("not authorized for this conversation")
	ErrNotFound         = errors.New("conversation not found")
	ErrConnectionLost   = errors.New("connection lost")
	ErrEmptyMessage     = errors.New("message has no content or attachment")
	ErrNoActiveChat     = errors.New("no active conversation")
)

package storage

import "errors"

// ErrClosed is returned when a store is used after Close.
var ErrClosed = errors.New("storage closed")

// ErrUnknownBackend is returned by NewStorage for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")

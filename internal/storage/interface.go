package storage

import (
	"fmt"
	"strings"
)

// Keys used by the session manager.
const (
	KeySessionToken = "session_token"
	KeyTokenExpiry  = "token_expiry"
)

// Backend names accepted by NewStorage.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Interface defines the contract for the durable credential store.
//
// Implementations are safe for use by multiple goroutines within one process.
// They are not protected against a second process writing the same location.
type Interface interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores a single value.
	Set(key, value string) error
	// SetMany stores all entries atomically: either every entry is written or none is.
	SetMany(entries map[string]string) error
	Close() error
}

// NewStorage creates the storage implementation selected by backend.
// An empty backend selects the JSON file store.
func NewStorage(backend, path string) (Interface, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendJSON:
		return NewJSONStorage(path)
	case BackendSQLite:
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)

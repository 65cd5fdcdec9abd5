// Package storage provides durable key-value persistence for the session token.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONStorage keeps all entries in a single JSON document on disk.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *Data
	closed   bool
}

// Data is the on-disk document.
type Data struct {
	Entries     map[string]string `json:"entries"`
	LastUpdated time.Time         `json:"last_updated"`
}

// NewJSONStorage opens (or lazily creates) the JSON store at path.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	s := &JSONStorage{
		filepath: path,
		data:     &Data{Entries: make(map[string]string)},
	}

	// Load existing data if file exists
	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat storage file: %w", err)
	}

	return s, nil
}

func (s *JSONStorage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath) // #nosec G304 -- path comes from operator config
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	if data.Entries == nil {
		data.Entries = make(map[string]string)
	}
	s.data = &data
	return nil
}

// Get returns the value stored for key.
func (s *JSONStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.data.Entries[key]
	return v, ok, nil
}

// Set stores a single value and persists the document.
func (s *JSONStorage) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany applies all entries and persists them in one atomic file replace.
// On failure the in-memory state is left unchanged.
func (s *JSONStorage) SetMany(entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	next := &Data{Entries: make(map[string]string, len(s.data.Entries)+len(entries))}
	for k, v := range s.data.Entries {
		next.Entries[k] = v
	}
	for k, v := range entries {
		next.Entries[k] = v
	}
	next.LastUpdated = time.Now().UTC()

	if err := s.writeFile(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// writeFile writes to a temp file in the same directory and renames it over
// the target. Caller must hold the write lock.
func (s *JSONStorage) writeFile(data *Data) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}

	dir := filepath.Dir(s.filepath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.filepath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpName, s.filepath); err != nil {
		cleanup()
		return fmt.Errorf("replacing storage file: %w", err)
	}
	return nil
}

// Close marks the store closed. The JSON store holds no open handles.
func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

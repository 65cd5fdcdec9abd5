package storage

import (
	"sync"
)

// MockStorage implements Interface in memory for testing
type MockStorage struct {
	mu           sync.Mutex
	entries      map[string]string
	getError     error
	setError     error
	getCallCount int
	setCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		entries: make(map[string]string),
	}
}

func (m *MockStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCallCount++
	if m.getError != nil {
		return "", false, m.getError
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MockStorage) Set(key, value string) error {
	return m.SetMany(map[string]string{key: value})
}

func (m *MockStorage) SetMany(entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCallCount++
	if m.setError != nil {
		return m.setError
	}
	for k, v := range entries {
		m.entries[k] = v
	}
	return nil
}

func (m *MockStorage) Close() error {
	return nil
}

// Mock control methods for testing
func (m *MockStorage) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getError = err
}

func (m *MockStorage) SetSetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setError = err
}

func (m *MockStorage) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCallCount
}

func (m *MockStorage) SetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCallCount
}

// Seed writes entries without counting a call.
func (m *MockStorage) Seed(entries map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		m.entries[k] = v
	}
}

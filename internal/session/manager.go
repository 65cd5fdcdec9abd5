// Package session obtains a tastytrade session token, reusing the cached one
// until it expires.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/storage"
)

// TokenTTL is how long a freshly issued token is trusted.
const TokenTTL = 24 * time.Hour

// Authenticator exchanges credentials for a token.
type Authenticator interface {
	Login(ctx context.Context, login, password string) (string, error)
}

// Credentials are the environment-specific login details.
type Credentials struct {
	Environment string
	Login       string
	Password    string
}

// Manager returns a valid session token for one environment.
type Manager struct {
	auth   Authenticator
	store  storage.Interface
	creds  Credentials
	logger logrus.FieldLogger
	now    func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager.
func NewManager(auth Authenticator, store storage.Interface, creds Credentials,
	logger logrus.FieldLogger, opts ...Option) *Manager {
	if auth == nil {
		panic("session.NewManager: authenticator must not be nil")
	}
	if store == nil {
		panic("session.NewManager: store must not be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{
		auth:   auth,
		store:  store,
		creds:  creds,
		logger: logger.WithField("environment", creds.Environment),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns the cached token while now < expiry, otherwise logs in and
// persists the new token and its expiry together. Login failures are returned
// as-is (a *broker.AuthError for a rejected login) and nothing is persisted.
func (m *Manager) Token(ctx context.Context) (string, error) {
	token, expiry, ok := m.cached()
	now := m.now()
	if ok && now.Before(expiry) {
		m.logger.WithField("expires_at", expiry.Format(time.RFC3339)).Info("Found existing session token")
		return token, nil
	}

	m.logger.Warn("Session token expired or missing, requesting a new one")
	token, err := m.auth.Login(ctx, m.creds.Login, m.creds.Password)
	if err != nil {
		m.logger.WithError(err).Error("Session token request failed")
		return "", err
	}

	expiry = now.Add(TokenTTL)
	if err := m.store.SetMany(map[string]string{
		storage.KeySessionToken: token,
		storage.KeyTokenExpiry:  expiry.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return "", fmt.Errorf("persisting session token: %w", err)
	}

	m.logger.WithField("expires_at", expiry.Format(time.RFC3339)).Info("Stored new session token")
	return token, nil
}

// cached reads the stored token. Any read or parse problem is a cache miss.
func (m *Manager) cached() (string, time.Time, bool) {
	token, ok, err := m.store.Get(storage.KeySessionToken)
	if err != nil {
		m.logger.WithError(err).Warn("Reading cached session token failed")
		return "", time.Time{}, false
	}
	if !ok || token == "" {
		return "", time.Time{}, false
	}

	raw, ok, err := m.store.Get(storage.KeyTokenExpiry)
	if err != nil || !ok || raw == "" {
		if err != nil {
			m.logger.WithError(err).Warn("Reading cached token expiry failed")
		}
		return "", time.Time{}, false
	}
	expiry, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		m.logger.WithError(err).WithField("raw", raw).Warn("Unparseable token expiry, ignoring cached token")
		return "", time.Time{}, false
	}
	return token, expiry, true
}

// Invalidate forgets the cached token by writing an already-passed expiry.
func (m *Manager) Invalidate() error {
	err := m.store.Set(storage.KeyTokenExpiry, time.Unix(0, 0).UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("invalidating session token: %w", err)
	}
	return nil
}

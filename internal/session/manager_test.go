package session

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/broker"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/storage"
)

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(ctx context.Context, login, password string) (string, error) {
	args := m.Called(ctx, login, password)
	return args.String(0), args.Error(1)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var testCreds = Credentials{Environment: "sandbox", Login: "alice", Password: "secret"}

func newTestManager(auth Authenticator, store storage.Interface, clock *fakeClock) *Manager {
	return NewManager(auth, store, testCreds, quietLogger(), WithClock(clock.Now))
}

func TestToken_LoginAndPersistOnEmptyStore(t *testing.T) {
	auth := &MockAuthenticator{}
	auth.On("Login", mock.Anything, "alice", "secret").Return("tok-1", nil).Once()
	store := storage.NewMockStorage()
	clock := &fakeClock{t: time.Date(2025, 3, 31, 15, 45, 0, 0, time.UTC)}

	token, err := newTestManager(auth, store, clock).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	stored, ok, _ := store.Get(storage.KeySessionToken)
	require.True(t, ok)
	assert.Equal(t, "tok-1", stored)

	rawExpiry, ok, _ := store.Get(storage.KeyTokenExpiry)
	require.True(t, ok)
	expiry, err := time.Parse(time.RFC3339Nano, rawExpiry)
	require.NoError(t, err)
	assert.True(t, expiry.Equal(clock.t.Add(24*time.Hour)), "expiry = issuance + 24h, got %v", expiry)
	assert.Equal(t, 1, store.SetCallCount(), "token and expiry are written together")
	auth.AssertExpectations(t)
}

func TestToken_CacheHitMakesNoNetworkCall(t *testing.T) {
	auth := &MockAuthenticator{}
	auth.On("Login", mock.Anything, "alice", "secret").Return("tok-1", nil).Once()
	store := storage.NewMockStorage()
	clock := &fakeClock{t: time.Date(2025, 3, 31, 15, 45, 0, 0, time.UTC)}
	m := newTestManager(auth, store, clock)

	first, err := m.Token(context.Background())
	require.NoError(t, err)
	second, err := m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	auth.AssertNumberOfCalls(t, "Login", 1)
}

func TestToken_RenewsAtExpiry(t *testing.T) {
	auth := &MockAuthenticator{}
	auth.On("Login", mock.Anything, "alice", "secret").Return("tok-1", nil).Once()
	auth.On("Login", mock.Anything, "alice", "secret").Return("tok-2", nil).Once()
	store := storage.NewMockStorage()
	clock := &fakeClock{t: time.Date(2025, 3, 31, 15, 45, 0, 0, time.UTC)}
	m := newTestManager(auth, store, clock)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	clock.Advance(24*time.Hour - time.Nanosecond)
	token, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token, "still valid one tick before expiry")

	// now == expiry is no longer strictly before it
	clock.Advance(time.Nanosecond)
	token, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)

	stored, _, _ := store.Get(storage.KeySessionToken)
	assert.Equal(t, "tok-2", stored, "renewal overwrites the cached token")
	auth.AssertNumberOfCalls(t, "Login", 2)
}

func TestToken_AuthFailurePersistsNothing(t *testing.T) {
	auth := &MockAuthenticator{}
	auth.On("Login", mock.Anything, "alice", "secret").
		Return("", &broker.AuthError{Status: 401, Body: "invalid_credentials"})
	store := storage.NewMockStorage()
	clock := &fakeClock{t: time.Now()}

	_, err := newTestManager(auth, store, clock).Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrAuthenticationFailed)

	var authErr *broker.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, 401, authErr.Status)
	assert.Equal(t, "invalid_credentials", authErr.Body)
	assert.Equal(t, 0, store.SetCallCount())
}

func TestToken_ExpiredCacheFallsBackToLogin(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 4, 30, 15, 45, 0, 0, time.UTC)}
	store := storage.NewMockStorage()
	store.Seed(map[string]string{
		storage.KeySessionToken: "old",
		storage.KeyTokenExpiry:  clock.t.Add(-time.Minute).Format(time.RFC3339Nano),
	})
	auth := &MockAuthenticator{}
	auth.On("Login", mock.Anything, "alice", "secret").Return("fresh", nil).Once()

	token, err := newTestManager(auth, store, clock).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestToken_CorruptExpiryIsCacheMiss(t *testing.T) {
	store := storage.NewMockStorage()
	store.Seed(map[string]string{
		storage.KeySessionToken: "old",
		storage.KeyTokenExpiry:  "not-a-time",
	})
	auth := &MockAuthenticator{}
	auth.On("Login", mock.Anything, "alice", "secret").Return("fresh", nil).Once()

	token, err := newTestManager(auth, store, &fakeClock{t: time.Now()}).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestToken_TokenWithoutExpiryIsCacheMiss(t *testing.T) {
	store := storage.NewMockStorage()
	store.Seed(map[string]string{storage.KeySessionToken: "orphan"})
	auth := &MockAuthenticator{}
	auth.On("Login", mock.Anything, "alice", "secret").Return("fresh", nil).Once()

	token, err := newTestManager(auth, store, &fakeClock{t: time.Now()}).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestToken_PersistFailureIsReturned(t *testing.T) {
	store := storage.NewMockStorage()
	store.SetSetError(errors.New("read-only filesystem"))
	auth := &MockAuthenticator{}
	auth.On("Login", mock.Anything, "alice", "secret").Return("fresh", nil).Once()

	_, err := newTestManager(auth, store, &fakeClock{t: time.Now()}).Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisting session token")
}

func TestInvalidate_ForcesLogin(t *testing.T) {
	auth := &MockAuthenticator{}
	auth.On("Login", mock.Anything, "alice", "secret").Return("tok-1", nil).Once()
	auth.On("Login", mock.Anything, "alice", "secret").Return("tok-2", nil).Once()
	store := storage.NewMockStorage()
	m := newTestManager(auth, store, &fakeClock{t: time.Now()})

	_, err := m.Token(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Invalidate())

	token, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
}

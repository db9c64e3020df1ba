package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/calbridge/internal/credential"
	"github.com/tonimelisma/calbridge/internal/metrics"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRefresher returns a canned grant or error and counts calls.
type fakeRefresher struct {
	grant *Grant
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (*Grant, error) {
	f.calls.Add(1)

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.err != nil {
		return nil, f.err
	}

	return f.grant, nil
}

func newTestManager(t *testing.T, store credential.Store, r Refresher, opts ...Option) *Manager {
	t.Helper()

	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)

	return NewManager(store, r, slog.Default(), opts...)
}

func seed(t *testing.T, store credential.Store, c *credential.Credential) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), c))
}

func TestIsValid(t *testing.T) {
	window := 5 * time.Minute

	tests := []struct {
		name string
		cred *credential.Credential
		want bool
	}{
		{"nil", nil, false},
		{"no access token", &credential.Credential{ExpiresAt: testNow.Add(time.Hour)}, false},
		{"no expiry", &credential.Credential{AccessToken: "at"}, false},
		{"well inside", &credential.Credential{AccessToken: "at", ExpiresAt: testNow.Add(time.Hour)}, true},
		{"exactly at window", &credential.Credential{AccessToken: "at", ExpiresAt: testNow.Add(window)}, false},
		{"one second past window", &credential.Credential{AccessToken: "at", ExpiresAt: testNow.Add(window + time.Second)}, true},
		{"inside window", &credential.Credential{AccessToken: "at", ExpiresAt: testNow.Add(2 * time.Minute)}, false},
		{"expired", &credential.Credential{AccessToken: "at", ExpiresAt: testNow.Add(-time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValid(tt.cred, testNow, window))
		})
	}
}

func TestEnsureFresh_ValidTokenUntouched(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, &credential.Credential{
		UserID: "u1", AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: testNow.Add(time.Hour),
	})

	r := &fakeRefresher{}
	m := newTestManager(t, store, r)

	c, err := m.EnsureFresh(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "at1", c.AccessToken)
	assert.Zero(t, r.calls.Load())
}

func TestEnsureFresh_RefreshesExpiredToken(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, &credential.Credential{
		UserID: "u1", AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: testNow.Add(-time.Minute),
	})

	r := &fakeRefresher{grant: &Grant{AccessToken: "at2", ExpiresIn: time.Hour}}
	mt := metrics.New("test")
	m := newTestManager(t, store, r, WithMetrics(mt))

	c, err := m.EnsureFresh(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "at2", c.AccessToken)
	assert.Equal(t, "rt1", c.RefreshToken)
	assert.Equal(t, testNow.Add(time.Hour), c.ExpiresAt)

	stored, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "at2", stored.AccessToken)
	assert.Equal(t, "rt1", stored.RefreshToken)
	assert.Equal(t, testNow, stored.UpdatedAt)

	assert.InDelta(t, 1, testutil.ToFloat64(mt.TokenRefreshes.WithLabelValues(refreshSuccess)), 0)
}

func TestEnsureFresh_RefreshesInsideSafetyWindow(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, &credential.Credential{
		UserID: "u1", AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: testNow.Add(2 * time.Minute),
	})

	r := &fakeRefresher{grant: &Grant{AccessToken: "at2", ExpiresIn: time.Hour}}
	m := newTestManager(t, store, r)

	c, err := m.EnsureFresh(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "at2", c.AccessToken)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestEnsureFresh_NotConnected(t *testing.T) {
	store := credential.NewMemoryStore()
	m := newTestManager(t, store, &fakeRefresher{})

	_, err := m.EnsureFresh(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotConnected)

	seed(t, store, &credential.Credential{UserID: "u1", RefreshToken: "rt1"})

	_, err = m.EnsureFresh(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEnsureFresh_NoRefreshTokenClears(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, &credential.Credential{
		UserID: "u1", AccessToken: "at1", ExpiresAt: testNow.Add(-time.Minute),
	})

	r := &fakeRefresher{}
	m := newTestManager(t, store, r)

	_, err := m.EnsureFresh(context.Background(), "u1")
	require.ErrorIs(t, err, ErrRefreshUnavailable)
	assert.Zero(t, r.calls.Load())

	stored, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stored.HasAccessToken())
	assert.True(t, stored.ExpiresAt.IsZero())

	_, err = m.EnsureFresh(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEnsureFresh_NilRefresherKeepsRefreshToken(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, &credential.Credential{
		UserID: "u1", AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: testNow.Add(-time.Minute),
	})

	m := newTestManager(t, store, nil)

	_, err := m.EnsureFresh(context.Background(), "u1")
	require.ErrorIs(t, err, ErrRefreshUnavailable)

	stored, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stored.HasAccessToken())
	assert.Equal(t, "rt1", stored.RefreshToken)
}

func TestEnsureFresh_RejectedRefreshClearsAndFailsFast(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, &credential.Credential{
		UserID: "u1", AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: testNow.Add(-time.Minute),
	})

	r := &fakeRefresher{err: &RejectedError{StatusCode: 400, Code: "invalid_grant"}}
	m := newTestManager(t, store, r)

	_, err := m.EnsureFresh(context.Background(), "u1")
	require.ErrorIs(t, err, ErrRefreshFailed)

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "invalid_grant", rejected.Code)

	stored, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stored.HasAccessToken())
	assert.False(t, stored.HasRefreshToken())

	// The next call fails without contacting the provider.
	_, err = m.EnsureFresh(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestEnsureFresh_TransportFailureLeavesCredential(t *testing.T) {
	store := credential.NewMemoryStore()
	orig := &credential.Credential{
		UserID: "u1", AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: testNow.Add(-time.Minute),
	}
	seed(t, store, orig)

	r := &fakeRefresher{err: errors.New("dial tcp: connection refused")}
	m := newTestManager(t, store, r)

	_, err := m.EnsureFresh(context.Background(), "u1")
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.NotErrorIs(t, err, ErrRefreshFailed)

	stored, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "at1", stored.AccessToken)
	assert.Equal(t, "rt1", stored.RefreshToken)
}

func TestEnsureFresh_ConcurrentCallersRefreshOnce(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, &credential.Credential{
		UserID: "u1", AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: testNow.Add(-time.Minute),
	})

	r := &fakeRefresher{
		grant: &Grant{AccessToken: "at2", ExpiresIn: time.Hour},
		delay: 20 * time.Millisecond,
	}
	m := newTestManager(t, store, r)

	const callers = 10

	var wg sync.WaitGroup
	tokens := make([]string, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			c, err := m.EnsureFresh(context.Background(), "u1")
			if assert.NoError(t, err) {
				tokens[i] = c.AccessToken
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())

	for _, tok := range tokens {
		assert.Equal(t, "at2", tok)
	}

	assert.Zero(t, m.locks.size())
}

func TestRevoke(t *testing.T) {
	store := credential.NewMemoryStore()
	seed(t, store, &credential.Credential{
		UserID: "u1", AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: testNow.Add(time.Hour),
	})

	m := newTestManager(t, store, &fakeRefresher{})

	require.NoError(t, m.Revoke(context.Background(), "u1"))

	stored, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stored.HasAccessToken())
	assert.False(t, stored.HasRefreshToken())

	// Revoking a missing or already cleared user is a no-op.
	require.NoError(t, m.Revoke(context.Background(), "u1"))
	require.NoError(t, m.Revoke(context.Background(), "nobody"))
}

func TestConnect_KeepsRefreshTokenWhenGrantOmitsIt(t *testing.T) {
	store := credential.NewMemoryStore()
	m := newTestManager(t, store, &fakeRefresher{})

	c, err := m.Connect(context.Background(), "u1", &Grant{AccessToken: "at1", RefreshToken: "rt1", ExpiresIn: time.Hour})
	require.NoError(t, err)
	assert.True(t, c.Connected())
	assert.Equal(t, testNow.Add(time.Hour), c.ExpiresAt)

	c, err = m.Connect(context.Background(), "u1", &Grant{AccessToken: "at2", ExpiresIn: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, "at2", c.AccessToken)
	assert.Equal(t, "rt1", c.RefreshToken)

	_, err = m.Connect(context.Background(), "u1", &Grant{})
	require.Error(t, err)
}

func TestStatusAndDisconnect(t *testing.T) {
	store := credential.NewMemoryStore()
	m := newTestManager(t, store, &fakeRefresher{})
	ctx := context.Background()

	st, err := m.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, st.Connected)

	_, err = m.Connect(ctx, "u1", &Grant{AccessToken: "at1", RefreshToken: "rt1", ExpiresIn: time.Hour})
	require.NoError(t, err)

	st, err = m.Status(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.True(t, st.HasRefreshToken)
	assert.True(t, st.Valid)
	assert.Equal(t, testNow.Add(time.Hour), st.ExpiresAt)

	require.NoError(t, m.Disconnect(ctx, "u1"))

	c, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestUserLocks_SerializesPerUser(t *testing.T) {
	l := newUserLocks()

	unlockA := l.lock("a")
	unlockB := l.lock("b")
	assert.Equal(t, 2, l.size())

	acquired := make(chan struct{})
	done := make(chan struct{})

	go func() {
		unlock := l.lock("a")
		close(acquired)
		unlock()
		close(done)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same user acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	<-done
	unlockB()

	assert.Zero(t, l.size())
}

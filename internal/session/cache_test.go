package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for deterministic expiry tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func countingLogin(count *atomic.Int32) LoginFunc {
	return func(context.Context) (Handle, error) {
		count.Add(1)
		return Handle{
			Cookies: map[string]string{"sid": "sid-" + time.Now().Format(time.RFC3339Nano)},
			Email:   "parser@example.com",
		}, nil
	}
}

func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "session.json")
}

func TestAcquire_ReusesHandleWithinTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var logins atomic.Int32
	c := New(statePath(t), countingLogin(&logins), WithClock(clock.Now))

	h1, err := c.Acquire(context.Background())
	require.NoError(t, err)
	require.False(t, h1.IsZero())

	clock.Advance(127 * time.Hour)
	h2, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, int32(1), logins.Load())
}

func TestAcquire_RefreshesAfterTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var logins atomic.Int32
	c := New(statePath(t), countingLogin(&logins), WithClock(clock.Now))

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)

	clock.Advance(DefaultTTL + time.Minute)
	_, err = c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), logins.Load())
}

func TestAcquire_SingleLoginUnderConcurrency(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var logins atomic.Int32
	slowLogin := func(ctx context.Context) (Handle, error) {
		logins.Add(1)
		time.Sleep(20 * time.Millisecond)
		return Handle{Cookies: map[string]string{"sid": "one"}}, nil
	}
	c := New(statePath(t), slowLogin, WithClock(clock.Now))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.Acquire(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "one", h.Cookies["sid"])
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), logins.Load())
}

func TestAcquire_LoginFailureDoesNotPoison(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var fail atomic.Bool
	fail.Store(true)
	var logins atomic.Int32
	login := func(ctx context.Context) (Handle, error) {
		logins.Add(1)
		if fail.Load() {
			return Handle{}, errors.New("bad credentials")
		}
		return Handle{Cookies: map[string]string{"sid": "ok"}}, nil
	}
	c := New(statePath(t), login, WithClock(clock.Now))

	_, err := c.Acquire(context.Background())
	require.Error(t, err)
	var afe *AuthenticationFailedError
	require.True(t, errors.As(err, &afe))

	fail.Store(false)
	h, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Cookies["sid"])
	assert.Equal(t, int32(2), logins.Load())
}

func TestCache_StateSurvivesRestart(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	path := statePath(t)
	var logins atomic.Int32
	c := New(path, countingLogin(&logins), WithClock(clock.Now))

	h1, err := c.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), logins.Load())

	// Simulated restart: a new cache with a login that must not run.
	c2 := New(path, func(context.Context) (Handle, error) {
		t.Fatal("login called despite persisted fresh session")
		return Handle{}, nil
	}, WithClock(clock.Now))

	h2, err := c2.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCache_DiscardsBadPersistedState(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()

	writeState := func(t *testing.T, mutate func(*persistedState)) string {
		t.Helper()
		st := persistedState{
			Version:    stateVersion,
			Handle:     Handle{Cookies: map[string]string{"sid": "stale"}, Email: "parser@example.com"},
			AcquiredAt: clock.Now(),
			TTLSeconds: int64(DefaultTTL / time.Second),
		}
		mutate(&st)
		raw, err := json.Marshal(st)
		require.NoError(t, err)
		path := statePath(t)
		require.NoError(t, os.WriteFile(path, raw, 0o600))
		return path
	}

	tests := []struct {
		name    string
		path    func(t *testing.T) string
		account string
	}{
		{
			name: "version mismatch",
			path: func(t *testing.T) string {
				return writeState(t, func(st *persistedState) { st.Version = 99 })
			},
		},
		{
			name: "expired by recorded ttl",
			path: func(t *testing.T) string {
				return writeState(t, func(st *persistedState) {
					st.AcquiredAt = clock.Now().Add(-DefaultTTL - time.Hour)
				})
			},
		},
		{
			name: "account mismatch",
			path: func(t *testing.T) string {
				return writeState(t, func(*persistedState) {})
			},
			account: "other@example.com",
		},
		{
			name: "corrupt json",
			path: func(t *testing.T) string {
				path := statePath(t)
				require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
				return path
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var logins atomic.Int32
			opts := []Option{WithClock(clock.Now)}
			if tt.account != "" {
				opts = append(opts, WithAccount(tt.account))
			}
			c := New(tt.path(t), countingLogin(&logins), opts...)

			_, err := c.Acquire(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int32(1), logins.Load(), "stale state should force a login")
		})
	}
}

func TestInvalidate_DropsMemoryAndDisk(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	path := statePath(t)
	var logins atomic.Int32
	c := New(path, countingLogin(&logins), WithClock(clock.Now))

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)

	c.Invalidate()
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, err = c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), logins.Load())
}

// Package session caches an authenticated session handle for the enrichment
// source. Logins are expensive and rate limited, so the handle is reused for
// a long TTL, persisted across process restarts, and refreshed by at most one
// caller at a time.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL matches the enrichment source's observed session lifetime.
const DefaultTTL = 128 * time.Hour

// Handle is the opaque session state needed to act as a logged-in user.
type Handle struct {
	Cookies map[string]string `json:"cookies"`
	Email   string            `json:"email,omitempty"`
}

// IsZero reports whether the handle carries no session state.
func (h Handle) IsZero() bool { return len(h.Cookies) == 0 }

// LoginFunc performs a fresh authentication. It may block.
type LoginFunc func(ctx context.Context) (Handle, error)

// AuthenticationFailedError wraps a failed login attempt. The cached state is
// left untouched so a later attempt can succeed.
type AuthenticationFailedError struct {
	Err error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("session: authentication failed: %v", e.Err)
}

func (e *AuthenticationFailedError) Unwrap() error { return e.Err }

// Cache owns the session handle. It is an explicit dependency of its
// callers, never ambient state, so tests can inject isolated instances with
// a fake clock and login function.
type Cache struct {
	path    string
	ttl     time.Duration
	account string
	login   LoginFunc
	now     func() time.Time

	sf singleflight.Group

	mu         sync.Mutex
	handle     Handle
	acquiredAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithAccount binds the cache to one account; persisted state saved under a
// different account email is discarded at load.
func WithAccount(email string) Option {
	return func(c *Cache) { c.account = email }
}

// New creates a Cache persisting to path. Any valid persisted state is
// loaded eagerly; stale, corrupt, or mismatched state is ignored and the
// first Acquire triggers a fresh login.
func New(path string, login LoginFunc, opts ...Option) *Cache {
	c := &Cache{
		path:  path,
		ttl:   DefaultTTL,
		login: login,
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if st, ok := c.loadState(); ok {
		c.handle = st.Handle
		c.acquiredAt = st.AcquiredAt
	}
	return c
}

// Acquire returns a valid session handle, reusing the cached one while it is
// within its TTL. On expiry exactly one login runs regardless of how many
// callers arrive concurrently; the others wait for its result.
func (c *Cache) Acquire(ctx context.Context) (Handle, error) {
	c.mu.Lock()
	if c.fresh() {
		h := c.handle
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("login", func() (any, error) {
		// A waiter may arrive after the winner already refreshed.
		c.mu.Lock()
		if c.fresh() {
			h := c.handle
			c.mu.Unlock()
			return h, nil
		}
		c.mu.Unlock()

		h, err := c.login(ctx)
		if err != nil {
			return Handle{}, &AuthenticationFailedError{Err: err}
		}

		c.mu.Lock()
		c.handle = h
		c.acquiredAt = c.now()
		at := c.acquiredAt
		c.mu.Unlock()

		if err := c.saveState(h, at); err != nil {
			zap.L().Warn("session: persist failed", zap.String("path", c.path), zap.Error(err))
		}
		return h, nil
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

// Invalidate drops the cached handle in memory and on disk. Used when the
// enrichment source rejects a session the cache still considers fresh.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.handle = Handle{}
	c.acquiredAt = time.Time{}
	c.mu.Unlock()
	c.removeState()
}

// fresh must be called with c.mu held.
func (c *Cache) fresh() bool {
	return !c.handle.IsZero() && c.now().Sub(c.acquiredAt) < c.ttl
}

package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// stateVersion guards the on-disk format. Bump on incompatible change; old
// versions are simply discarded (a re-login is cheap relative to a crash).
const stateVersion = 1

// persistedState is the versioned on-disk record of a session.
type persistedState struct {
	Version    int       `json:"version"`
	Handle     Handle    `json:"handle"`
	AcquiredAt time.Time `json:"acquired_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

// loadState reads the persisted session, returning ok=false for anything
// unusable: missing file, decode failure, version or account mismatch, or a
// state already past its recorded TTL.
func (c *Cache) loadState() (persistedState, bool) {
	var st persistedState
	if c.path == "" {
		return st, false
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return st, false
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		zap.L().Warn("session: discarding corrupt state file", zap.String("path", c.path), zap.Error(err))
		return st, false
	}
	if st.Version != stateVersion {
		return st, false
	}
	if c.account != "" && st.Handle.Email != c.account {
		return st, false
	}
	if c.now().Sub(st.AcquiredAt) >= time.Duration(st.TTLSeconds)*time.Second {
		return st, false
	}
	return st, true
}

// saveState writes atomically: temp file in the same directory, then rename.
func (c *Cache) saveState(h Handle, acquiredAt time.Time) error {
	if c.path == "" {
		return nil
	}
	st := persistedState{
		Version:    stateVersion,
		Handle:     h,
		AcquiredAt: acquiredAt,
		TTLSeconds: int64(c.ttl / time.Second),
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "session: marshal state")
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".session-*")
	if err != nil {
		return eris.Wrap(err, "session: create temp state")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return eris.Wrap(err, "session: write state")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrap(err, "session: close state")
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrap(err, "session: rename state")
	}
	return nil
}

func (c *Cache) removeState() {
	if c.path == "" {
		return
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("session: remove state failed", zap.String("path", c.path), zap.Error(err))
	}
}

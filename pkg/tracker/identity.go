// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package tracker

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// Storage keys. The names are deliberately opaque so they do not collide
// with or advertise themselves to the embedding application.
const (
	keyVisitorID    = "x7f3q9p2"
	keySessionID    = "k5m8r1t4"
	keyLastActivity = "n2j6s9v3"
	keySessionStart = "b4w8q5z1"
)

// DefaultSessionDuration is the inactivity window after which a new session
// id is issued.
const DefaultSessionDuration = time.Hour

// ErrStorageUnavailable is returned by Storage implementations that cannot
// read or write at all.
var ErrStorageUnavailable = errors.New("tracker: storage unavailable")

// Storage persists identity values. Get returns "" with a nil error for
// missing keys.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get implements Storage.
func (m *MemoryStorage) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

// Set implements Storage.
func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Identity resolves the visitor id and the rolling session id.
//
// Values are stored base64 encoded. If the backing storage fails, Identity
// switches to an in-memory store for the rest of its lifetime, so ids stay
// stable for the process but are not persisted.
type Identity struct {
	mu              sync.Mutex
	storage         Storage
	degraded        bool
	clock           quartz.Clock
	sessionDuration time.Duration
	logger          zerolog.Logger
}

// NewIdentity creates a resolver over storage. A nil storage behaves as an
// unavailable one.
func NewIdentity(storage Storage, clock quartz.Clock, sessionDuration time.Duration) *Identity {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if sessionDuration <= 0 {
		sessionDuration = DefaultSessionDuration
	}
	id := &Identity{storage: storage, clock: clock, sessionDuration: sessionDuration, logger: zerolog.Nop()}
	if storage == nil {
		id.degrade(ErrStorageUnavailable)
	}
	return id
}

// SetLogger sets the logger used to report storage degradation.
func (i *Identity) SetLogger(l zerolog.Logger) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.logger = l
}

// Degraded reports whether identity fell back to memory-only storage.
func (i *Identity) Degraded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.degraded
}

// VisitorID returns the persisted visitor id, creating it on first use.
func (i *Identity) VisitorID() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if id := i.get(keyVisitorID); id != "" {
		return id
	}
	id := newID("vis", i.clock.Now())
	i.set(keyVisitorID, id)
	return id
}

// SessionID returns the current session id and extends it. A new id is
// issued, and renewed is true, when none exists or the previous one has been
// inactive for longer than the session duration.
func (i *Identity) SessionID() (id string, renewed bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.clock.Now()
	id = i.get(keySessionID)
	last, hasLast := i.getMillis(keyLastActivity)

	if id == "" || !hasLast || now.Sub(last) > i.sessionDuration {
		id = newID("ses", now)
		renewed = true
		i.set(keySessionID, id)
		i.setMillis(keySessionStart, now)
	}
	i.setMillis(keyLastActivity, now)
	return id, renewed
}

// CurrentSessionID returns the stored session id without extending it.
func (i *Identity) CurrentSessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.get(keySessionID)
}

// SessionStart returns when the current session began. Without a stored
// value the current time is returned.
func (i *Identity) SessionStart() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	if start, ok := i.getMillis(keySessionStart); ok {
		return start
	}
	return i.clock.Now()
}

// SessionElapsed is the time since SessionStart.
func (i *Identity) SessionElapsed() time.Duration {
	return i.clock.Since(i.SessionStart())
}

func (i *Identity) degrade(err error) {
	if i.degraded {
		return
	}
	i.logger.Warn().Err(err).Msg("Identity storage unavailable, using memory")
	i.degraded = true
	i.storage = NewMemoryStorage()
}

func (i *Identity) get(key string) string {
	raw, err := i.storage.Get(key)
	if err != nil {
		i.degrade(err)
		raw, _ = i.storage.Get(key)
	}
	if raw == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return raw
	}
	return string(decoded)
}

func (i *Identity) set(key, value string) {
	encoded := base64.StdEncoding.EncodeToString([]byte(value))
	if err := i.storage.Set(key, encoded); err != nil {
		i.degrade(err)
		_ = i.storage.Set(key, encoded)
	}
}

func (i *Identity) getMillis(key string) (time.Time, bool) {
	ms, err := strconv.ParseInt(i.get(key), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (i *Identity) setMillis(key string, t time.Time) {
	i.set(key, strconv.FormatInt(t.UnixMilli(), 10))
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newID returns prefix_<9 base36 chars>_<unix ms>.
func newID(prefix string, now time.Time) string {
	var buf [9]byte
	max := big.NewInt(int64(len(idAlphabet)))
	for n := range buf {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms.
			v = big.NewInt(now.UnixNano() % int64(len(idAlphabet)))
		}
		buf[n] = idAlphabet[v.Int64()]
	}
	return prefix + "_" + string(buf[:]) + "_" + strconv.FormatInt(now.UnixMilli(), 10)
}

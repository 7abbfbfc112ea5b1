// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/metrics"
)

// Errors returned by the WAL.
var (
	ErrWALClosed     = errors.New("wal is closed")
	ErrNilEvent      = errors.New("event is nil")
	ErrEmptyEntryID  = errors.New("entry id is empty")
	ErrEntryNotFound = errors.New("entry not found")
)

const prefixPending = "pending:"

// Config configures the WAL and its retry loop.
type Config struct {
	Path string
	// InMemory keeps entries in memory only. Tests use it.
	InMemory      bool
	SyncWrites    bool
	EntryTTL      time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
}

// ConfigFrom maps the application journal config.
func ConfigFrom(c config.JournalConfig) Config {
	return Config{
		Path:          c.Path,
		SyncWrites:    true,
		EntryTTL:      c.EntryTTL,
		RetryInterval: c.RetryInterval,
		MaxRetries:    c.MaxRetries,
		RetryBackoff:  c.BaseBackoff,
	}
}

// Entry is one journaled write.
type Entry struct {
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// UnmarshalPayload deserializes the payload into v.
func (e *Entry) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Stats contains WAL counters.
type Stats struct {
	PendingCount  int64
	TotalWrites   int64
	TotalConfirms int64
	TotalRetries  int64
}

// BadgerWAL is the BadgerDB-backed journal.
type BadgerWAL struct {
	db     *badger.DB
	config Config
	clock  quartz.Clock

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64
	totalRetries  atomic.Int64
	pending       atomic.Int64

	mu     sync.RWMutex
	closed bool

	// processingEntries holds IDs claimed by a replayer so the startup
	// recovery and the retry loop never replay the same entry at once.
	processingEntries sync.Map
}

// Option configures a BadgerWAL.
type Option func(*BadgerWAL)

// WithClock overrides the clock used for entry timestamps.
func WithClock(c quartz.Clock) Option {
	return func(w *BadgerWAL) { w.clock = c }
}

// Open opens (or creates) the WAL.
func Open(cfg Config, opts ...Option) (*BadgerWAL, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("wal path is required")
	}

	bopts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = cfg.SyncWrites
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	w := &BadgerWAL{db: db, config: cfg, clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(w)
	}

	n, err := w.countPending()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	w.pending.Store(n)
	metrics.JournalPending.Set(float64(n))

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Int64("pending", n).
		Msg("WAL opened")
	return w, nil
}

func (w *BadgerWAL) checkNotClosed() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWALClosed
	}
	return nil
}

// Write persists an event and returns its entry ID.
func (w *BadgerWAL) Write(_ context.Context, event interface{}) (string, error) {
	if err := w.checkNotClosed(); err != nil {
		return "", err
	}
	if event == nil {
		return "", ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		Payload:   payload,
		CreatedAt: w.clock.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	err = w.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(prefixPending+entry.ID), data)
		if w.config.EntryTTL > 0 {
			e = e.WithTTL(w.config.EntryTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("write to BadgerDB: %w", err)
	}

	w.totalWrites.Add(1)
	metrics.JournalPending.Set(float64(w.pending.Add(1)))
	return entry.ID, nil
}

// Confirm removes an entry whose write has reached the store.
func (w *BadgerWAL) Confirm(ctx context.Context, entryID string) error {
	if err := w.DeleteEntry(ctx, entryID); err != nil {
		return err
	}
	w.totalConfirms.Add(1)
	return nil
}

// DeleteEntry permanently removes an entry.
func (w *BadgerWAL) DeleteEntry(_ context.Context, entryID string) error {
	if err := w.checkNotClosed(); err != nil {
		return err
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	key := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		} else if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	metrics.JournalPending.Set(float64(w.pending.Add(-1)))
	return nil
}

// GetPending returns every pending entry from a consistent snapshot.
func (w *BadgerWAL) GetPending(ctx context.Context) ([]*Entry, error) {
	if err := w.checkNotClosed(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("WAL failed to unmarshal entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// UpdateAttempt records a failed replay of an entry.
func (w *BadgerWAL) UpdateAttempt(_ context.Context, entryID, lastError string) error {
	if err := w.checkNotClosed(); err != nil {
		return err
	}

	key := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		entry.Attempts++
		entry.LastAttemptAt = w.clock.Now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}

		e := badger.NewEntry(key, data)
		if w.config.EntryTTL > 0 {
			if remaining := w.config.EntryTTL - w.clock.Since(entry.CreatedAt); remaining > 0 {
				e = e.WithTTL(remaining)
			}
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return err
	}
	w.totalRetries.Add(1)
	return nil
}

// TryClaimEntry marks an entry as being processed. It returns false when
// another goroutine already holds it.
func (w *BadgerWAL) TryClaimEntry(entryID string) bool {
	_, loaded := w.processingEntries.LoadOrStore(entryID, w.clock.Now())
	return !loaded
}

// ReleaseEntry releases a claim taken with TryClaimEntry.
func (w *BadgerWAL) ReleaseEntry(entryID string) {
	w.processingEntries.Delete(entryID)
}

// Stats returns WAL counters.
func (w *BadgerWAL) Stats() Stats {
	return Stats{
		PendingCount:  w.pending.Load(),
		TotalWrites:   w.totalWrites.Load(),
		TotalConfirms: w.totalConfirms.Load(),
		TotalRetries:  w.totalRetries.Load(),
	}
}

// Config returns the WAL configuration.
func (w *BadgerWAL) Config() Config {
	return w.config
}

func (w *BadgerWAL) countPending() (int64, error) {
	var n int64
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return n, nil
}

// Close flushes and closes the WAL. Further calls return ErrWALClosed.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("WAL closed")
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/glossa/internal/model"
)

// Saver is the write side of a storage.Store.
type Saver interface {
	Save(ctx context.Context, key string, sessions []model.Session) error
}

// SnapshotFunc returns the current session list of a document.
type SnapshotFunc func() []model.Session

// Config holds the timing of a Sync.
type Config struct {
	// Debounce is the quiet period after the last mutation (default: 300ms)
	Debounce time.Duration
	// MaxWait bounds the delay of a save under continuous mutation (default: 2s, 0 = unbounded)
	MaxWait time.Duration
	// MaxRetryDelay caps the backoff after failed saves (default: 30s)
	MaxRetryDelay time.Duration
	// SaveTimeout bounds each background save (default: 10s)
	SaveTimeout time.Duration
}

// DefaultConfig returns the default timing.
func DefaultConfig() Config {
	return Config{
		Debounce:      300 * time.Millisecond,
		MaxWait:       2 * time.Second,
		MaxRetryDelay: 30 * time.Second,
		SaveTimeout:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.MaxWait < 0 {
		c.MaxWait = 0
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	return c
}

// keyState tracks one document key. Fields other than sem are guarded by
// Sync.mu.
type keyState struct {
	sem chan struct{} // held while a save for the key runs

	snapshot     SnapshotFunc
	timer        *time.Timer
	gen          uint64
	firstPending time.Time
	failures     int
}

// Sync debounces and serializes saves per document key.
type Sync struct {
	saver  Saver
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	keys   map[string]*keyState
	closed bool
}

// New creates a Sync writing through saver.
func New(saver Saver, cfg Config, logger zerolog.Logger) *Sync {
	return &Sync{
		saver:  saver,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "persist").Logger(),
		keys:   make(map[string]*keyState),
	}
}

func (s *Sync) stateLocked(key string) *keyState {
	ks, ok := s.keys[key]
	if !ok {
		ks = &keyState{sem: make(chan struct{}, 1)}
		s.keys[key] = ks
	}
	return ks
}

// =============================================================================
// SCHEDULING
// =============================================================================

// Schedule requests a save of key. The latest snapshot wins.
func (s *Sync) Schedule(key string, snapshot SnapshotFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug().Str("key", key).Msg("save scheduled after close, ignoring")
		return
	}

	ks := s.stateLocked(key)
	ks.snapshot = snapshot
	s.armLocked(key, ks, s.cfg.Debounce)
}

// armLocked (re)starts the key's timer. gen invalidates any timer that
// already fired but has not taken the lock yet.
func (s *Sync) armLocked(key string, ks *keyState, delay time.Duration) {
	now := time.Now()
	if ks.timer != nil {
		ks.timer.Stop()
	} else {
		ks.firstPending = now
	}

	if ks.failures > 0 {
		if backoff := s.backoff(ks.failures); backoff > delay {
			delay = backoff
		}
	}
	if s.cfg.MaxWait > 0 && ks.failures == 0 {
		if deadline := ks.firstPending.Add(s.cfg.MaxWait); now.Add(delay).After(deadline) {
			delay = deadline.Sub(now)
			if delay < 0 {
				delay = 0
			}
		}
	}

	ks.gen++
	gen := ks.gen
	ks.timer = time.AfterFunc(delay, func() { s.fire(key, gen) })
}

// backoff returns debounce * 2^failures capped at MaxRetryDelay.
func (s *Sync) backoff(failures int) time.Duration {
	delay := s.cfg.Debounce
	for i := 0; i < failures && delay < s.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > s.cfg.MaxRetryDelay {
		delay = s.cfg.MaxRetryDelay
	}
	return delay
}

func (s *Sync) fire(key string, gen uint64) {
	snap, ks := s.take(key, gen)
	if snap == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	defer cancel()
	_ = s.run(ctx, key, ks, snap)
}

// take claims the pending snapshot. gen 0 claims regardless of timer.
func (s *Sync) take(key string, gen uint64) (SnapshotFunc, *keyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keys[key]
	if !ok || (gen != 0 && ks.gen != gen) {
		return nil, ks
	}
	if ks.timer != nil {
		ks.timer.Stop()
		ks.timer = nil
	}
	ks.gen++
	snap := ks.snapshot
	ks.snapshot = nil
	return snap, ks
}

// run performs one save of key while holding the key's semaphore.
func (s *Sync) run(ctx context.Context, key string, ks *keyState, snap SnapshotFunc) error {
	select {
	case ks.sem <- struct{}{}:
	case <-ctx.Done():
		s.requeue(key, ks, snap)
		return ctx.Err()
	}

	sessions := snap()
	err := s.saver.Save(ctx, key, sessions)
	<-ks.sem

	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to save sessions, will retry")
		s.requeue(key, ks, snap)
		return err
	}

	s.mu.Lock()
	ks.failures = 0
	s.mu.Unlock()
	s.logger.Debug().Str("key", key).Int("sessions", len(sessions)).Msg("sessions saved")
	return nil
}

// requeue schedules a retry unless a newer snapshot is already pending.
func (s *Sync) requeue(key string, ks *keyState, snap SnapshotFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks.failures++
	if s.closed {
		return
	}
	if ks.snapshot == nil {
		ks.snapshot = snap
	}
	s.armLocked(key, ks, s.cfg.Debounce)
}

// =============================================================================
// FLUSHING
// =============================================================================

// Flush saves key now if a save is pending, and waits for any in-flight
// save of key to finish.
func (s *Sync) Flush(ctx context.Context, key string) error {
	snap, ks := s.take(key, 0)
	if ks == nil {
		return nil
	}
	if snap == nil {
		// Wait out an in-flight save.
		select {
		case ks.sem <- struct{}{}:
			<-ks.sem
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.run(ctx, key, ks, snap)
}

// FlushAll flushes every key concurrently and returns the first error.
func (s *Sync) FlushAll(ctx context.Context) error {
	var g errgroup.Group
	for _, key := range s.Keys() {
		g.Go(func() error {
			return s.Flush(ctx, key)
		})
	}
	return g.Wait()
}

// Keys returns every key the Sync has seen, sorted.
func (s *Sync) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pending reports whether key has a save scheduled.
func (s *Sync) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keys[key]
	return ok && ks.snapshot != nil
}

// Close flushes every key and stops accepting new schedules.
func (s *Sync) Close(ctx context.Context) error {
	err := s.FlushAll(ctx)
	s.mu.Lock()
	s.closed = true
	for _, ks := range s.keys {
		if ks.timer != nil {
			ks.timer.Stop()
			ks.timer = nil
		}
	}
	s.mu.Unlock()
	return err
}

package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrUnavailable is returned by [ResilientStore] while the archive backend is
// considered down and calls are being rejected without touching it.
var ErrUnavailable = errors.New("store: archive unavailable")

// BreakerConfig tunes the failure handling of a [ResilientStore].
type BreakerConfig struct {
	// MaxFailures is the number of consecutive backend failures before the
	// archive is declared down. Default: 5.
	MaxFailures int

	// RetryAfter is how long the archive stays down before a probe call is
	// let through. Default: 30s.
	RetryAfter time.Duration

	// Probes is the number of consecutive successful probe calls needed to
	// declare the backend healthy again. Default: 3.
	Probes int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 3
	}
	return c
}

// breakerState is the health of the wrapped backend.
type breakerState int

const (
	backendHealthy breakerState = iota
	backendDown
	backendProbing
)

func (s breakerState) String() string {
	switch s {
	case backendHealthy:
		return "healthy"
	case backendDown:
		return "down"
	case backendProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// ResilientStore wraps a [Store] so that a dead archive backend cannot stall
// recognition sessions. After MaxFailures consecutive failures every call is
// rejected immediately with [ErrUnavailable]; once RetryAfter has elapsed,
// probe calls are let through and the backend is declared healthy again after
// Probes consecutive successes. A failed probe puts the archive back down.
type ResilientStore struct {
	inner Store
	cfg   BreakerConfig
	log   *slog.Logger

	mu        sync.Mutex
	state     breakerState
	failures  int
	successes int
	downSince time.Time
}

var _ Store = (*ResilientStore)(nil)

// NewResilientStore wraps inner with failure tracking. A nil logger defaults
// to slog.Default().
func NewResilientStore(inner Store, cfg BreakerConfig, log *slog.Logger) *ResilientStore {
	if log == nil {
		log = slog.Default()
	}
	return &ResilientStore{
		inner: inner,
		cfg:   cfg.withDefaults(),
		log:   log,
	}
}

// State reports the current backend health, accounting for an elapsed retry
// window.
func (s *ResilientStore) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == backendDown && time.Since(s.downSince) >= s.cfg.RetryAfter {
		return backendProbing.String()
	}
	return s.state.String()
}

func (s *ResilientStore) Save(ctx context.Context, rec *Record) error {
	return s.call(func() error { return s.inner.Save(ctx, rec) })
}

func (s *ResilientStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec *Record
	err := s.call(func() error {
		var err error
		rec, err = s.inner.Get(ctx, id)
		return err
	})
	return rec, err
}

func (s *ResilientStore) List(ctx context.Context, limit int) ([]Record, error) {
	var recs []Record
	err := s.call(func() error {
		var err error
		recs, err = s.inner.List(ctx, limit)
		return err
	})
	return recs, err
}

func (s *ResilientStore) Delete(ctx context.Context, id string) error {
	return s.call(func() error { return s.inner.Delete(ctx, id) })
}

// call forwards one backend operation through the failure accounting.
func (s *ResilientStore) call(fn func() error) error {
	if err := s.admit(); err != nil {
		return err
	}
	err := fn()
	s.record(err)
	return err
}

// admit decides whether a call may reach the backend.
func (s *ResilientStore) admit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == backendDown {
		if time.Since(s.downSince) < s.cfg.RetryAfter {
			return ErrUnavailable
		}
		s.state = backendProbing
		s.successes = 0
		s.log.Info("archive probe window opened")
	}
	return nil
}

// record updates health accounting with the outcome of a backend call.
func (s *ResilientStore) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Expected lookup misses say nothing about backend health.
	if errors.Is(err, ErrNotFound) {
		err = nil
	}

	if err != nil {
		s.failures++
		switch s.state {
		case backendProbing:
			s.state = backendDown
			s.downSince = time.Now()
			s.log.Warn("archive probe failed, backend still down")
		case backendHealthy:
			if s.failures >= s.cfg.MaxFailures {
				s.state = backendDown
				s.downSince = time.Now()
				s.log.Warn("archive declared down",
					"consecutive_failures", s.failures)
			}
		}
		return
	}

	switch s.state {
	case backendProbing:
		s.successes++
		if s.successes >= s.cfg.Probes {
			s.state = backendHealthy
			s.failures = 0
			s.log.Info("archive healthy again")
		}
	case backendHealthy:
		s.failures = 0
	}
}

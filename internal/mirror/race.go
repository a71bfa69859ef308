package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
)

// ErrUnavailable is returned when every backend (or every tier) failed.
var ErrUnavailable = errors.New("mirror: no backend produced a usable result")

// Mode selects how a race issues its attempts.
type Mode string

const (
	ModeConcurrent Mode = "concurrent"
	ModeSequential Mode = "sequential"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeConcurrent, "":
		return ModeConcurrent, nil
	case ModeSequential:
		return ModeSequential, nil
	}
	return "", fmt.Errorf("mirror: unknown race mode %q", s)
}

// AttemptFunc runs one logical request against one backend. It returns the
// normalized result and whether it is usable. It must not score itself.
type AttemptFunc[T any] func(ctx context.Context, b Backend) (T, bool)

// Coordinator owns the worker pool that runs race attempts. Attempts that
// lose a race keep running on the pool until they finish and get scored.
type Coordinator struct {
	pool      *ants.Pool
	mode      Mode
	scores    ScoreStore
	observers []Observer
}

func NewCoordinator(workers int, mode Mode, scores ScoreStore, observers ...Observer) (*Coordinator, error) {
	if workers <= 0 {
		workers = 64
	}
	pool, err := ants.NewPool(workers,
		ants.WithMaxBlockingTasks(workers*16),
		ants.WithPanicHandler(func(p interface{}) {
			log.WithField("panic", p).Error("mirror: race worker panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("mirror: create race pool: %w", err)
	}
	return &Coordinator{
		pool:      pool,
		mode:      mode,
		scores:    scores,
		observers: observers,
	}, nil
}

// Close waits briefly for background attempts, then releases the pool.
func (c *Coordinator) Close(timeout time.Duration) error {
	return c.pool.ReleaseTimeout(timeout)
}

// Running reports how many attempts are currently executing.
func (c *Coordinator) Running() int {
	return c.pool.Running()
}

// Race runs attempt against every backend in the given order and returns the
// first usable result in completion order, together with its backend.
// In sequential mode the backends are tried one by one instead.
func Race[T any](ctx context.Context, c *Coordinator, role Role, backends []Backend, attempt AttemptFunc[T]) (T, Backend, error) {
	var zero T
	if len(backends) == 0 {
		return zero, Backend{}, ErrUnavailable
	}

	raceID := uuid.NewString()
	if c.mode == ModeSequential {
		return raceSequential(ctx, c, raceID, role, backends, attempt)
	}

	type result struct {
		value   T
		backend Backend
		ok      bool
	}
	// Buffered so losers never block after the caller has returned.
	results := make(chan result, len(backends))
	detached := context.WithoutCancel(ctx)

	go func() {
		for _, b := range backends {
			b := b
			err := c.pool.Submit(func() {
				v, ok := runAttempt(detached, c, raceID, role, b, attempt)
				results <- result{value: v, backend: b, ok: ok}
			})
			if err != nil {
				log.WithFields(log.Fields{"race": raceID, "backend": b.BaseURL, "error": err}).
					Warn("mirror: attempt not scheduled")
				results <- result{backend: b}
			}
		}
	}()

	for range backends {
		select {
		case r := <-results:
			if r.ok {
				log.WithFields(log.Fields{"race": raceID, "role": role, "backend": r.backend.BaseURL}).
					Debug("mirror: race won")
				return r.value, r.backend, nil
			}
		case <-ctx.Done():
			return zero, Backend{}, ctx.Err()
		}
	}
	return zero, Backend{}, ErrUnavailable
}

func raceSequential[T any](ctx context.Context, c *Coordinator, raceID string, role Role, backends []Backend, attempt AttemptFunc[T]) (T, Backend, error) {
	var zero T
	for _, b := range backends {
		if err := ctx.Err(); err != nil {
			return zero, Backend{}, err
		}
		if v, ok := runAttempt(ctx, c, raceID, role, b, attempt); ok {
			return v, b, nil
		}
	}
	return zero, Backend{}, ErrUnavailable
}

// runAttempt times one attempt and scores it exactly once, panics included.
func runAttempt[T any](ctx context.Context, c *Coordinator, raceID string, role Role, b Backend, attempt AttemptFunc[T]) (v T, ok bool) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(log.Fields{"race": raceID, "backend": b.BaseURL, "panic": p}).
				Error("mirror: attempt panicked")
			var zero T
			v, ok = zero, false
		}
		c.record(raceID, role, b, ok, time.Since(start))
	}()
	return attempt(ctx, b)
}

func (c *Coordinator) record(raceID string, role Role, b Backend, ok bool, elapsed time.Duration) {
	score := c.scores.RecordOutcome(b, ok, elapsed)
	o := Outcome{
		RaceID:  raceID,
		Backend: b.BaseURL,
		Role:    role,
		Success: ok,
		Elapsed: elapsed,
		Score:   score,
	}
	for _, obs := range c.observers {
		obs.Observe(o)
	}
}

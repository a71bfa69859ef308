package mirror

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	successReward  = 3
	slowPenalty    = 1
	failurePenalty = 2

	DefaultSlowThreshold = 2 * time.Second
)

// ScoreStore keeps the per-backend reliability score used to order attempts.
type ScoreStore interface {
	Rank(backends []Backend) []Backend
	RecordOutcome(b Backend, success bool, elapsed time.Duration) int64
	Score(b Backend) int64
	Snapshot() map[string]int64
}

// MemoryScores is a process-local ScoreStore. Scores start at 0 and are
// never persisted.
type MemoryScores struct {
	scores        sync.Map // base URL -> *atomic.Int64
	slowThreshold time.Duration
}

func NewMemoryScores(slowThreshold time.Duration) *MemoryScores {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowThreshold
	}
	return &MemoryScores{slowThreshold: slowThreshold}
}

func (m *MemoryScores) counter(b Backend) *atomic.Int64 {
	if v, ok := m.scores.Load(b.BaseURL); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.scores.LoadOrStore(b.BaseURL, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// RecordOutcome applies one attempt's delta and returns the new score.
func (m *MemoryScores) RecordOutcome(b Backend, success bool, elapsed time.Duration) int64 {
	return m.counter(b).Add(scoreDelta(success, elapsed, m.slowThreshold))
}

func scoreDelta(success bool, elapsed, slowThreshold time.Duration) int64 {
	if !success {
		return -failurePenalty
	}
	if elapsed > slowThreshold {
		return successReward - slowPenalty
	}
	return successReward
}

func (m *MemoryScores) Score(b Backend) int64 {
	if v, ok := m.scores.Load(b.BaseURL); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Rank orders backends by descending score. Ties keep their input order.
func (m *MemoryScores) Rank(backends []Backend) []Backend {
	scores := make(map[string]int64, len(backends))
	for _, b := range backends {
		scores[b.BaseURL] = m.Score(b)
	}

	out := slices.Clone(backends)
	slices.SortStableFunc(out, func(a, b Backend) int {
		sa, sb := scores[a.BaseURL], scores[b.BaseURL]
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return 0
	})
	return out
}

// Snapshot returns the scores of every backend that has been attempted.
func (m *MemoryScores) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	m.scores.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Package memory implements the episodic feedback store: an append-only
// log of (action, state, outcome) episodes with aggregate and
// recency-windowed success/failure queries. Episodes are never mutated
// or deleted, only pruned oldest-first under the retention cap.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// NeutralFailureRate is returned when a (component, kind) pair has fewer
// episodes than the minimum sample size: a single data point must not
// swing prioritization.
const NeutralFailureRate = 0.5

// Store is the episodic memory contract. All query methods are
// read-only and side-effect free over the append-only log.
type Store interface {
	// Record appends one episode.
	Record(ctx context.Context, ep models.Episode) error
	// RecentFailureRate reports the failure ratio for the given
	// (component, kind) pair among the most recent episodes, together
	// with the matching sample count. Below the minimum sample size the
	// neutral default is returned.
	RecentFailureRate(ctx context.Context, component string, kind models.TransformKind) (rate float64, samples int, err error)
	// GlobalHeuristics aggregates success statistics per kind over the
	// entire history, giving long-run signal independent of recent noise.
	GlobalHeuristics(ctx context.Context) (map[models.TransformKind]models.Heuristic, error)
	// RecentFailures returns up to limit most recent failed episodes for
	// the pair, newest first, for use as generation failure context.
	RecentFailures(ctx context.Context, component string, kind models.TransformKind, limit int) ([]models.Episode, error)
	// Count returns the number of retained episodes.
	Count(ctx context.Context) (int, error)
	// Close releases backend resources.
	Close()
}

// Options tunes the statistical windows shared by all backends.
type Options struct {
	MaxEpisodes   int
	MinSampleSize int
	RecencyWindow int
}

// InMemory is the default, ephemeral backend.
type InMemory struct {
	log  *zap.Logger
	opts Options

	mu       sync.RWMutex
	episodes []models.Episode // oldest first
}

var _ Store = (*InMemory)(nil)

// NewInMemory builds the default backend.
func NewInMemory(logger *zap.Logger, opts Options) *InMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemory{
		log:  logger.Named("EpisodicMemory"),
		opts: opts,
	}
}

// Record appends the episode, pruning the oldest entries beyond the cap.
func (m *InMemory) Record(_ context.Context, ep models.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.episodes = append(m.episodes, ep)
	if len(m.episodes) > m.opts.MaxEpisodes {
		overflow := len(m.episodes) - m.opts.MaxEpisodes
		m.episodes = append([]models.Episode(nil), m.episodes[overflow:]...)
		m.log.Debug("Pruned oldest episodes", zap.Int("pruned", overflow))
	}

	m.log.Debug("Episode recorded",
		zap.String("component", ep.Action.Component),
		zap.String("kind", string(ep.Action.Kind)),
		zap.String("outcome", string(ep.Outcome)),
	)
	return nil
}

// RecentFailureRate scans the recency window newest-first.
func (m *InMemory) RecentFailureRate(_ context.Context, component string, kind models.TransformKind) (float64, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched, failed int
	scanned := 0
	for i := len(m.episodes) - 1; i >= 0 && scanned < m.opts.RecencyWindow; i-- {
		scanned++
		ep := m.episodes[i]
		if ep.Action.Component != component || ep.Action.Kind != kind {
			continue
		}
		matched++
		if ep.Outcome.Failed() {
			failed++
		}
	}

	if matched < m.opts.MinSampleSize {
		return NeutralFailureRate, matched, nil
	}
	return float64(failed) / float64(matched), matched, nil
}

// GlobalHeuristics aggregates over the whole retained history.
func (m *InMemory) GlobalHeuristics(_ context.Context) (map[models.TransformKind]models.Heuristic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[models.TransformKind]models.Heuristic)
	for _, ep := range m.episodes {
		h := out[ep.Action.Kind]
		h.Attempts++
		if !ep.Outcome.Failed() {
			h.Successes++
		}
		out[ep.Action.Kind] = h
	}
	for kind, h := range out {
		h.SuccessRate = float64(h.Successes) / float64(h.Attempts)
		out[kind] = h
	}
	return out, nil
}

// RecentFailures lists failed episodes for the pair, newest first.
func (m *InMemory) RecentFailures(_ context.Context, component string, kind models.TransformKind, limit int) ([]models.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Episode
	for i := len(m.episodes) - 1; i >= 0 && len(out) < limit; i-- {
		ep := m.episodes[i]
		if ep.Action.Component == component && ep.Action.Kind == kind && ep.Outcome.Failed() {
			out = append(out, ep)
		}
	}
	return out, nil
}

// Count returns the retained episode count.
func (m *InMemory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.episodes), nil
}

// Close is a no-op for the in-memory backend.
func (m *InMemory) Close() {}

// Package store owns the version history of the organism: an append-only,
// acyclic chain of immutable revisions with a single current pointer.
// All mutation funnels through Commit; every other subsystem only ever
// sees read-only snapshots.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// Store holds the accepted revision chain. The zero value is not usable;
// construct with New so a root revision always exists.
type Store struct {
	log *zap.Logger

	mu        sync.Mutex
	revisions []models.Revision // index 0 is the root, appended in commit order
	byID      map[string]int
}

// New creates a store whose root revision wraps the given seed source.
func New(logger *zap.Logger, seedSource string) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	root := models.Revision{
		ID:        uuid.New().String(),
		Seq:       0,
		ParentID:  "",
		Source:    seedSource,
		Hash:      models.SourceHash(seedSource),
		CreatedAt: time.Now().UTC(),
	}
	s := &Store{
		log:       logger.Named("VersionStore"),
		revisions: []models.Revision{root},
		byID:      map[string]int{root.ID: 0},
	}
	s.log.Info("Version store initialized", zap.String("root_id", root.ID), zap.String("hash", root.Hash))
	return s
}

// Current returns the revision the current pointer designates. The
// pointer only ever advances through Commit.
func (s *Store) Current() models.Revision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revisions[len(s.revisions)-1]
}

// History returns every revision newest first. The returned slice is a
// copy; callers cannot mutate the chain through it.
func (s *Store) History() []models.Revision {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Revision, len(s.revisions))
	for i, rev := range s.revisions {
		out[len(s.revisions)-1-i] = rev
	}
	return out
}

// Get looks a revision up by ID.
func (s *Store) Get(id string) (models.Revision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return models.Revision{}, false
	}
	return s.revisions[idx], true
}

// Len returns the number of accepted revisions including the root.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revisions)
}

// Commit promotes a fully vetted candidate to the new current revision.
// The candidate must have been screened allow and evaluated PASS, and
// must descend from the current revision; anything else is a contract
// violation by the caller, returned as a fatal
// CommitContractViolationError. Commits are serialized internally so
// only one can be in flight system-wide.
func (s *Store) Commit(cand models.Candidate) (models.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cand.Screen == nil || cand.Screen.Verdict != models.ScreenAllow {
		return models.Revision{}, &models.CommitContractViolationError{
			CandidateID: cand.ID,
			Reason:      "candidate has not been screened allow",
		}
	}
	if cand.Evaluation == nil || cand.Evaluation.Verdict != models.VerdictPass {
		return models.Revision{}, &models.CommitContractViolationError{
			CandidateID: cand.ID,
			Reason:      "candidate has not been evaluated PASS",
		}
	}

	head := s.revisions[len(s.revisions)-1]
	if cand.ParentID != head.ID {
		return models.Revision{}, &models.CommitContractViolationError{
			CandidateID: cand.ID,
			Reason:      "candidate parent is not the current revision",
		}
	}

	rev := models.Revision{
		ID:        uuid.New().String(),
		Seq:       head.Seq + 1,
		ParentID:  head.ID,
		Source:    cand.Source,
		Hash:      models.SourceHash(cand.Source),
		CreatedAt: time.Now().UTC(),
	}
	s.revisions = append(s.revisions, rev)
	s.byID[rev.ID] = len(s.revisions) - 1

	s.log.Info("Committed new revision",
		zap.String("revision_id", rev.ID),
		zap.Int("seq", rev.Seq),
		zap.String("candidate_id", cand.ID),
		zap.String("component", cand.Hypothesis.Component),
		zap.String("kind", string(cand.Hypothesis.Kind)),
	)
	return rev, nil
}

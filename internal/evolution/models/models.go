// Package models defines the data model shared by every stage of the
// self-modification pipeline: revisions, hypotheses, candidates, test
// artifacts, episodes and cycle results.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TransformKind enumerates the kinds of modification the deliberation
// engine may propose against a component of the organism.
type TransformKind string

const (
	KindExpandFunctionality    TransformKind = "expand_functionality"
	KindOptimizePerformance    TransformKind = "optimize_performance"
	KindRefactorSimplification TransformKind = "refactor_simplification"
	KindIntegrateModules       TransformKind = "integrate_modules"
)

// AllTransformKinds lists every kind in a stable order, used by the
// deliberation engine when rotating through untried actions.
func AllTransformKinds() []TransformKind {
	return []TransformKind{
		KindExpandFunctionality,
		KindOptimizePerformance,
		KindRefactorSimplification,
		KindIntegrateModules,
	}
}

// Revision is an immutable, accepted snapshot of the organism source.
// Revisions are owned exclusively by the version store and are never
// mutated after creation. Seq increases monotonically and ParentID links
// each revision to exactly one parent, except the root.
type Revision struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	ParentID  string    `json:"parent_id,omitempty"`
	Source    string    `json:"source"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// SourceHash returns the canonical content hash used for revision
// identity checks and journal audit records.
func SourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Hypothesis is a structured proposal for what to try next: a target
// component, a transformation kind, a rationale and a base priority.
// A hypothesis is consumed once and discarded after producing a
// candidate; it survives only inside the episode it led to.
type Hypothesis struct {
	ID          string        `json:"id"`
	Component   string        `json:"component"`
	Kind        TransformKind `json:"kind"`
	Rationale   string        `json:"rationale"`
	Priority    float64       `json:"priority"`
	Remediation bool          `json:"remediation,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CandidateOrigin records which generation strategy produced a candidate.
type CandidateOrigin string

const (
	OriginOracle   CandidateOrigin = "oracle"
	OriginTemplate CandidateOrigin = "template"
)

// Candidate is a proposed, not-yet-accepted revision paired with the
// hypothesis that produced it. Lifecycle: created, screened, then either
// rejected and discarded, or tested and (on PASS) promoted to a Revision
// by the version store. Screen and Evaluation are filled in as the
// candidate moves through the gates; the store refuses to commit a
// candidate that has not cleared both.
type Candidate struct {
	ID         string          `json:"id"`
	Hypothesis Hypothesis      `json:"hypothesis"`
	ParentID   string          `json:"parent_id"`
	Source     string          `json:"source"`
	Origin     CandidateOrigin `json:"origin"`

	// SuggestedTests carries an optional external-suggestion payload
	// extracted from the oracle response (a fenced test block).
	SuggestedTests string `json:"suggested_tests,omitempty"`

	Screen     *ScreenResult `json:"screen,omitempty"`
	Evaluation *Evaluation   `json:"evaluation,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DiffLine is a single added or removed line with its line number in the
// candidate (added) or parent (removed) source.
type DiffLine struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Diff is the computed line difference between a parent revision and a
// candidate. It is derived, never stored as an independent unit of
// execution; its only consumers are the security screener and the
// journal's audit trail.
type Diff struct {
	ParentID    string     `json:"parent_id"`
	CandidateID string     `json:"candidate_id"`
	Unified     string     `json:"unified"`
	Added       []DiffLine `json:"added,omitempty"`
	Removed     []DiffLine `json:"removed,omitempty"`
}

// ScreenVerdict is the binary outcome of the security screener.
type ScreenVerdict string

const (
	ScreenAllow ScreenVerdict = "allow"
	ScreenBlock ScreenVerdict = "block"
)

// BlockRecord is a structured audit record for a single pattern match,
// emitted regardless of the final verdict.
type BlockRecord struct {
	PatternID string `json:"pattern_id"`
	Reason    string `json:"reason"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Excerpt   string `json:"excerpt,omitempty"`
}

// ScreenResult aggregates the screener's verdict with every pattern
// match found. On block, Reason and PatternID describe the first match.
type ScreenResult struct {
	Verdict   ScreenVerdict `json:"verdict"`
	Reason    string        `json:"reason,omitempty"`
	PatternID string        `json:"pattern_id,omitempty"`
	Records   []BlockRecord `json:"records,omitempty"`
}

// TestOrigin records where a test case came from.
type TestOrigin string

const (
	TestOriginRegression TestOrigin = "regression"
	TestOriginStructural TestOrigin = "structural"
	TestOriginSuggested  TestOrigin = "suggested"
)

// TestCase is an immutable test generated for one cycle: a named
// Starlark snippet executed against the candidate's globals.
type TestCase struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Component   string     `json:"component,omitempty"`
	Script      string     `json:"script"`
	Origin      TestOrigin `json:"origin"`
}

// TestStatus is the per-case verdict.
type TestStatus string

const (
	TestPass  TestStatus = "PASS"
	TestFail  TestStatus = "FAIL"
	TestError TestStatus = "ERROR"
)

// TestResult captures one case's verdict together with everything the
// sandbox observed: printed output, the error message if any, and the
// wall-clock duration.
type TestResult struct {
	CaseID   string        `json:"case_id"`
	Name     string        `json:"name"`
	Status   TestStatus    `json:"status"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TestReport aggregates the results for one candidate.
type TestReport struct {
	CandidateID string        `json:"candidate_id"`
	Results     []TestResult  `json:"results"`
	Run         int           `json:"run"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Errored     int           `json:"errored"`
	Duration    time.Duration `json:"duration"`
}

// Verdict is the evaluator's aggregate judgement of a test report.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictFail  Verdict = "FAIL"
	VerdictError Verdict = "ERROR"
)

// Evaluation is the evaluator's output: an aggregate verdict plus a
// human-readable summary for the journal and the episode record.
type Evaluation struct {
	Verdict Verdict `json:"verdict"`
	Summary string  `json:"summary"`
}

// ActionDescriptor identifies what was attempted: which component was
// targeted and with which transformation kind.
type ActionDescriptor struct {
	Component string        `json:"component"`
	Kind      TransformKind `json:"kind"`
}

// StateSnapshot is a hashable summary of the system at decision time,
// used both as deliberation context and as an episode-similarity key.
type StateSnapshot struct {
	RevisionID          string  `json:"revision_id"`
	SourceHash          string  `json:"source_hash"`
	RevisionCount       int     `json:"revision_count"`
	Components          int     `json:"components"`
	SourceLines         int     `json:"source_lines"`
	Complexity          float64 `json:"complexity"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	CyclesSinceCommit   int     `json:"cycles_since_commit"`
}

// Key returns a short similarity key derived from the snapshot's scalar
// shape. Two snapshots with the same key are treated as alike for
// episode retrieval.
func (s StateSnapshot) Key() string {
	raw := fmt.Sprintf("%s|%d|%d|%.1f", s.SourceHash[:minInt(12, len(s.SourceHash))], s.RevisionCount, s.Components, s.Complexity)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// EpisodeOutcome classifies how an attempted action ended.
type EpisodeOutcome string

const (
	OutcomeCommitted        EpisodeOutcome = "committed"
	OutcomeRejectedSecurity EpisodeOutcome = "rejected_security"
	OutcomeRejectedTests    EpisodeOutcome = "rejected_tests"
	OutcomeErrored          EpisodeOutcome = "errored"
)

// Failed reports whether the outcome counts as a failure for the
// memory's success/failure statistics.
func (o EpisodeOutcome) Failed() bool {
	return o != OutcomeCommitted
}

// Episode is one recorded (action, state, outcome) triple. Episodes are
// append-only: never mutated, never deleted, only pruned oldest-first
// when the memory's retention cap is reached.
type Episode struct {
	ID        string           `json:"id"`
	Action    ActionDescriptor `json:"action"`
	State     StateSnapshot    `json:"state"`
	StateKey  string           `json:"state_key"`
	Outcome   EpisodeOutcome   `json:"outcome"`
	Detail    string           `json:"detail,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Heuristic is the long-run aggregate for one transformation kind.
type Heuristic struct {
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// CycleOutcome classifies how a whole evolution cycle terminated. Every
// cycle ends in exactly one of these; nothing propagates an unhandled
// fault past the cycle boundary.
type CycleOutcome string

const (
	CycleCommitted        CycleOutcome = "committed"
	CycleRejectedSecurity CycleOutcome = "rejected_security"
	CycleRejectedTests    CycleOutcome = "rejected_tests"
	CycleErrored          CycleOutcome = "errored"
	CycleIdle             CycleOutcome = "idle"
)

// CycleResult is the boundary contract of run_cycle: one record per
// cycle, persisted verbatim by the journal.
type CycleResult struct {
	CycleID      string       `json:"cycle_id"`
	Number       int          `json:"number"`
	Outcome      CycleOutcome `json:"outcome"`
	Hypothesis   *Hypothesis  `json:"hypothesis,omitempty"`
	CandidateID  string       `json:"candidate_id,omitempty"`
	Screen       *ScreenResult `json:"screen,omitempty"`
	Report       *TestReport  `json:"report,omitempty"`
	Evaluation   *Evaluation  `json:"evaluation,omitempty"`
	RevisionID   string       `json:"revision_id,omitempty"`
	EpisodeCount int          `json:"episode_count"`
	Error        string       `json:"error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// EngineStatus is the get_status boundary contract.
type EngineStatus struct {
	CurrentRevisionID   string  `json:"current_revision_id"`
	CurrentRevisionSeq  int     `json:"current_revision_seq"`
	LastVerdict         string  `json:"last_verdict"`
	LastOutcome         string  `json:"last_outcome"`
	EpisodeCount        int     `json:"episode_count"`
	CyclesRun           int     `json:"cycles_run"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

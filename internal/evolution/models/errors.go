package models

import (
	"errors"
	"fmt"
)

// ErrOracleUnavailable indicates the external generation oracle failed or
// timed out after its bounded retries. It triggers the template fallback
// strategy, never a cycle abort.
var ErrOracleUnavailable = errors.New("generation oracle unavailable")

// SecurityBlockedError reports that a candidate diff matched a
// disallowed pattern. It is never fatal: it always routes to rejection
// plus an episode record.
type SecurityBlockedError struct {
	PatternID string
	Reason    string
}

func (e *SecurityBlockedError) Error() string {
	return fmt.Sprintf("security screen blocked candidate: %s (pattern %s)", e.Reason, e.PatternID)
}

// TestFailedError reports an assertion-level failure of the candidate's
// test suite: the candidate is rejected and an episode recorded.
type TestFailedError struct {
	Failed  int
	Summary string
}

func (e *TestFailedError) Error() string {
	return fmt.Sprintf("candidate failed %d test(s): %s", e.Failed, e.Summary)
}

// TestExecutionError reports an infrastructure or execution fault
// distinct from a logical test failure (candidate load failure, sandbox
// timeout, zero coverage). It warrants a stronger warning than a plain
// failure because it implies retry rather than regenerate.
type TestExecutionError struct {
	Summary string
}

func (e *TestExecutionError) Error() string {
	return fmt.Sprintf("candidate test execution errored: %s", e.Summary)
}

// CommitContractViolationError reports an attempt to commit a candidate
// that has not cleared both the security screen and the evaluator. This
// is a defect in the pipeline itself, not in the candidate: it is fatal
// and must halt the cycle rather than silently proceed.
type CommitContractViolationError struct {
	CandidateID string
	Reason      string
}

func (e *CommitContractViolationError) Error() string {
	return fmt.Sprintf("commit contract violation for candidate %s: %s", e.CandidateID, e.Reason)
}

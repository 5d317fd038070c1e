// Package engine orchestrates one full evolution cycle — deliberate,
// generate, screen, test, adjudicate, commit or reject, remember — and
// the optional autonomous loop around it. Cycle execution is mutually
// exclusive: the foreground commands and the background loop share one
// lock held for the whole screen-test-commit sequence.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/config"
	"github.com/MrDeox/Autogs/internal/evolution/deliberate"
	"github.com/MrDeox/Autogs/internal/evolution/evaluator"
	"github.com/MrDeox/Autogs/internal/evolution/generator"
	"github.com/MrDeox/Autogs/internal/evolution/impact"
	"github.com/MrDeox/Autogs/internal/evolution/journal"
	"github.com/MrDeox/Autogs/internal/evolution/memory"
	"github.com/MrDeox/Autogs/internal/evolution/models"
	"github.com/MrDeox/Autogs/internal/evolution/sandbox"
	"github.com/MrDeox/Autogs/internal/evolution/screener"
	"github.com/MrDeox/Autogs/internal/evolution/store"
	"github.com/MrDeox/Autogs/internal/evolution/testsource"
)

// Deps bundles the engine's collaborators.
type Deps struct {
	Store       *store.Store
	Screener    *screener.Screener
	Sandbox     *sandbox.Executor
	Tests       testsource.Source
	Evaluator   *evaluator.Evaluator
	Memory      memory.Store
	Deliberator *deliberate.Engine
	Generator   generator.Generator
	Journal     *journal.Journal
}

// Engine is the cycle orchestrator. All mutable loop state lives behind
// the cycle lock.
type Engine struct {
	log  *zap.Logger
	cfg  config.EvolutionConfig
	deps Deps

	mu                  sync.Mutex // the single cycle lock
	cycles              int
	consecutiveFailures int
	cyclesSinceCommit   int
	lastFailedComponent string
	lastOutcome         models.CycleOutcome
	lastVerdict         string
	lastState           models.StateSnapshot
}

// New builds the engine.
func New(logger *zap.Logger, cfg config.EvolutionConfig, deps Deps) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		log:  logger.Named("Engine"),
		cfg:  cfg,
		deps: deps,
	}
}

// RunCycle executes one full cycle under the cycle lock and always
// returns a terminal result: committed, rejected, idle, or errored with
// the fault recorded. The only non-nil errors are context cancellation
// (checked at the top of the cycle, never mid-test) and a fatal commit
// contract violation, which must halt the caller's loop.
func (e *Engine) RunCycle(ctx context.Context) (models.CycleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Stop signal is honored only here, at the cycle boundary, so an
	// in-flight test run is never torn down uncleanly.
	if err := ctx.Err(); err != nil {
		return models.CycleResult{}, err
	}

	e.cycles++
	res := models.CycleResult{
		CycleID:   uuid.New().String(),
		Number:    e.cycles,
		StartedAt: time.Now().UTC(),
	}
	e.log.Info("Cycle started", zap.Int("cycle", res.Number))

	current := e.deps.Store.Current()
	state := e.deps.Deliberator.Perceive(current, e.deps.Store.Len(), e.consecutiveFailures, e.cyclesSinceCommit)
	e.lastState = state

	var extra []models.Hypothesis
	if e.consecutiveFailures >= e.cfg.MaxConsecutiveFailures && e.lastFailedComponent != "" {
		rem := deliberate.RemediationHypothesis(e.lastFailedComponent, e.consecutiveFailures)
		e.log.Warn("Consecutive-failure threshold crossed; injecting remediation hypothesis",
			zap.Int("failures", e.consecutiveFailures),
			zap.String("component", rem.Component),
		)
		extra = append(extra, rem)
	}

	hyp, _, err := e.deps.Deliberator.Deliberate(ctx, current, state, extra)
	if err != nil {
		return e.finishErrored(ctx, res, "deliberation failed: "+err.Error()), nil
	}
	if hyp == nil {
		res.Outcome = models.CycleIdle
		e.cyclesSinceCommit++
		return e.finish(ctx, res), nil
	}
	res.Hypothesis = hyp

	failureCtx, err := e.deps.Memory.RecentFailures(ctx, hyp.Component, hyp.Kind, 5)
	if err != nil {
		e.log.Warn("Could not load failure context; generating without it", zap.Error(err))
	}

	cand, err := e.deps.Generator.Generate(ctx, *hyp, current, failureCtx)
	if err != nil {
		return e.finishErrored(ctx, res, "generation failed: "+err.Error()), nil
	}
	res.CandidateID = cand.ID

	// Screening is the cheap gate; it always runs before any sandboxed
	// execution is paid for.
	d := screener.ComputeDiff(current, cand)
	screenRes := e.deps.Screener.Screen(ctx, d)
	cand.Screen = &screenRes
	res.Screen = &screenRes

	if err := e.deps.Journal.RecordDiff(res.Number, cand, d, current.Hash, models.SourceHash(cand.Source)); err != nil {
		e.log.Warn("Could not write diff audit file", zap.Error(err))
	}

	if screenRes.Verdict == models.ScreenBlock {
		res.Outcome = models.CycleRejectedSecurity
		e.recordEpisode(ctx, *hyp, state, models.OutcomeRejectedSecurity, screenRes.Reason)
		e.noteFailure(*hyp)
		return e.finish(ctx, res), nil
	}

	suite, err := e.deps.Tests.Generate(ctx, cand, d)
	if err != nil {
		e.recordEpisode(ctx, *hyp, state, models.OutcomeErrored, "test generation failed: "+err.Error())
		e.noteFailure(*hyp)
		return e.finishErrored(ctx, res, "test generation failed: "+err.Error()), nil
	}

	report := e.deps.Sandbox.Run(ctx, cand, suite)
	res.Report = &report

	eval := e.deps.Evaluator.Evaluate(report)
	cand.Evaluation = &eval
	res.Evaluation = &eval
	e.lastVerdict = string(eval.Verdict)

	switch eval.Verdict {
	case models.VerdictPass:
		rev, commitErr := e.deps.Store.Commit(cand)
		if commitErr != nil {
			// Reaching commit with an unvetted candidate is a defect in
			// this pipeline; halt instead of proceeding silently.
			var ccv *models.CommitContractViolationError
			if errors.As(commitErr, &ccv) {
				e.log.Error("Commit contract violation; halting", zap.Error(commitErr))
				final := e.finishErrored(ctx, res, commitErr.Error())
				return final, commitErr
			}
			return e.finishErrored(ctx, res, commitErr.Error()), nil
		}
		res.Outcome = models.CycleCommitted
		res.RevisionID = rev.ID
		e.recordEpisode(ctx, *hyp, state, models.OutcomeCommitted, eval.Summary)
		e.consecutiveFailures = 0
		e.cyclesSinceCommit = 0

	case models.VerdictFail:
		res.Outcome = models.CycleRejectedTests
		e.recordEpisode(ctx, *hyp, state, models.OutcomeRejectedTests, eval.Summary)
		e.noteFailure(*hyp)

	default: // VerdictError
		res.Outcome = models.CycleErrored
		res.Error = eval.Summary
		e.log.Warn("Candidate evaluation errored; infrastructure fault, not a logical failure",
			zap.String("candidate_id", cand.ID),
			zap.String("summary", eval.Summary),
		)
		e.recordEpisode(ctx, *hyp, state, models.OutcomeErrored, eval.Summary)
		e.noteFailure(*hyp)
	}

	return e.finish(ctx, res), nil
}

// noteFailure updates the rejection streak bookkeeping.
func (e *Engine) noteFailure(hyp models.Hypothesis) {
	e.consecutiveFailures++
	e.cyclesSinceCommit++
	e.lastFailedComponent = hyp.Component
}

// recordEpisode appends the outcome to episodic memory. Memory faults
// are logged, not propagated: losing one episode must not abort a cycle.
func (e *Engine) recordEpisode(ctx context.Context, hyp models.Hypothesis, state models.StateSnapshot, outcome models.EpisodeOutcome, detail string) {
	ep := models.Episode{
		ID:        uuid.New().String(),
		Action:    models.ActionDescriptor{Component: hyp.Component, Kind: hyp.Kind},
		State:     state,
		StateKey:  state.Key(),
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.deps.Memory.Record(ctx, ep); err != nil {
		e.log.Warn("Could not record episode", zap.Error(err))
	}
}

// finish stamps, persists and logs the result, and refreshes the impact
// feedback on its schedule.
func (e *Engine) finish(ctx context.Context, res models.CycleResult) models.CycleResult {
	res.FinishedAt = time.Now().UTC()
	if n, err := e.deps.Memory.Count(ctx); err == nil {
		res.EpisodeCount = n
	}
	e.lastOutcome = res.Outcome

	if err := e.deps.Journal.RecordCycle(res); err != nil {
		e.log.Warn("Could not persist cycle record", zap.Error(err))
	}

	if e.cfg.FeedbackRefreshInterval > 0 && res.Number%e.cfg.FeedbackRefreshInterval == 0 {
		e.refreshFeedback()
	}

	e.log.Info("Cycle finished",
		zap.Int("cycle", res.Number),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res
}

// finishErrored finalizes a cycle that hit an internal fault.
func (e *Engine) finishErrored(ctx context.Context, res models.CycleResult, detail string) models.CycleResult {
	res.Outcome = models.CycleErrored
	res.Error = detail
	e.log.Error("Cycle errored", zap.Int("cycle", res.Number), zap.String("detail", detail))
	return e.finish(ctx, res)
}

// refreshFeedback folds the journal's impact evaluation back into the
// deliberation engine as priority floors.
func (e *Engine) refreshFeedback() {
	cycles, err := e.deps.Journal.LoadCycles()
	if err != nil {
		e.log.Warn("Could not load journal for impact feedback", zap.Error(err))
		return
	}
	report := impact.Evaluate(cycles)
	floors := report.PriorityFloors()
	e.deps.Deliberator.SetFeedback(floors)
	e.log.Debug("Impact feedback refreshed",
		zap.String("classification", string(report.Classification)),
		zap.Int("floors", len(floors)),
	)
}

// Status reports the boundary status contract.
func (e *Engine) Status(ctx context.Context) models.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.deps.Store.Current()
	count, err := e.deps.Memory.Count(ctx)
	if err != nil {
		e.log.Warn("Could not count episodes for status", zap.Error(err))
	}
	return models.EngineStatus{
		CurrentRevisionID:   current.ID,
		CurrentRevisionSeq:  current.Seq,
		LastVerdict:         e.lastVerdict,
		LastOutcome:         string(e.lastOutcome),
		EpisodeCount:        count,
		CyclesRun:           e.cycles,
		ConsecutiveFailures: e.consecutiveFailures,
	}
}

// RunLoop is the autonomous background loop: cycles separated by the
// adaptive reflection interval, stopping cleanly when the context is
// cancelled. A fatal commit contract violation propagates and stops the
// loop; everything else is already absorbed into cycle results.
func (e *Engine) RunLoop(ctx context.Context) error {
	e.log.Info("Autonomous loop started")
	defer e.log.Info("Autonomous loop stopped")

	for {
		res, err := e.RunCycle(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		pause := e.deps.Deliberator.ReflectionInterval(e.lastState, res.Outcome)
		e.log.Debug("Reflecting before next cycle", zap.Duration("pause", pause))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

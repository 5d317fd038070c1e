package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/MrDeox/Autogs/internal/config"
	"github.com/MrDeox/Autogs/internal/evolution/deliberate"
	"github.com/MrDeox/Autogs/internal/evolution/engine"
	"github.com/MrDeox/Autogs/internal/evolution/evaluator"
	"github.com/MrDeox/Autogs/internal/evolution/journal"
	"github.com/MrDeox/Autogs/internal/evolution/memory"
	"github.com/MrDeox/Autogs/internal/evolution/mocks"
	"github.com/MrDeox/Autogs/internal/evolution/models"
	"github.com/MrDeox/Autogs/internal/evolution/sandbox"
	"github.com/MrDeox/Autogs/internal/evolution/screener"
	"github.com/MrDeox/Autogs/internal/evolution/store"
)

// seedSource carries one deliberately underdeveloped component (genome)
// so the deliberator always proposes expanding it on a fresh lineage.
const seedSource = `def genome():
    return {"generation": 0}

def metabolize(pulse):
    return pulse * 2
`

// inertSource has no top-level defs, so deliberation finds nothing to
// propose and every cycle terminates idle.
const inertSource = `state = {"generation": 0}
`

func engineCfg() config.EvolutionConfig {
	return config.EvolutionConfig{
		MinActionThreshold:     0.4,
		MinSampleSize:          3,
		RecencyWindow:          20,
		MaxConsecutiveFailures: 3,
		StagnationCycles:       5,
		ComplexityGrowthLimit:  1.5,
		ComponentFunctionFloor: 4,
		BaseReflectInterval:    5 * time.Millisecond,
		BusyReflectInterval:    5 * time.Millisecond,
		StaleReflectInterval:   5 * time.Millisecond,
		StaleCycleThreshold:    10,
	}
}

type harness struct {
	eng   *engine.Engine
	store *store.Store
	mem   *memory.InMemory
	gen   *mocks.MockGenerator
	tests *mocks.MockTestSource
	jnl   *journal.Journal
}

func newHarness(t *testing.T, cfg config.EvolutionConfig, seed string) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	st := store.New(logger, seed)
	mem := memory.NewInMemory(logger, memory.Options{
		MaxEpisodes:   1000,
		MinSampleSize: cfg.MinSampleSize,
		RecencyWindow: cfg.RecencyWindow,
	})
	jnl, err := journal.New(logger, t.TempDir())
	require.NoError(t, err)

	gen := &mocks.MockGenerator{}
	tests := &mocks.MockTestSource{}

	eng := engine.New(logger, cfg, engine.Deps{
		Store:       st,
		Screener:    screener.New(logger),
		Sandbox:     sandbox.New(logger, 2*time.Second, 500_000, 2),
		Tests:       tests,
		Evaluator:   evaluator.New(logger),
		Memory:      mem,
		Deliberator: deliberate.New(logger, cfg, mem),
		Generator:   gen,
		Journal:     jnl,
	})
	return &harness{eng: eng, store: st, mem: mem, gen: gen, tests: tests, jnl: jnl}
}

// benignCandidate extends the parent with a trivially testable component.
func benignCandidate(parent models.Revision) models.Candidate {
	return models.Candidate{
		ID:        "cand-benign",
		ParentID:  parent.ID,
		Source:    parent.Source + "\ndef pulse():\n    return 1\n",
		Origin:    models.OriginTemplate,
		CreatedAt: time.Now().UTC(),
	}
}

// forbiddenCandidate introduces a dynamic-evaluation call the screener
// must catch.
func forbiddenCandidate(parent models.Revision) models.Candidate {
	return models.Candidate{
		ID:        "cand-forbidden",
		ParentID:  parent.ID,
		Source:    parent.Source + "\ndef siphon():\n    return eval(\"1+1\")\n",
		Origin:    models.OriginTemplate,
		CreatedAt: time.Now().UTC(),
	}
}

func passingSuite() []models.TestCase {
	return []models.TestCase{{
		ID:     "tc-pulse-1",
		Name:   "pulse_returns_one",
		Script: "assert_eq(pulse(), 1)",
		Origin: models.TestOriginStructural,
	}}
}

func TestRunCycle_CommitsVettedCandidate(t *testing.T) {
	h := newHarness(t, engineCfg(), seedSource)
	ctx := context.Background()
	root := h.store.Current()

	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(benignCandidate(root), nil).Once()
	h.tests.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(passingSuite(), nil).Once()

	res, err := h.eng.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.CycleCommitted, res.Outcome)
	assert.Equal(t, 1, res.Number)
	require.NotNil(t, res.Screen)
	assert.Equal(t, models.ScreenAllow, res.Screen.Verdict)
	require.NotNil(t, res.Evaluation)
	assert.Equal(t, models.VerdictPass, res.Evaluation.Verdict)
	require.NotEmpty(t, res.RevisionID)

	// The lineage advanced to the candidate's source.
	head := h.store.Current()
	assert.Equal(t, res.RevisionID, head.ID)
	assert.Equal(t, 1, head.Seq)
	assert.Equal(t, root.ID, head.ParentID)
	assert.Contains(t, head.Source, "def pulse()")

	// One episode recorded, one cycle journaled, one diff audit file.
	n, err := h.mem.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	last, err := h.jnl.LastCycle()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, models.CycleCommitted, last.Outcome)

	diffs, err := filepath.Glob(filepath.Join(h.jnl.Dir(), "mods", "*.diff"))
	require.NoError(t, err)
	assert.Len(t, diffs, 1)

	h.gen.AssertExpectations(t)
	h.tests.AssertExpectations(t)
}

func TestRunCycle_BlocksForbiddenConstructBeforeTesting(t *testing.T) {
	h := newHarness(t, engineCfg(), seedSource)
	ctx := context.Background()
	root := h.store.Current()

	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(forbiddenCandidate(root), nil).Once()

	res, err := h.eng.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.CycleRejectedSecurity, res.Outcome)
	require.NotNil(t, res.Screen)
	assert.Equal(t, models.ScreenBlock, res.Screen.Verdict)
	assert.Nil(t, res.Report, "a blocked candidate must never reach the sandbox")

	// The lineage is untouched and the rejection is remembered.
	assert.Equal(t, 1, h.store.Len())
	require.NotNil(t, res.Hypothesis)
	eps, err := h.mem.RecentFailures(ctx, res.Hypothesis.Component, res.Hypothesis.Kind, 5)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, models.OutcomeRejectedSecurity, eps[0].Outcome)

	h.tests.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycle_RejectsCandidateFailingTests(t *testing.T) {
	h := newHarness(t, engineCfg(), seedSource)
	ctx := context.Background()
	root := h.store.Current()

	failing := []models.TestCase{{
		ID:     "tc-pulse-2",
		Name:   "pulse_returns_two",
		Script: "assert_eq(pulse(), 2)",
		Origin: models.TestOriginStructural,
	}}
	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(benignCandidate(root), nil).Once()
	h.tests.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(failing, nil).Once()

	res, err := h.eng.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.CycleRejectedTests, res.Outcome)
	require.NotNil(t, res.Evaluation)
	assert.Equal(t, models.VerdictFail, res.Evaluation.Verdict)
	assert.Equal(t, 1, h.store.Len())

	st := h.eng.Status(ctx)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, string(models.VerdictFail), st.LastVerdict)
}

func TestRunCycle_ZeroTestsIsAnError(t *testing.T) {
	h := newHarness(t, engineCfg(), seedSource)
	ctx := context.Background()
	root := h.store.Current()

	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(benignCandidate(root), nil).Once()
	h.tests.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.TestCase{}, nil).Once()

	res, err := h.eng.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.CycleErrored, res.Outcome)
	require.NotNil(t, res.Evaluation)
	assert.Equal(t, models.VerdictError, res.Evaluation.Verdict)
	assert.Equal(t, 1, h.store.Len())
}

func TestRunCycle_TestGenerationFaultErrors(t *testing.T) {
	h := newHarness(t, engineCfg(), seedSource)
	ctx := context.Background()
	root := h.store.Current()

	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(benignCandidate(root), nil).Once()
	h.tests.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("regression corpus unreadable")).Once()

	res, err := h.eng.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.CycleErrored, res.Outcome)
	assert.Contains(t, res.Error, "test generation failed")
	assert.Equal(t, 1, h.eng.Status(ctx).ConsecutiveFailures)
}

func TestRunCycle_CommitContractViolationIsFatal(t *testing.T) {
	h := newHarness(t, engineCfg(), seedSource)
	ctx := context.Background()
	root := h.store.Current()

	stale := benignCandidate(root)
	stale.ParentID = "not-the-current-revision"

	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(stale, nil).Once()
	h.tests.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(passingSuite(), nil).Once()

	res, err := h.eng.RunCycle(ctx)
	require.Error(t, err)

	var ccv *models.CommitContractViolationError
	require.ErrorAs(t, err, &ccv)
	assert.Equal(t, models.CycleErrored, res.Outcome)
	assert.Equal(t, 1, h.store.Len())
}

func TestRunCycle_IdleWhenNothingToPropose(t *testing.T) {
	h := newHarness(t, engineCfg(), inertSource)
	ctx := context.Background()

	res, err := h.eng.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.CycleIdle, res.Outcome)
	assert.Nil(t, res.Hypothesis)
	assert.Empty(t, res.CandidateID)

	h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.tests.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycle_InjectsRemediationAfterFailureStreak(t *testing.T) {
	cfg := engineCfg()
	cfg.MaxConsecutiveFailures = 2
	h := newHarness(t, cfg, seedSource)
	ctx := context.Background()
	root := h.store.Current()

	var seen []models.Hypothesis
	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			seen = append(seen, args.Get(1).(models.Hypothesis))
		}).
		Return(forbiddenCandidate(root), nil).Times(3)

	for i := 0; i < 3; i++ {
		res, err := h.eng.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.CycleRejectedSecurity, res.Outcome)
	}

	require.Len(t, seen, 3)
	assert.False(t, seen[0].Remediation)
	assert.False(t, seen[1].Remediation)

	// Two straight rejections on the same component cross the threshold;
	// the third cycle must deliberate a remediation proposal for it.
	rem := seen[2]
	assert.True(t, rem.Remediation)
	assert.Equal(t, models.KindRefactorSimplification, rem.Kind)
	assert.Equal(t, seen[1].Component, rem.Component)
}

func TestRunCycle_StopsOnlyAtCycleBoundary(t *testing.T) {
	h := newHarness(t, engineCfg(), seedSource)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.eng.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Number)
	assert.Equal(t, 0, h.eng.Status(context.Background()).CyclesRun)
}

func TestStatus_ReflectsLastCycle(t *testing.T) {
	h := newHarness(t, engineCfg(), seedSource)
	ctx := context.Background()
	root := h.store.Current()

	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(benignCandidate(root), nil).Once()
	h.tests.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(passingSuite(), nil).Once()

	_, err := h.eng.RunCycle(ctx)
	require.NoError(t, err)

	st := h.eng.Status(ctx)
	assert.Equal(t, 1, st.CurrentRevisionSeq)
	assert.Equal(t, h.store.Current().ID, st.CurrentRevisionID)
	assert.Equal(t, string(models.CycleCommitted), st.LastOutcome)
	assert.Equal(t, string(models.VerdictPass), st.LastVerdict)
	assert.Equal(t, 1, st.CyclesRun)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.EpisodeCount)
}

func TestRunLoop_StopsCleanlyOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, engineCfg(), inertSource)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.eng.RunLoop(ctx) }()

	time.Sleep(40 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	assert.Greater(t, h.eng.Status(context.Background()).CyclesRun, 0)
}

func TestRunLoop_HaltsOnCommitContractViolation(t *testing.T) {
	h := newHarness(t, engineCfg(), seedSource)
	root := h.store.Current()

	stale := benignCandidate(root)
	stale.ParentID = "not-the-current-revision"

	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(stale, nil)
	h.tests.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(passingSuite(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.eng.RunLoop(ctx)
	require.Error(t, err)
	var ccv *models.CommitContractViolationError
	require.ErrorAs(t, err, &ccv)
}

package deliberate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MrDeox/Autogs/internal/config"
	"github.com/MrDeox/Autogs/internal/evolution/deliberate"
	"github.com/MrDeox/Autogs/internal/evolution/memory"
	"github.com/MrDeox/Autogs/internal/evolution/models"
)

func testCfg() config.EvolutionConfig {
	return config.EvolutionConfig{
		MinActionThreshold:     0.4,
		MinSampleSize:          3,
		RecencyWindow:          20,
		MaxConsecutiveFailures: 3,
		StagnationCycles:       3,
		ComplexityGrowthLimit:  1.15,
		ComponentFunctionFloor: 4,
		BaseReflectInterval:    10 * time.Second,
		BusyReflectInterval:    5 * time.Second,
		StaleReflectInterval:   30 * time.Second,
		StaleCycleThreshold:    10,
	}
}

func newEngine(t *testing.T, cfg config.EvolutionConfig) (*deliberate.Engine, *memory.InMemory) {
	mem := memory.NewInMemory(zaptest.NewLogger(t), memory.Options{
		MaxEpisodes:   1000,
		MinSampleSize: cfg.MinSampleSize,
		RecencyWindow: cfg.RecencyWindow,
	})
	return deliberate.New(zaptest.NewLogger(t), cfg, mem), mem
}

func record(t *testing.T, mem *memory.InMemory, component string, kind models.TransformKind, outcome models.EpisodeOutcome, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, mem.Record(context.Background(), models.Episode{
			Action:  models.ActionDescriptor{Component: component, Kind: kind},
			Outcome: outcome,
		}))
	}
}

func hyp(component string, kind models.TransformKind, priority float64) models.Hypothesis {
	return models.Hypothesis{
		ID:        component + "-" + string(kind),
		Component: component,
		Kind:      kind,
		Priority:  priority,
	}
}

const organismSource = `def tiny():
    return 1

def sprawling(x):
    total = 0
    for i in range(x):
        if i > 2:
            total += i
    return total
`

func TestPerceive_SummarizesOrganism(t *testing.T) {
	d, _ := newEngine(t, testCfg())
	rev := models.Revision{ID: "rev-1", Hash: "h", Source: organismSource}

	state := d.Perceive(rev, 5, 1, 2)

	assert.Equal(t, "rev-1", state.RevisionID)
	assert.Equal(t, 2, state.Components)
	assert.Equal(t, 5, state.RevisionCount)
	assert.Equal(t, 1, state.ConsecutiveFailures)
	assert.Equal(t, 2, state.CyclesSinceCommit)
	assert.Positive(t, state.Complexity)
}

func TestDeliberate_ProposesExpansionForUnderdevelopedComponent(t *testing.T) {
	d, _ := newEngine(t, testCfg())
	rev := models.Revision{ID: "rev-1", Source: organismSource}
	state := d.Perceive(rev, 1, 0, 0)

	best, scored, err := d.Deliberate(context.Background(), rev, state, nil)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.NotEmpty(t, scored)

	// tiny() is below the function floor, so the expansion hypothesis
	// targets it.
	assert.Equal(t, "tiny", best.Component)
	assert.Equal(t, models.KindExpandFunctionality, best.Kind)
}

func TestDeliberate_StagnationProposesIntegration(t *testing.T) {
	d, _ := newEngine(t, testCfg())
	rev := models.Revision{ID: "rev-1", Source: organismSource}
	state := d.Perceive(rev, 1, 0, 4)

	_, scored, err := d.Deliberate(context.Background(), rev, state, nil)
	require.NoError(t, err)

	kinds := map[models.TransformKind]bool{}
	for _, sc := range scored {
		kinds[sc.Hypothesis.Kind] = true
	}
	assert.True(t, kinds[models.KindIntegrateModules], "stagnation must propose integration")
}

func TestDeliberate_IdlesBelowThreshold(t *testing.T) {
	cfg := testCfg()
	cfg.MinActionThreshold = 0.99
	d, _ := newEngine(t, cfg)
	rev := models.Revision{ID: "rev-1", Source: organismSource}
	state := d.Perceive(rev, 1, 0, 0)

	best, scored, err := d.Deliberate(context.Background(), rev, state, nil)
	require.NoError(t, err)
	assert.Nil(t, best, "nothing clears an extreme threshold; the cycle idles")
	assert.NotEmpty(t, scored, "scores are still reported for the journal")
}

func TestDeliberate_NoComponentsNoExtrasIsIdle(t *testing.T) {
	d, _ := newEngine(t, testCfg())
	rev := models.Revision{ID: "rev-1", Source: "x = 1\n"}
	state := d.Perceive(rev, 1, 0, 0)

	best, scored, err := d.Deliberate(context.Background(), rev, state, nil)
	require.NoError(t, err)
	assert.Nil(t, best)
	assert.Empty(t, scored)
}

func TestDeliberate_RecentFailuresDominate(t *testing.T) {
	d, mem := newEngine(t, testCfg())

	// Equal declared priority; (a, expand) has a saturated failure
	// history while (b, optimize) has a clean one.
	record(t, mem, "a", models.KindExpandFunctionality, models.OutcomeRejectedTests, 5)
	record(t, mem, "b", models.KindOptimizePerformance, models.OutcomeCommitted, 5)

	rev := models.Revision{ID: "rev-1", Source: "x = 1\n"}
	state := d.Perceive(rev, 1, 0, 0)

	extras := []models.Hypothesis{
		hyp("a", models.KindExpandFunctionality, 0.7),
		hyp("b", models.KindOptimizePerformance, 0.7),
	}
	best, scored, err := d.Deliberate(context.Background(), rev, state, extras)
	require.NoError(t, err)
	require.NotNil(t, best)

	assert.Equal(t, "b", best.Component, "the repeatedly failing action must lose")
	require.Len(t, scored, 2)
	assert.Greater(t, scored[0].Adjusted, scored[1].Adjusted)
	assert.InDelta(t, 1.0, scored[1].RecentRate, 1e-9)
}

func TestDeliberate_GlobalHeuristicsBreakTies(t *testing.T) {
	d, mem := newEngine(t, testCfg())

	// Too few per-pair samples for a recency signal (both neutral), but
	// the global history favors optimization.
	record(t, mem, "other", models.KindOptimizePerformance, models.OutcomeCommitted, 2)
	record(t, mem, "other", models.KindExpandFunctionality, models.OutcomeRejectedTests, 2)

	rev := models.Revision{ID: "rev-1", Source: "x = 1\n"}
	state := d.Perceive(rev, 1, 0, 0)

	extras := []models.Hypothesis{
		hyp("a", models.KindExpandFunctionality, 0.7),
		hyp("b", models.KindOptimizePerformance, 0.7),
	}
	best, _, err := d.Deliberate(context.Background(), rev, state, extras)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "b", best.Component)
}

func TestDeliberate_LeastRecentlyTriedKindWins(t *testing.T) {
	d, _ := newEngine(t, testCfg())
	rev := models.Revision{ID: "rev-1", Source: "x = 1\n"}
	state := d.Perceive(rev, 1, 0, 0)

	extras := []models.Hypothesis{
		hyp("a", models.KindExpandFunctionality, 0.7),
		hyp("b", models.KindOptimizePerformance, 0.7),
	}

	first, _, err := d.Deliberate(context.Background(), rev, state, extras)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, _, err := d.Deliberate(context.Background(), rev, state, extras)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.NotEqual(t, first.Kind, second.Kind, "the just-tried kind must yield to the other")
}

func TestDeliberate_DeduplicatesByComponentAndKind(t *testing.T) {
	d, _ := newEngine(t, testCfg())
	rev := models.Revision{ID: "rev-1", Source: "x = 1\n"}
	state := d.Perceive(rev, 1, 0, 0)

	extras := []models.Hypothesis{
		hyp("a", models.KindExpandFunctionality, 0.7),
		hyp("a", models.KindExpandFunctionality, 0.9),
	}
	_, scored, err := d.Deliberate(context.Background(), rev, state, extras)
	require.NoError(t, err)
	assert.Len(t, scored, 1)
}

func TestSetFeedback_RaisesPriorityFloor(t *testing.T) {
	d, _ := newEngine(t, testCfg())
	rev := models.Revision{ID: "rev-1", Source: "x = 1\n"}
	state := d.Perceive(rev, 1, 0, 0)

	extras := []models.Hypothesis{
		hyp("a", models.KindExpandFunctionality, 0.5),
		hyp("b", models.KindOptimizePerformance, 0.6),
	}

	d.SetFeedback(map[models.TransformKind]float64{models.KindExpandFunctionality: 0.9})

	best, scored, err := d.Deliberate(context.Background(), rev, state, extras)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "a", best.Component, "the floored kind must outrank the nominally higher one")
	assert.Greater(t, scored[0].Adjusted, scored[1].Adjusted)
}

func TestReflectionInterval(t *testing.T) {
	cfg := testCfg()
	d, _ := newEngine(t, cfg)

	stale := models.StateSnapshot{CyclesSinceCommit: cfg.StaleCycleThreshold + 1}
	assert.Equal(t, cfg.StaleReflectInterval, d.ReflectionInterval(stale, models.CycleIdle))

	busy := models.StateSnapshot{}
	assert.Equal(t, cfg.BusyReflectInterval, d.ReflectionInterval(busy, models.CycleCommitted))

	troubled := models.StateSnapshot{ConsecutiveFailures: 1}
	assert.Equal(t, cfg.BusyReflectInterval, d.ReflectionInterval(troubled, models.CycleRejectedTests))

	calm := models.StateSnapshot{}
	assert.Equal(t, cfg.BaseReflectInterval, d.ReflectionInterval(calm, models.CycleIdle))
}

func TestRemediationHypothesis(t *testing.T) {
	h := deliberate.RemediationHypothesis("metabolize", 3)

	assert.Equal(t, "metabolize", h.Component)
	assert.Equal(t, models.KindRefactorSimplification, h.Kind)
	assert.True(t, h.Remediation)
	assert.GreaterOrEqual(t, h.Priority, 0.8)
	assert.Contains(t, h.Rationale, "3 consecutive rejections")
}

// Package deliberate decides what the system should try next. Each cycle
// runs the PERCEIVE -> GENERATE_CANDIDATES -> PRIORITIZE -> SELECT state
// machine: hypotheses are proposed from the perceived organism shape,
// re-weighted by the episodic memory's recent failure rates (dominant)
// and global heuristics (tie-breaking), and the best one is selected —
// or the cycle idles when nothing clears the action threshold.
package deliberate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/config"
	"github.com/MrDeox/Autogs/internal/evolution/memory"
	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// Phase names the steps of the per-cycle state machine, for logging.
type Phase string

const (
	PhasePerceive   Phase = "PERCEIVE"
	PhaseGenerate   Phase = "GENERATE_CANDIDATES"
	PhasePrioritize Phase = "PRIORITIZE"
	PhaseSelect     Phase = "SELECT"
	PhaseAct        Phase = "ACT"
	PhaseIdle       Phase = "IDLE"
)

// Base priorities per proposal heuristic.
const (
	priorityRefactor    = 0.8
	priorityExpand      = 0.6
	priorityIntegrate   = 0.5
	priorityOptimize    = 0.4
	priorityRemediation = 0.85
)

// Adjustment weights: the recency signal dominates, the global signal
// only separates actions with similar recent performance.
const (
	recencyWeight = 0.6
	globalWeight  = 0.05
)

// Scored is a hypothesis with its adjusted priority and the signals
// that produced it, kept for status output and the journal.
type Scored struct {
	Hypothesis models.Hypothesis `json:"hypothesis"`
	Adjusted   float64           `json:"adjusted"`
	RecentRate float64           `json:"recent_failure_rate"`
	GlobalRate float64           `json:"global_success_rate"`
}

// Engine is the deliberation engine. It is stateful across cycles: it
// remembers the baseline complexity, the last time each transformation
// kind was tried, and any impact feedback applied to it.
type Engine struct {
	log *zap.Logger
	cfg config.EvolutionConfig
	mem memory.Store

	baselineComplexity float64
	lastTried          map[models.TransformKind]time.Time
	feedback           map[models.TransformKind]float64
}

// New builds the engine.
func New(logger *zap.Logger, cfg config.EvolutionConfig, mem memory.Store) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		log:       logger.Named("Deliberation"),
		cfg:       cfg,
		mem:       mem,
		lastTried: make(map[models.TransformKind]time.Time),
		feedback:  make(map[models.TransformKind]float64),
	}
}

// SetFeedback installs impact-evaluation priority floors per kind. A
// hypothesis of a flagged kind is raised to at least the given priority
// before adjustment.
func (d *Engine) SetFeedback(fb map[models.TransformKind]float64) {
	d.feedback = fb
}

// componentInfo is the per-definition shape extracted during PERCEIVE.
type componentInfo struct {
	name  string
	lines int
}

// Perceive summarizes the current revision and counters into the
// hashable snapshot used for prioritization and episode similarity.
func (d *Engine) Perceive(rev models.Revision, revisionCount, consecutiveFailures, cyclesSinceCommit int) models.StateSnapshot {
	comps := parseComponents(rev.Source)
	state := models.StateSnapshot{
		RevisionID:          rev.ID,
		SourceHash:          rev.Hash,
		RevisionCount:       revisionCount,
		Components:          len(comps),
		SourceLines:         len(strings.Split(rev.Source, "\n")),
		Complexity:          complexityOf(rev.Source),
		ConsecutiveFailures: consecutiveFailures,
		CyclesSinceCommit:   cyclesSinceCommit,
	}
	if d.baselineComplexity == 0 {
		d.baselineComplexity = state.Complexity
	}
	d.log.Debug("Perceived system state",
		zap.String("phase", string(PhasePerceive)),
		zap.Int("components", state.Components),
		zap.Float64("complexity", state.Complexity),
		zap.Int("cycles_since_commit", state.CyclesSinceCommit),
	)
	return state
}

// Deliberate runs GENERATE_CANDIDATES, PRIORITIZE and SELECT. Extra
// hypotheses (remediation injections) join the generated set before
// prioritization. A nil selected hypothesis with no error means IDLE.
func (d *Engine) Deliberate(ctx context.Context, rev models.Revision, state models.StateSnapshot, extra []models.Hypothesis) (*models.Hypothesis, []Scored, error) {
	hyps := d.generate(rev, state)
	hyps = append(hyps, extra...)
	hyps = dedupe(hyps)
	if len(hyps) == 0 {
		d.log.Info("No hypotheses generated; idling", zap.String("phase", string(PhaseIdle)))
		return nil, nil, nil
	}

	scored, err := d.prioritize(ctx, hyps)
	if err != nil {
		return nil, nil, err
	}

	best := d.selectBest(scored)
	if best == nil {
		d.log.Info("No action cleared the threshold; idling",
			zap.String("phase", string(PhaseIdle)),
			zap.Float64("threshold", d.cfg.MinActionThreshold),
			zap.Float64("best_adjusted", scored[0].Adjusted),
		)
		return nil, scored, nil
	}

	d.lastTried[best.Kind] = time.Now().UTC()
	d.log.Info("Selected hypothesis",
		zap.String("phase", string(PhaseAct)),
		zap.String("component", best.Component),
		zap.String("kind", string(best.Kind)),
		zap.Float64("priority", best.Priority),
		zap.String("rationale", best.Rationale),
	)
	return best, scored, nil
}

// generate proposes hypotheses from the organism's shape.
func (d *Engine) generate(rev models.Revision, state models.StateSnapshot) []models.Hypothesis {
	comps := parseComponents(rev.Source)
	if len(comps) == 0 {
		return nil
	}
	largest := comps[0]
	smallest := comps[0]
	for _, c := range comps {
		if c.lines > largest.lines {
			largest = c
		}
		if c.lines < smallest.lines {
			smallest = c
		}
	}

	var out []models.Hypothesis
	add := func(component string, kind models.TransformKind, priority float64, rationale string) {
		out = append(out, models.Hypothesis{
			ID:        uuid.New().String(),
			Component: component,
			Kind:      kind,
			Rationale: rationale,
			Priority:  priority,
			CreatedAt: time.Now().UTC(),
		})
	}

	if growth := state.Complexity / d.baselineComplexity; growth > d.cfg.ComplexityGrowthLimit {
		add(largest.name, models.KindRefactorSimplification, priorityRefactor,
			fmt.Sprintf("complexity grew %.2fx over baseline; simplify %s", growth, largest.name))
	}
	if smallest.lines < d.cfg.ComponentFunctionFloor {
		add(smallest.name, models.KindExpandFunctionality, priorityExpand,
			fmt.Sprintf("%s is underdeveloped (%d lines); extend its behavior", smallest.name, smallest.lines))
	}
	if state.CyclesSinceCommit >= d.cfg.StagnationCycles {
		add(smallest.name, models.KindIntegrateModules, priorityIntegrate,
			fmt.Sprintf("%d cycles without an accepted change; integrate %s with a sibling component", state.CyclesSinceCommit, smallest.name))
	}
	// Periodic optimization pass keeps the action mix diverse without
	// depending on randomness.
	if state.RevisionCount%3 == 0 {
		add(largest.name, models.KindOptimizePerformance, priorityOptimize,
			fmt.Sprintf("periodic optimization pass over %s", largest.name))
	}

	d.log.Debug("Generated hypotheses",
		zap.String("phase", string(PhaseGenerate)),
		zap.Int("count", len(out)),
	)
	return out
}

// prioritize applies the two-stage adjustment: the recent failure rate
// pulls the base priority down, then the global success rate nudges it.
func (d *Engine) prioritize(ctx context.Context, hyps []models.Hypothesis) ([]Scored, error) {
	heuristics, err := d.mem.GlobalHeuristics(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading global heuristics: %w", err)
	}

	scored := make([]Scored, 0, len(hyps))
	for _, h := range hyps {
		base := h.Priority
		if floor, ok := d.feedback[h.Kind]; ok && floor > base {
			base = floor
		}

		recent, _, err := d.mem.RecentFailureRate(ctx, h.Component, h.Kind)
		if err != nil {
			return nil, fmt.Errorf("loading recent failure rate: %w", err)
		}
		global := heuristics[h.Kind].SuccessRate

		adjusted := base*(1-recencyWeight*recent) + globalWeight*global
		scored = append(scored, Scored{
			Hypothesis: h,
			Adjusted:   adjusted,
			RecentRate: recent,
			GlobalRate: global,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Adjusted != b.Adjusted {
			return a.Adjusted > b.Adjusted
		}
		if a.Hypothesis.Priority != b.Hypothesis.Priority {
			return a.Hypothesis.Priority > b.Hypothesis.Priority
		}
		// Least-recently-tried kind wins, so one component cannot
		// monopolize the loop.
		return d.lastTried[a.Hypothesis.Kind].Before(d.lastTried[b.Hypothesis.Kind])
	})

	d.log.Debug("Prioritized hypotheses",
		zap.String("phase", string(PhasePrioritize)),
		zap.Int("count", len(scored)),
	)
	return scored, nil
}

// selectBest applies the minimum action threshold.
func (d *Engine) selectBest(scored []Scored) *models.Hypothesis {
	if len(scored) == 0 || scored[0].Adjusted < d.cfg.MinActionThreshold {
		return nil
	}
	best := scored[0].Hypothesis
	return &best
}

// ReflectionInterval computes the adaptive pause before the next
// autonomous cycle: short while there is momentum or trouble to react
// to, long once the system has gone stale.
func (d *Engine) ReflectionInterval(state models.StateSnapshot, lastOutcome models.CycleOutcome) time.Duration {
	switch {
	case state.CyclesSinceCommit > d.cfg.StaleCycleThreshold:
		return d.cfg.StaleReflectInterval
	case lastOutcome == models.CycleCommitted || state.ConsecutiveFailures > 0:
		return d.cfg.BusyReflectInterval
	default:
		return d.cfg.BaseReflectInterval
	}
}

// RemediationHypothesis builds the elevated-priority review hypothesis
// injected after the consecutive-failure threshold is crossed.
func RemediationHypothesis(component string, failures int) models.Hypothesis {
	return models.Hypothesis{
		ID:          uuid.New().String(),
		Component:   component,
		Kind:        models.KindRefactorSimplification,
		Rationale:   fmt.Sprintf("%d consecutive rejections; review and simplify past failures in %s", failures, component),
		Priority:    priorityRemediation,
		Remediation: true,
		CreatedAt:   time.Now().UTC(),
	}
}

// dedupe keeps the first hypothesis per (component, kind) pair.
func dedupe(hyps []models.Hypothesis) []models.Hypothesis {
	seen := make(map[string]bool, len(hyps))
	var out []models.Hypothesis
	for _, h := range hyps {
		key := h.Component + "|" + string(h.Kind)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}

// parseComponents lists the organism's top-level definitions with their
// line spans. An unparseable source yields nothing; revisions are
// validated before they ever reach the store, so this only happens for
// a corrupt seed.
func parseComponents(source string) []componentInfo {
	opts := &syntax.FileOptions{Set: true, While: true, TopLevelControl: true, GlobalReassign: true}
	file, err := opts.Parse("organism.star", source, 0)
	if err != nil {
		return nil
	}
	var out []componentInfo
	for _, stmt := range file.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok {
			continue
		}
		start, end := def.Span()
		out = append(out, componentInfo{
			name:  def.Name.Name,
			lines: int(end.Line - start.Line + 1),
		})
	}
	return out
}

// complexityOf is a cheap structural size metric: line count plus a
// branch surcharge. It only needs to be monotone in "how tangled is
// this", not precise.
func complexityOf(source string) float64 {
	lines := float64(len(strings.Split(source, "\n")))
	branches := float64(strings.Count(source, "if ") + strings.Count(source, "for ") + strings.Count(source, "while "))
	return lines + 2*branches
}

// Package generator turns a selected hypothesis into a full candidate
// revision. The primary strategy asks the external oracle and extracts a
// fenced code block (or a unified diff to apply) from its free-text
// reply; when the oracle is unavailable or its output unusable, a
// deterministic template transformation produces a minimal structural
// placeholder instead, so a cycle never aborts on oracle trouble.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/api/schemas"
	"github.com/MrDeox/Autogs/internal/evolution/models"
	"github.com/MrDeox/Autogs/internal/evolution/sandbox"
)

// Generator is the candidate generation contract the engine depends on.
type Generator interface {
	Generate(ctx context.Context, hyp models.Hypothesis, parent models.Revision, failures []models.Episode) (models.Candidate, error)
}

const systemPrompt = `You are the modification engine of a self-evolving Starlark organism.
You receive the current organism source and one hypothesis describing a desired transformation.
Reply with the COMPLETE new organism source in a single fenced code block marked starlark.
You may instead reply with a unified diff in a fenced block marked diff.
Optionally include one extra fenced block marked tests containing Starlark assertions
(assert_true, assert_eq, assert_contains are predeclared) that verify your change.
The organism must stay self-contained: no imports, no load statements, no I/O, no network.`

// oracleAttempts bounds how many completions are requested for one
// hypothesis before falling back to the template strategy. Transport
// retries happen below this, inside the client's backoff budget.
const oracleAttempts = 2

// Oracle is the default generator.
type Oracle struct {
	log    *zap.Logger
	client schemas.LLMClient // nil disables the oracle entirely
}

var _ Generator = (*Oracle)(nil)

// New builds the generator. A nil client is valid and routes every
// request straight to the template strategy.
func New(logger *zap.Logger, client schemas.LLMClient) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{log: logger.Named("Generator"), client: client}
}

// Generate produces a candidate for the hypothesis. The returned
// candidate always parses; oracle failures degrade to the template
// strategy rather than returning an error. The only errors returned are
// context cancellation.
func (g *Oracle) Generate(ctx context.Context, hyp models.Hypothesis, parent models.Revision, failures []models.Episode) (models.Candidate, error) {
	if g.client != nil {
		cand, err := g.fromOracle(ctx, hyp, parent, failures)
		if err == nil {
			return cand, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return models.Candidate{}, err
		}
		g.log.Warn("Oracle generation failed; falling back to template",
			zap.String("component", hyp.Component),
			zap.String("kind", string(hyp.Kind)),
			zap.Error(err),
		)
	}
	return g.fromTemplate(hyp, parent), nil
}

// fromOracle asks the oracle for a new organism, with one corrective
// re-ask when the first reply carries no usable code.
func (g *Oracle) fromOracle(ctx context.Context, hyp models.Hypothesis, parent models.Revision, failures []models.Episode) (models.Candidate, error) {
	userPrompt := buildPrompt(hyp, parent, failures)

	var lastErr error
	for attempt := 1; attempt <= oracleAttempts; attempt++ {
		if attempt > 1 {
			userPrompt += "\n\nYour previous reply contained no valid organism source. " +
				"Reply again with the complete source in one fenced starlark block."
		}

		reply, err := g.client.Generate(ctx, schemas.GenerationRequest{
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			Tier:         schemas.TierPowerful,
			Options:      schemas.GenerationOptions{Temperature: 0.4},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return models.Candidate{}, err
			}
			return models.Candidate{}, fmt.Errorf("%w: %v", models.ErrOracleUnavailable, err)
		}

		source, suggested, err := extractCandidateSource(reply, parent.Source)
		if err != nil {
			lastErr = err
			g.log.Debug("Oracle reply unusable",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		return models.Candidate{
			ID:             uuid.New().String(),
			Hypothesis:     hyp,
			ParentID:       parent.ID,
			Source:         source,
			Origin:         models.OriginOracle,
			SuggestedTests: suggested,
			CreatedAt:      time.Now().UTC(),
		}, nil
	}
	return models.Candidate{}, fmt.Errorf("no usable source after %d oracle attempts: %w", oracleAttempts, lastErr)
}

// buildPrompt assembles the request: the hypothesis, the current source
// and any prior-failure context so the oracle does not repeat mistakes.
func buildPrompt(hyp models.Hypothesis, parent models.Revision, failures []models.Episode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HYPOTHESIS\ncomponent: %s\ntransformation: %s\nrationale: %s\n\n", hyp.Component, hyp.Kind, hyp.Rationale)
	fmt.Fprintf(&sb, "CURRENT ORGANISM (revision %d)\n```starlark\n%s\n```\n", parent.Seq, parent.Source)

	if len(failures) > 0 {
		sb.WriteString("\nPRIOR FAILED ATTEMPTS (avoid repeating these):\n")
		for _, ep := range failures {
			fmt.Fprintf(&sb, "- %s on %s: %s (%s)\n", ep.Action.Kind, ep.Action.Component, ep.Outcome, ep.Detail)
		}
	}
	return sb.String()
}

// fromTemplate produces the deterministic placeholder candidate for the
// hypothesis kind. Template candidates are additive-only, so they never
// break the regression suite; they exist to keep the loop moving and the
// bookkeeping honest when the oracle cannot help.
func (g *Oracle) fromTemplate(hyp models.Hypothesis, parent models.Revision) models.Candidate {
	source := applyTemplate(hyp, parent)
	g.log.Info("Generated template candidate",
		zap.String("component", hyp.Component),
		zap.String("kind", string(hyp.Kind)),
	)
	return models.Candidate{
		ID:         uuid.New().String(),
		Hypothesis: hyp,
		ParentID:   parent.ID,
		Source:     source,
		Origin:     models.OriginTemplate,
		CreatedAt:  time.Now().UTC(),
	}
}

// validateSource accepts a source only if it parses and actually differs
// from the parent.
func validateSource(source, parentSource string) error {
	if strings.TrimSpace(source) == "" {
		return errors.New("empty source")
	}
	if err := sandbox.CheckSyntax(source); err != nil {
		return fmt.Errorf("candidate does not parse: %w", err)
	}
	if strings.TrimSpace(source) == strings.TrimSpace(parentSource) {
		return errors.New("candidate is identical to parent")
	}
	return nil
}

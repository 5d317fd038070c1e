// Package impact classifies the journal's cycle history into an overall
// trend and turns it into concrete feedback: recommendations for the
// operator and priority floors fed back into the deliberation engine.
package impact

import (
	"fmt"
	"strings"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// Severity grades a recommendation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// priorityFloor maps a severity to the hypothesis priority floor it
// imposes on its transformation kind.
var priorityFloor = map[Severity]float64{
	SeverityCritical: 0.9,
	SeverityHigh:     0.8,
	SeverityMedium:   0.7,
	SeverityLow:      0.6,
}

// Classification is the overall trend of recent history.
type Classification string

const (
	ClassPositive   Classification = "positive"
	ClassNeutral    Classification = "neutral"
	ClassMixed      Classification = "mixed"
	ClassConcerning Classification = "concerning"
	ClassNegative   Classification = "negative"
)

// Recommendation is one piece of actionable feedback.
type Recommendation struct {
	Severity Severity             `json:"severity"`
	Kind     models.TransformKind `json:"kind"`
	Message  string               `json:"message"`
}

// Report is the full impact evaluation.
type Report struct {
	Classification   Classification   `json:"classification"`
	Cycles           int              `json:"cycles"`
	Committed        int              `json:"committed"`
	RejectedSecurity int              `json:"rejected_security"`
	RejectedTests    int              `json:"rejected_tests"`
	Errored          int              `json:"errored"`
	Idle             int              `json:"idle"`
	Recommendations  []Recommendation `json:"recommendations"`
}

// Evaluate reduces cycle history into a report. An empty history is
// neutral with no recommendations.
func Evaluate(cycles []models.CycleResult) Report {
	r := Report{Classification: ClassNeutral, Cycles: len(cycles)}
	for _, c := range cycles {
		switch c.Outcome {
		case models.CycleCommitted:
			r.Committed++
		case models.CycleRejectedSecurity:
			r.RejectedSecurity++
		case models.CycleRejectedTests:
			r.RejectedTests++
		case models.CycleErrored:
			r.Errored++
		case models.CycleIdle:
			r.Idle++
		}
	}

	active := r.Cycles - r.Idle
	if active == 0 {
		return r
	}
	commitRate := float64(r.Committed) / float64(active)
	errorRate := float64(r.Errored) / float64(active)
	securityRate := float64(r.RejectedSecurity) / float64(active)

	switch {
	case errorRate > 0.3:
		r.Classification = ClassNegative
	case securityRate > 0.25:
		r.Classification = ClassConcerning
	case commitRate >= 0.5 && errorRate == 0:
		r.Classification = ClassPositive
	case commitRate > 0:
		r.Classification = ClassMixed
	default:
		r.Classification = ClassConcerning
	}

	if r.Errored > 0 {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Severity: SeverityCritical,
			Kind:     models.KindRefactorSimplification,
			Message:  fmt.Sprintf("%d cycle(s) hit infrastructure faults; simplify before expanding further", r.Errored),
		})
	}
	if securityRate > 0.25 {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Severity: SeverityHigh,
			Kind:     models.KindRefactorSimplification,
			Message:  "candidates keep tripping the security screen; generated code is drifting toward disallowed constructs",
		})
	}
	if commitRate < 0.25 {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Severity: SeverityMedium,
			Kind:     models.KindExpandFunctionality,
			Message:  "acceptance rate is low; try smaller, additive changes",
		})
	}
	if r.Idle > r.Cycles/2 {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Severity: SeverityLow,
			Kind:     models.KindOptimizePerformance,
			Message:  "most cycles idle; the action threshold may be stricter than the hypothesis pool warrants",
		})
	}
	return r
}

// PriorityFloors folds the recommendations into per-kind priority
// floors for the deliberation engine, keeping the highest floor per kind.
func (r Report) PriorityFloors() map[models.TransformKind]float64 {
	out := make(map[models.TransformKind]float64)
	for _, rec := range r.Recommendations {
		floor := priorityFloor[rec.Severity]
		if floor > out[rec.Kind] {
			out[rec.Kind] = floor
		}
	}
	return out
}

// Markdown renders the report for the audit command.
func (r Report) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Impact evaluation\n\n")
	fmt.Fprintf(&sb, "Classification: **%s** over %d cycle(s)\n\n", r.Classification, r.Cycles)
	fmt.Fprintf(&sb, "| outcome | count |\n|---|---|\n")
	fmt.Fprintf(&sb, "| committed | %d |\n", r.Committed)
	fmt.Fprintf(&sb, "| rejected (security) | %d |\n", r.RejectedSecurity)
	fmt.Fprintf(&sb, "| rejected (tests) | %d |\n", r.RejectedTests)
	fmt.Fprintf(&sb, "| errored | %d |\n", r.Errored)
	fmt.Fprintf(&sb, "| idle | %d |\n", r.Idle)
	if len(r.Recommendations) > 0 {
		sb.WriteString("\n## Recommendations\n\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&sb, "- **%s** (%s): %s\n", rec.Severity, rec.Kind, rec.Message)
		}
	}
	return sb.String()
}

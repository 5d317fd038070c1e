// Package evaluator reduces a sandbox test report into the aggregate
// PASS/FAIL/ERROR verdict that gates the version store.
package evaluator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// Evaluator applies the adjudication policy: PASS only when every case
// passed and zero errors occurred. FAIL and ERROR stay distinct because
// they imply different remediation (regenerate vs retry).
type Evaluator struct {
	log *zap.Logger
}

// New builds an evaluator.
func New(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{log: logger.Named("Evaluator")}
}

// Evaluate turns a report into a verdict plus a human-readable summary.
// An empty report is ERROR: no test coverage is not evidence of safety,
// and treating it as PASS would create an always-accept degenerate state.
func (e *Evaluator) Evaluate(report models.TestReport) models.Evaluation {
	switch {
	case report.Run == 0:
		return models.Evaluation{
			Verdict: models.VerdictError,
			Summary: "zero test coverage: no test cases were generated for this candidate",
		}
	case report.Errored > 0:
		return models.Evaluation{
			Verdict: models.VerdictError,
			Summary: fmt.Sprintf("%d of %d test(s) errored (%s); infrastructure fault, not a logical failure", report.Errored, report.Run, firstProblem(report, models.TestError)),
		}
	case report.Failed > 0:
		return models.Evaluation{
			Verdict: models.VerdictFail,
			Summary: fmt.Sprintf("%d of %d test(s) failed (%s)", report.Failed, report.Run, firstProblem(report, models.TestFail)),
		}
	default:
		return models.Evaluation{
			Verdict: models.VerdictPass,
			Summary: fmt.Sprintf("all %d test(s) passed in %s", report.Run, report.Duration.Round(1e6)),
		}
	}
}

// firstProblem names the first case with the given status, to anchor the
// summary on something actionable.
func firstProblem(report models.TestReport, status models.TestStatus) string {
	for _, r := range report.Results {
		if r.Status == status {
			return fmt.Sprintf("first: %s: %s", r.Name, r.Error)
		}
	}
	return "unknown case"
}

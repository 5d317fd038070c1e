package evaluator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/MrDeox/Autogs/internal/evolution/evaluator"
	"github.com/MrDeox/Autogs/internal/evolution/models"
)

func report(pass, fail, errored int) models.TestReport {
	r := models.TestReport{}
	add := func(n int, status models.TestStatus) {
		for i := 0; i < n; i++ {
			r.Results = append(r.Results, models.TestResult{Name: "case", Status: status, Error: "boom"})
		}
	}
	add(pass, models.TestPass)
	add(fail, models.TestFail)
	add(errored, models.TestError)
	r.Run = pass + fail + errored
	r.Passed, r.Failed, r.Errored = pass, fail, errored
	return r
}

func TestEvaluate_AllPassing(t *testing.T) {
	e := evaluator.New(zaptest.NewLogger(t))

	ev := e.Evaluate(report(5, 0, 0))
	assert.Equal(t, models.VerdictPass, ev.Verdict)
	assert.Contains(t, ev.Summary, "all 5 test(s) passed")
}

func TestEvaluate_ZeroTestsIsError(t *testing.T) {
	e := evaluator.New(zaptest.NewLogger(t))

	ev := e.Evaluate(models.TestReport{})
	assert.Equal(t, models.VerdictError, ev.Verdict)
	assert.Contains(t, ev.Summary, "zero test coverage")
}

func TestEvaluate_AnyFailureFails(t *testing.T) {
	e := evaluator.New(zaptest.NewLogger(t))

	ev := e.Evaluate(report(9, 1, 0))
	assert.Equal(t, models.VerdictFail, ev.Verdict)
	assert.Contains(t, ev.Summary, "1 of 10 test(s) failed")
}

func TestEvaluate_ErrorDominatesFailure(t *testing.T) {
	e := evaluator.New(zaptest.NewLogger(t))

	// Mixed failures and errors must surface as ERROR: the run is not
	// trustworthy evidence either way.
	ev := e.Evaluate(report(3, 2, 1))
	assert.Equal(t, models.VerdictError, ev.Verdict)
	assert.Contains(t, ev.Summary, "errored")
}

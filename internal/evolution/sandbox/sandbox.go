// Package sandbox executes candidate organisms in isolation. Every test
// case gets a fresh Starlark thread and a fresh execution of the
// candidate source, so no global mutation can leak between cases or
// between candidates. Execution is bounded both by an interpreter step
// limit and a wall-clock timeout; exceeding either yields ERROR, never a
// hang. Printed output is captured per case and never reaches the host's
// own streams.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

const organismFile = "organism.star"

// assertionPrefix marks errors raised by the assert builtins; it is what
// separates a logical FAIL from an infrastructure ERROR.
const assertionPrefix = "assertion failed: "

// fileOpts enables the Starlark dialect features the organism relies on.
var fileOpts = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// CheckSyntax reports whether source parses as a valid organism script.
func CheckSyntax(source string) error {
	_, err := fileOpts.Parse(organismFile, source, 0)
	return err
}

// Executor runs test suites against candidates under the configured
// resource bounds. It holds no per-candidate state and is safe for
// sequential reuse across cycles.
type Executor struct {
	log         *zap.Logger
	timeout     time.Duration
	maxSteps    uint64
	parallelism int
}

// New builds an executor. Parallelism below 1 is clamped to sequential
// execution.
func New(logger *zap.Logger, timeout time.Duration, maxSteps uint64, parallelism int) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &Executor{
		log:         logger.Named("Sandbox"),
		timeout:     timeout,
		maxSteps:    maxSteps,
		parallelism: parallelism,
	}
}

// Run executes the suite against the candidate and returns the report.
// The candidate is loaded once up front to surface load failures cheaply;
// a candidate that cannot load yields ERROR for every case. Cases may run
// in parallel, but each one owns its thread, globals and output buffer,
// and results are collected into fixed slots so the report order is
// deterministic.
func (e *Executor) Run(ctx context.Context, cand models.Candidate, suite []models.TestCase) models.TestReport {
	started := time.Now()
	report := models.TestReport{CandidateID: cand.ID}

	if len(suite) == 0 {
		// The evaluator turns an empty report into ERROR; nothing to do.
		return report
	}

	// Pre-flight load in its own namespace. A failure here is an
	// infrastructure fault of the candidate itself, not a test failure.
	if _, err := e.execOrganism(ctx, cand.Source, nil); err != nil {
		e.log.Warn("Candidate failed to load",
			zap.String("candidate_id", cand.ID),
			zap.Error(err),
		)
		for _, tc := range suite {
			report.Results = append(report.Results, models.TestResult{
				CaseID: tc.ID,
				Name:   tc.Name,
				Status: models.TestError,
				Error:  fmt.Sprintf("candidate load failed: %v", err),
			})
		}
		e.tally(&report, time.Since(started))
		return report
	}

	results := make([]models.TestResult, len(suite))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, tc := range suite {
		g.Go(func() error {
			results[i] = e.runCase(gctx, cand.Source, tc)
			return nil
		})
	}
	_ = g.Wait() // case faults are encoded in results, never returned

	report.Results = results
	e.tally(&report, time.Since(started))
	e.log.Info("Sandbox run complete",
		zap.String("candidate_id", cand.ID),
		zap.Int("run", report.Run),
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
		zap.Int("errored", report.Errored),
		zap.Duration("duration", report.Duration),
	)
	return report
}

func (e *Executor) tally(report *models.TestReport, elapsed time.Duration) {
	report.Duration = elapsed
	report.Run = len(report.Results)
	for _, r := range report.Results {
		switch r.Status {
		case models.TestPass:
			report.Passed++
		case models.TestFail:
			report.Failed++
		default:
			report.Errored++
		}
	}
}

// runCase executes one test case in a fresh namespace: the candidate is
// re-executed, then the case script runs with the candidate's globals
// plus the assertion builtins predeclared.
func (e *Executor) runCase(ctx context.Context, source string, tc models.TestCase) models.TestResult {
	start := time.Now()
	res := models.TestResult{CaseID: tc.ID, Name: tc.Name}

	var out outputBuffer
	globals, err := e.execOrganism(ctx, source, out.print)
	if err != nil {
		res.Status = models.TestError
		res.Error = fmt.Sprintf("candidate load failed: %v", err)
		res.Output = out.String()
		res.Duration = time.Since(start)
		return res
	}

	env := make(starlark.StringDict, len(globals)+3)
	for k, v := range globals {
		env[k] = v
	}
	env["assert_true"] = starlark.NewBuiltin("assert_true", builtinAssertTrue)
	env["assert_eq"] = starlark.NewBuiltin("assert_eq", builtinAssertEq)
	env["assert_contains"] = starlark.NewBuiltin("assert_contains", builtinAssertContains)

	err = e.execBounded(ctx, tc.Name+".star", tc.Script, env, out.print)
	res.Output = out.String()
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Status = models.TestPass
	case isAssertionError(err):
		res.Status = models.TestFail
		res.Error = err.Error()
	default:
		res.Status = models.TestError
		res.Error = err.Error()
	}
	return res
}

// execOrganism runs the candidate source in a fresh thread and returns
// its globals.
func (e *Executor) execOrganism(ctx context.Context, source string, print func(string)) (starlark.StringDict, error) {
	var globals starlark.StringDict
	err := e.withBoundedThread(ctx, "organism", print, func(thread *starlark.Thread) error {
		var execErr error
		globals, execErr = starlark.ExecFileOptions(fileOpts, thread, organismFile, source, nil)
		return execErr
	})
	return globals, err
}

// execBounded runs an arbitrary script under the executor's limits.
func (e *Executor) execBounded(ctx context.Context, name, script string, env starlark.StringDict, print func(string)) error {
	return e.withBoundedThread(ctx, name, print, func(thread *starlark.Thread) error {
		_, err := starlark.ExecFileOptions(fileOpts, thread, name, script, env)
		return err
	})
}

// withBoundedThread provides the common execution envelope: a fresh
// thread with the step limit applied, print routed to the case buffer,
// and a watchdog that cancels the thread on timeout or context
// cancellation. The watchdog is always reaped before returning.
func (e *Executor) withBoundedThread(ctx context.Context, name string, print func(string), fn func(*starlark.Thread) error) error {
	thread := &starlark.Thread{Name: name}
	if print != nil {
		thread.Print = func(_ *starlark.Thread, msg string) { print(msg) }
	} else {
		thread.Print = func(_ *starlark.Thread, _ string) {}
	}
	thread.SetMaxExecutionSteps(e.maxSteps)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-runCtx.Done():
			thread.Cancel("wall clock limit exceeded")
		case <-done:
		}
	}()

	err := fn(thread)
	close(done)
	wg.Wait()

	if err != nil && runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("execution timed out after %s: %w", e.timeout, err)
	}
	return err
}

// isAssertionError reports whether the error came from an assertion
// builtin or from Starlark's fail(), both of which mean FAIL rather than
// ERROR.
func isAssertionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, assertionPrefix) || strings.Contains(msg, "fail: ")
}

// outputBuffer is a mutex-guarded sink for captured print output. One
// buffer serves both the organism load and the case script of a single
// test case.
type outputBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *outputBuffer) print(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.WriteString(msg)
	b.sb.WriteString("\n")
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

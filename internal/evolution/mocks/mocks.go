// Package mocks provides testify-based test doubles for the pipeline's
// pluggable contracts.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/MrDeox/Autogs/api/schemas"
	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// MockLLMClient mocks schemas.LLMClient. Generate runs the expectation
// in a goroutine and respects context cancellation, so tests can
// exercise timeout paths without hanging.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		args := m.MethodCalled("Generate", ctx, req)
		done <- result{args.String(0), args.Error(1)}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockTestSource mocks testsource.Source.
type MockTestSource struct {
	mock.Mock
}

func (m *MockTestSource) Generate(ctx context.Context, cand models.Candidate, diff models.Diff) ([]models.TestCase, error) {
	args := m.Called(ctx, cand, diff)
	cases, _ := args.Get(0).([]models.TestCase)
	return cases, args.Error(1)
}

// MockGenerator mocks generator.Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, hyp models.Hypothesis, parent models.Revision, failures []models.Episode) (models.Candidate, error) {
	args := m.Called(ctx, hyp, parent, failures)
	cand, _ := args.Get(0).(models.Candidate)
	return cand, args.Error(1)
}

// MockMemory mocks memory.Store.
type MockMemory struct {
	mock.Mock
}

func (m *MockMemory) Record(ctx context.Context, ep models.Episode) error {
	args := m.Called(ctx, ep)
	return args.Error(0)
}

func (m *MockMemory) RecentFailureRate(ctx context.Context, component string, kind models.TransformKind) (float64, int, error) {
	args := m.Called(ctx, component, kind)
	return args.Get(0).(float64), args.Int(1), args.Error(2)
}

func (m *MockMemory) GlobalHeuristics(ctx context.Context) (map[models.TransformKind]models.Heuristic, error) {
	args := m.Called(ctx)
	h, _ := args.Get(0).(map[models.TransformKind]models.Heuristic)
	return h, args.Error(1)
}

func (m *MockMemory) RecentFailures(ctx context.Context, component string, kind models.TransformKind, limit int) ([]models.Episode, error) {
	args := m.Called(ctx, component, kind, limit)
	eps, _ := args.Get(0).([]models.Episode)
	return eps, args.Error(1)
}

func (m *MockMemory) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockMemory) Close() {
	m.Called()
}

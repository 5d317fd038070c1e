package generator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MrDeox/Autogs/internal/evolution/generator"
	"github.com/MrDeox/Autogs/internal/evolution/mocks"
	"github.com/MrDeox/Autogs/internal/evolution/models"
	"github.com/MrDeox/Autogs/internal/evolution/sandbox"
)

const parentSource = `def genome():
    return {"name": "autogs", "generation": 1}
`

var parentRev = models.Revision{ID: "rev-1", Seq: 3, Source: parentSource}

func testHyp() models.Hypothesis {
	return models.Hypothesis{
		ID:        "hyp-1",
		Component: "genome",
		Kind:      models.KindExpandFunctionality,
		Rationale: "extend genome",
		Priority:  0.6,
	}
}

const fencedReply = "Here is the improved organism:\n" +
	"```starlark\n" +
	"def genome():\n" +
	"    return {\"name\": \"autogs\", \"generation\": 2}\n" +
	"```\n"

func TestGenerate_UsesFencedOracleSource(t *testing.T) {
	mockLLM := new(mocks.MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return(fencedReply, nil).Once()

	g := generator.New(zaptest.NewLogger(t), mockLLM)
	cand, err := g.Generate(context.Background(), testHyp(), parentRev, nil)
	require.NoError(t, err)

	assert.Equal(t, models.OriginOracle, cand.Origin)
	assert.Equal(t, "rev-1", cand.ParentID)
	assert.Contains(t, cand.Source, "\"generation\": 2")
	assert.NoError(t, sandbox.CheckSyntax(cand.Source))
	mockLLM.AssertExpectations(t)
}

func TestGenerate_ExtractsSuggestedTests(t *testing.T) {
	reply := fencedReply +
		"```tests\n" +
		"assert_eq(genome()[\"generation\"], 2)\n" +
		"```\n"
	mockLLM := new(mocks.MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return(reply, nil).Once()

	g := generator.New(zaptest.NewLogger(t), mockLLM)
	cand, err := g.Generate(context.Background(), testHyp(), parentRev, nil)
	require.NoError(t, err)

	assert.Contains(t, cand.SuggestedTests, "assert_eq(genome()")
}

func TestGenerate_AppliesFencedDiff(t *testing.T) {
	reply := "```diff\n" +
		"--- organism.star\n" +
		"+++ organism.star\n" +
		"@@ -1,2 +1,2 @@\n" +
		" def genome():\n" +
		"-    return {\"name\": \"autogs\", \"generation\": 1}\n" +
		"+    return {\"name\": \"autogs\", \"generation\": 7}\n" +
		"```\n"
	mockLLM := new(mocks.MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return(reply, nil).Once()

	g := generator.New(zaptest.NewLogger(t), mockLLM)
	cand, err := g.Generate(context.Background(), testHyp(), parentRev, nil)
	require.NoError(t, err)

	assert.Equal(t, models.OriginOracle, cand.Origin)
	assert.Contains(t, cand.Source, "\"generation\": 7")
	assert.NotContains(t, cand.Source, "\"generation\": 1")
}

func TestGenerate_CorrectiveReaskAfterUnusableReply(t *testing.T) {
	mockLLM := new(mocks.MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return("I cannot help with that.", nil).Once()
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return(fencedReply, nil).Once()

	g := generator.New(zaptest.NewLogger(t), mockLLM)
	cand, err := g.Generate(context.Background(), testHyp(), parentRev, nil)
	require.NoError(t, err)

	assert.Equal(t, models.OriginOracle, cand.Origin)
	mockLLM.AssertNumberOfCalls(t, "Generate", 2)
}

func TestGenerate_OracleFailureFallsBackToTemplate(t *testing.T) {
	mockLLM := new(mocks.MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("upstream 503"))

	g := generator.New(zaptest.NewLogger(t), mockLLM)
	cand, err := g.Generate(context.Background(), testHyp(), parentRev, nil)
	require.NoError(t, err, "oracle trouble must not abort the cycle")

	assert.Equal(t, models.OriginTemplate, cand.Origin)
	assert.Contains(t, cand.Source, parentSource[:20], "template keeps the parent source")
	assert.Contains(t, cand.Source, "genome_probe_r4")
	assert.NoError(t, sandbox.CheckSyntax(cand.Source))
}

func TestGenerate_PersistentlyUnusableRepliesFallBackToTemplate(t *testing.T) {
	mockLLM := new(mocks.MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return("still no code", nil)

	g := generator.New(zaptest.NewLogger(t), mockLLM)
	cand, err := g.Generate(context.Background(), testHyp(), parentRev, nil)
	require.NoError(t, err)

	assert.Equal(t, models.OriginTemplate, cand.Origin)
	mockLLM.AssertNumberOfCalls(t, "Generate", 2)
}

func TestGenerate_NilClientGoesStraightToTemplate(t *testing.T) {
	g := generator.New(zaptest.NewLogger(t), nil)

	for _, kind := range models.AllTransformKinds() {
		hyp := testHyp()
		hyp.Kind = kind

		cand, err := g.Generate(context.Background(), hyp, parentRev, nil)
		require.NoError(t, err)
		assert.Equal(t, models.OriginTemplate, cand.Origin)
		assert.NoError(t, sandbox.CheckSyntax(cand.Source), "template for %s must parse", kind)
		assert.NotEqual(t, parentRev.Source, cand.Source)
	}
}

func TestGenerate_CancellationPropagates(t *testing.T) {
	mockLLM := new(mocks.MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return("", context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := generator.New(zaptest.NewLogger(t), mockLLM)
	_, err := g.Generate(ctx, testHyp(), parentRev, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_RejectsSourceIdenticalToParent(t *testing.T) {
	identical := "```starlark\n" + parentSource + "```\n"
	mockLLM := new(mocks.MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return(identical, nil)

	g := generator.New(zaptest.NewLogger(t), mockLLM)
	cand, err := g.Generate(context.Background(), testHyp(), parentRev, nil)
	require.NoError(t, err)

	// No-op oracle output is unusable; the template must step in.
	assert.Equal(t, models.OriginTemplate, cand.Origin)
}

package screener_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MrDeox/Autogs/internal/evolution/models"
	"github.com/MrDeox/Autogs/internal/evolution/screener"
)

func makeDiff(t *testing.T, parentSource, candSource string) models.Diff {
	t.Helper()
	parent := models.Revision{ID: "rev-1", Source: parentSource}
	cand := models.Candidate{ID: "cand-1", ParentID: "rev-1", Source: candSource}
	return screener.ComputeDiff(parent, cand)
}

func TestScreen_AllowsBenignAddition(t *testing.T) {
	s := screener.New(zaptest.NewLogger(t))

	d := makeDiff(t,
		"def genome():\n    return {}\n",
		"def genome():\n    return {}\n\ndef vitality():\n    return 42\n",
	)
	res := s.Screen(context.Background(), d)

	assert.Equal(t, models.ScreenAllow, res.Verdict)
	assert.Empty(t, res.Records)
}

func TestScreen_BlocksDynamicEvaluation(t *testing.T) {
	s := screener.New(zaptest.NewLogger(t))

	d := makeDiff(t,
		"def genome():\n    return {}\n",
		"def genome():\n    x = eval(\"1+1\")\n    return {}\n",
	)
	res := s.Screen(context.Background(), d)

	require.Equal(t, models.ScreenBlock, res.Verdict)
	assert.Equal(t, "dyn-eval", res.PatternID)
	require.NotEmpty(t, res.Records)
	assert.Equal(t, "dyn-eval", res.Records[0].PatternID)
	assert.Contains(t, res.Records[0].Excerpt, "eval")
	assert.Positive(t, res.Records[0].StartLine)
}

func TestScreen_BlocksEachPatternFamily(t *testing.T) {
	s := screener.New(zaptest.NewLogger(t))
	parent := "def genome():\n    return {}\n"

	cases := []struct {
		name    string
		added   string
		pattern string
	}{
		{"exec", "    exec(code)\n", "dyn-exec"},
		{"subprocess", "    subprocess.run([\"ls\"])\n", "proc-subprocess"},
		{"file open", "    f = open(\"/etc/passwd\")\n", "fs-open"},
		{"socket", "    s = socket.socket()\n", "net-socket"},
		{"import", "import os\n", "mod-import"},
		{"load", "load(\"module.star\", \"fn\")\n", "mod-load"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := makeDiff(t, parent, parent+"def extra():\n"+tc.added)
			res := s.Screen(context.Background(), d)

			require.Equal(t, models.ScreenBlock, res.Verdict)
			ids := make([]string, 0, len(res.Records))
			for _, rec := range res.Records {
				ids = append(ids, rec.PatternID)
			}
			assert.Contains(t, ids, tc.pattern)
		})
	}
}

func TestScreen_BlocksRemovalOfSafetyDefinition(t *testing.T) {
	s := screener.New(zaptest.NewLogger(t))

	parent := "def guard_limits(x):\n    return x < 100\n\ndef genome():\n    return {}\n"
	cand := "def genome():\n    return {}\n"

	res := s.Screen(context.Background(), makeDiff(t, parent, cand))

	require.Equal(t, models.ScreenBlock, res.Verdict)
	assert.Equal(t, "safety-removal", res.PatternID)
	assert.Contains(t, res.Reason, "guard_limits")
}

func TestScreen_MalformedDiffBlocksWithoutError(t *testing.T) {
	s := screener.New(zaptest.NewLogger(t))

	for _, unified := range []string{"", "   \n", "this is not a diff"} {
		res := s.Screen(context.Background(), models.Diff{CandidateID: "cand-1", Unified: unified})

		assert.Equal(t, models.ScreenBlock, res.Verdict)
		assert.Equal(t, "diff-parse", res.PatternID)
		require.Len(t, res.Records, 1)
	}
}

func TestScreen_IsDiffScoped(t *testing.T) {
	s := screener.New(zaptest.NewLogger(t))

	// The parent already contains a construct that would be blocked if it
	// were newly added. Only the diff is screened, so an unrelated benign
	// change must pass.
	parent := "def legacy():\n    x = eval(\"1\")\n    return x\n"
	cand := parent + "\ndef fresh():\n    return 7\n"

	res := s.Screen(context.Background(), makeDiff(t, parent, cand))
	assert.Equal(t, models.ScreenAllow, res.Verdict)
}

func TestScreen_RecordsEveryMatch(t *testing.T) {
	s := screener.New(zaptest.NewLogger(t))

	parent := "def genome():\n    return {}\n"
	cand := parent + "def bad():\n    a = eval(\"1\")\n    b = exec(\"2\")\n"

	res := s.Screen(context.Background(), makeDiff(t, parent, cand))

	require.Equal(t, models.ScreenBlock, res.Verdict)
	ids := map[string]bool{}
	for _, rec := range res.Records {
		ids[rec.PatternID] = true
	}
	assert.True(t, ids["dyn-eval"], "eval match must be recorded")
	assert.True(t, ids["dyn-exec"], "exec match must be recorded")
}

func TestScreen_IsDeterministic(t *testing.T) {
	s := screener.New(zaptest.NewLogger(t))

	d := makeDiff(t,
		"def genome():\n    return {}\n",
		"def genome():\n    return open(\"x\")\n",
	)
	first := s.Screen(context.Background(), d)
	second := s.Screen(context.Background(), d)

	require.Equal(t, models.ScreenBlock, first.Verdict)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("screening is not deterministic (-first +second):\n%s", diff)
	}
}

func TestComputeDiff_TracksLineNumbers(t *testing.T) {
	parent := models.Revision{ID: "rev-1", Source: "a\nb\nc\n"}
	cand := models.Candidate{ID: "cand-1", Source: "a\nx\nc\nd\n"}

	d := screener.ComputeDiff(parent, cand)

	assert.Equal(t, "rev-1", d.ParentID)
	assert.Equal(t, "cand-1", d.CandidateID)
	assert.Contains(t, d.Unified, "--- organism.star")
	assert.Contains(t, d.Unified, "+x")
	assert.Contains(t, d.Unified, "-b")

	require.NotEmpty(t, d.Added)
	require.NotEmpty(t, d.Removed)
	assert.Equal(t, "b", d.Removed[0].Text)
	assert.Equal(t, 2, d.Removed[0].Number)
}

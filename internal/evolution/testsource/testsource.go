// Package testsource supplies the test cases a candidate must survive.
// The source is pluggable behind a single Generate contract; the default
// implementation combines a persisted regression suite keyed by
// component, structural smoke stubs derived from the candidate's own
// definitions, and any externally suggested tests carried on the
// candidate.
package testsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Source is the pluggable test case contract. Implementations must be
// deterministic for a given candidate: regenerating the suite without an
// intervening state change yields equivalent cases.
type Source interface {
	Generate(ctx context.Context, cand models.Candidate, diff models.Diff) ([]models.TestCase, error)
}

// regressionFile is the on-disk shape of a persisted regression suite.
type regressionFile struct {
	Component string `json:"component"`
	Cases     []struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Script      string `json:"script"`
	} `json:"cases"`
}

// Default is the standard three-way source.
type Default struct {
	log        *zap.Logger
	regression map[string][]models.TestCase // component -> cases
}

var _ Source = (*Default)(nil)

// New builds the default source. regressionDir may be empty; when set,
// every *.json file in it is loaded as a component regression suite and
// merged over the built-in baseline.
func New(logger *zap.Logger, regressionDir string) (*Default, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Default{
		log:        logger.Named("TestSource"),
		regression: builtinRegression(),
	}
	if regressionDir != "" {
		if err := d.loadDir(regressionDir); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Default) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.log.Debug("No regression directory; using built-in suite only", zap.String("dir", dir))
			return nil
		}
		return fmt.Errorf("reading regression dir: %w", err)
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return fmt.Errorf("reading regression file %s: %w", ent.Name(), err)
		}
		var rf regressionFile
		if err := json.Unmarshal(raw, &rf); err != nil {
			return fmt.Errorf("parsing regression file %s: %w", ent.Name(), err)
		}
		var cases []models.TestCase
		for _, c := range rf.Cases {
			cases = append(cases, models.TestCase{
				ID:          uuid.New().String(),
				Name:        c.Name,
				Description: c.Description,
				Component:   rf.Component,
				Script:      c.Script,
				Origin:      models.TestOriginRegression,
			})
		}
		d.regression[rf.Component] = cases
		d.log.Info("Loaded regression suite",
			zap.String("component", rf.Component),
			zap.Int("cases", len(cases)),
		)
	}
	return nil
}

// Generate assembles the suite for one candidate: the full regression
// baseline, a smoke stub for every zero-argument definition not already
// covered, and the candidate's suggested tests if it carried any.
func (d *Default) Generate(_ context.Context, cand models.Candidate, _ models.Diff) ([]models.TestCase, error) {
	var suite []models.TestCase

	covered := make(map[string]bool)
	for component, cases := range d.regression {
		covered[component] = true
		suite = append(suite, cases...)
	}

	for _, def := range topLevelDefs(cand.Source) {
		if covered[def.name] || def.params > 0 {
			continue
		}
		suite = append(suite, models.TestCase{
			ID:          uuid.New().String(),
			Name:        "smoke_" + def.name,
			Description: "structural stub: calling " + def.name + "() must not error",
			Component:   def.name,
			Script:      fmt.Sprintf("_ = %s()\n", def.name),
			Origin:      models.TestOriginStructural,
		})
	}

	if strings.TrimSpace(cand.SuggestedTests) != "" {
		suite = append(suite, models.TestCase{
			ID:          uuid.New().String(),
			Name:        "suggested_" + cand.Hypothesis.Component,
			Description: "externally suggested test for " + cand.Hypothesis.Component,
			Component:   cand.Hypothesis.Component,
			Script:      cand.SuggestedTests,
			Origin:      models.TestOriginSuggested,
		})
	}

	d.log.Debug("Generated test suite",
		zap.String("candidate_id", cand.ID),
		zap.Int("cases", len(suite)),
	)
	return suite, nil
}

type defInfo struct {
	name   string
	params int
}

// topLevelDefs parses the candidate and lists its top-level definitions.
// An unparseable candidate yields no defs; the sandbox will surface the
// load failure itself.
func topLevelDefs(source string) []defInfo {
	opts := &syntax.FileOptions{Set: true, While: true, TopLevelControl: true, GlobalReassign: true}
	file, err := opts.Parse("organism.star", source, 0)
	if err != nil {
		return nil
	}
	var defs []defInfo
	for _, stmt := range file.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok {
			defs = append(defs, defInfo{name: def.Name.Name, params: len(def.Params)})
		}
	}
	return defs
}

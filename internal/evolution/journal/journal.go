// Package journal persists the auditable record of the evolution loop:
// one human-readable JSON record per cycle plus a unified-diff audit
// file for every screened candidate. Records are append-only; nothing in
// the journal is ever rewritten.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Journal writes under dir, with candidate diffs in dir/mods.
type Journal struct {
	log *zap.Logger
	dir string
	mu  sync.Mutex
}

// New creates the journal directories if needed.
func New(logger *zap.Logger, dir string) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dir, "mods"), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	return &Journal{log: logger.Named("Journal"), dir: dir}, nil
}

// Dir returns the journal root.
func (j *Journal) Dir() string { return j.dir }

// RecordCycle writes cycle_<n>.json. An existing record for the same
// cycle number is a caller bug and is refused rather than overwritten.
func (j *Journal) RecordCycle(res models.CycleResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := filepath.Join(j.dir, fmt.Sprintf("cycle_%d.json", res.Number))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("cycle record %d already exists; journal is append-only", res.Number)
	}

	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cycle record: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing cycle record: %w", err)
	}
	j.log.Debug("Cycle record written", zap.Int("cycle", res.Number), zap.String("outcome", string(res.Outcome)))
	return nil
}

// RecordDiff writes the audit diff for a screened candidate to
// mods/mod_<cycle>_<candidate>.diff with before/after content hashes in
// the header. Every screened candidate gets one, accepted or not.
func (j *Journal) RecordDiff(cycle int, cand models.Candidate, d models.Diff, beforeHash, afterHash string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	short := cand.ID
	if len(short) > 8 {
		short = short[:8]
	}
	path := filepath.Join(j.dir, "mods", fmt.Sprintf("mod_%d_%s.diff", cycle, short))

	var sb strings.Builder
	fmt.Fprintf(&sb, "# cycle: %d\n", cycle)
	fmt.Fprintf(&sb, "# candidate: %s\n", cand.ID)
	fmt.Fprintf(&sb, "# component: %s\n", cand.Hypothesis.Component)
	fmt.Fprintf(&sb, "# kind: %s\n", cand.Hypothesis.Kind)
	fmt.Fprintf(&sb, "# origin: %s\n", cand.Origin)
	fmt.Fprintf(&sb, "# before: %s\n", beforeHash)
	fmt.Fprintf(&sb, "# after: %s\n", afterHash)
	sb.WriteString(d.Unified)

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing diff audit file: %w", err)
	}
	return nil
}

// LoadCycles reads every cycle record, ordered by cycle number.
func (j *Journal) LoadCycles() ([]models.CycleResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("reading journal directory: %w", err)
	}

	var out []models.CycleResult
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, "cycle_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(j.dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading cycle record %s: %w", name, err)
		}
		var res models.CycleResult
		if err := json.Unmarshal(raw, &res); err != nil {
			j.log.Warn("Skipping unreadable cycle record", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, res)
	}

	sort.Slice(out, func(i, k int) bool { return out[i].Number < out[k].Number })
	return out, nil
}

// LastCycle returns the most recent record, or nil when the journal is
// empty.
func (j *Journal) LastCycle() (*models.CycleResult, error) {
	cycles, err := j.LoadCycles()
	if err != nil || len(cycles) == 0 {
		return nil, err
	}
	return &cycles[len(cycles)-1], nil
}

// Package screener implements the security gate of the pipeline: a
// static scan of the diff between a parent revision and a candidate for
// disallowed constructs. It operates on the diff only, never on the full
// source, so constructs already accepted in history are not re-flagged.
// Blocking is conservative: a single match is sufficient, and a diff
// that cannot be parsed is blocked rather than raised as an error.
package screener

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	godiff "github.com/sourcegraph/go-diff/diff"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// Screener is the diff gate. It is stateless between calls and safe for
// concurrent use; screening the same diff twice yields the same verdict
// and the same records.
type Screener struct {
	log      *zap.Logger
	patterns []pattern
}

// New builds a screener with the default pattern table.
func New(logger *zap.Logger) *Screener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Screener{
		log:      logger.Named("SecurityScreener"),
		patterns: defaultPatterns,
	}
}

// Screen inspects a computed diff and returns allow or block. Every
// pattern match produces a structured record for the audit trail, not
// just the first one; the verdict is block if any record exists. A
// malformed diff is itself a block, never a propagated error.
func (s *Screener) Screen(ctx context.Context, d models.Diff) models.ScreenResult {
	added, removed, ok := s.parseUnified(d.Unified)
	if !ok {
		res := models.ScreenResult{
			Verdict:   models.ScreenBlock,
			Reason:    "malformed diff",
			PatternID: "diff-parse",
			Records: []models.BlockRecord{{
				PatternID: "diff-parse",
				Reason:    "diff could not be parsed; blocking conservatively",
			}},
		}
		s.log.Warn("Blocking candidate on unparseable diff", zap.String("candidate_id", d.CandidateID))
		return res
	}

	var records []models.BlockRecord

	// Stage 1: line-level pattern scan over added lines.
	for _, line := range added {
		for _, p := range s.patterns {
			if p.re.MatchString(line.Text) {
				records = append(records, models.BlockRecord{
					PatternID: p.id,
					Reason:    p.reason,
					StartLine: line.Number,
					EndLine:   line.Number,
					Excerpt:   strings.TrimSpace(line.Text),
				})
			}
		}
	}

	// Stage 2: deletion of safety-relevant definitions.
	for _, line := range removed {
		trimmed := strings.TrimSpace(line.Text)
		if !strings.HasPrefix(trimmed, "def ") {
			continue
		}
		name := strings.TrimPrefix(trimmed, "def ")
		for _, prefix := range safetySymbolPrefixes {
			if strings.HasPrefix(name, prefix) {
				records = append(records, models.BlockRecord{
					PatternID: "safety-removal",
					Reason:    "deletion of safety-relevant definition " + strings.SplitN(name, "(", 2)[0],
					StartLine: line.Number,
					EndLine:   line.Number,
					Excerpt:   trimmed,
				})
			}
		}
	}

	// Stage 3: structural scan of the added code. The parse-tree pass
	// catches call spellings the line patterns miss (split arguments,
	// unusual whitespace). Added lines rarely form a complete program,
	// so parse errors here do not block on their own; the textual gates
	// above have already run.
	records = append(records, s.structuralScan(ctx, added)...)

	res := models.ScreenResult{Verdict: models.ScreenAllow, Records: records}
	if len(records) > 0 {
		res.Verdict = models.ScreenBlock
		res.PatternID = records[0].PatternID
		res.Reason = records[0].Reason
		s.log.Warn("Blocking candidate",
			zap.String("candidate_id", d.CandidateID),
			zap.String("pattern_id", res.PatternID),
			zap.String("reason", res.Reason),
			zap.Int("matches", len(records)),
		)
	} else {
		s.log.Debug("Screen passed", zap.String("candidate_id", d.CandidateID), zap.Int("added_lines", len(added)))
	}
	return res
}

// parseUnified validates the unified diff text and extracts added and
// removed lines with their line numbers from the hunk headers. A diff
// that fails to parse, or that contains no file, reports ok=false.
func (s *Screener) parseUnified(unified string) (added, removed []models.DiffLine, ok bool) {
	if strings.TrimSpace(unified) == "" {
		return nil, nil, false
	}
	files, err := godiff.NewMultiFileDiffReader(strings.NewReader(unified)).ReadAllFiles()
	if err != nil || len(files) == 0 {
		return nil, nil, false
	}

	for _, f := range files {
		for _, hunk := range f.Hunks {
			origLine := int(hunk.OrigStartLine)
			newLine := int(hunk.NewStartLine)
			for _, raw := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(raw, "+"):
					added = append(added, models.DiffLine{Number: newLine, Text: raw[1:]})
					newLine++
				case strings.HasPrefix(raw, "-"):
					removed = append(removed, models.DiffLine{Number: origLine, Text: raw[1:]})
					origLine++
				default:
					origLine++
					newLine++
				}
			}
		}
	}
	return added, removed, true
}

// structuralScan parses the concatenated added lines with the Python
// grammar (which covers Starlark) and flags denied callee names.
func (s *Screener) structuralScan(ctx context.Context, added []models.DiffLine) []models.BlockRecord {
	if len(added) == 0 {
		return nil
	}

	var sb strings.Builder
	lineMap := make([]int, 0, len(added)) // snippet row -> candidate line number
	for _, line := range added {
		// Strip indentation so fragments lifted from inside a function
		// still parse as top-level statements.
		sb.WriteString(strings.TrimLeft(line.Text, " \t"))
		sb.WriteString("\n")
		lineMap = append(lineMap, line.Number)
	}
	src := []byte(sb.String())

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		s.log.Debug("Structural scan skipped: parse failed", zap.Error(err))
		return nil
	}
	defer tree.Close()

	var records []models.BlockRecord
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node.Type() == "call" {
			if fn := node.ChildByFieldName("function"); fn != nil {
				callee := fn.Content(src)
				if id, denied := deniedCalls[callee]; denied {
					row := int(node.StartPoint().Row)
					candLine := 0
					if row < len(lineMap) {
						candLine = lineMap[row]
					}
					records = append(records, models.BlockRecord{
						PatternID: id,
						Reason:    "structural match: call to " + callee,
						StartLine: candLine,
						EndLine:   candLine,
						Excerpt:   strings.TrimSpace(node.Content(src)),
					})
				}
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(tree.RootNode())
	return records
}

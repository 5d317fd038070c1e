package screener

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// organismFile is the notional filename used in every unified diff; the
// organism is a single script, so there is never more than one file.
const organismFile = "organism.star"

// ComputeDiff derives the line difference between a parent revision's
// source and a candidate's source. The result carries both the parsed
// added/removed lines (with line numbers in candidate and parent
// respectively) and a unified rendering for the screener and the
// journal's audit trail.
func ComputeDiff(parent models.Revision, cand models.Candidate) models.Diff {
	dmp := diffmatchpatch.New()
	a, b, lineArr := dmp.DiffLinesToChars(parent.Source, cand.Source)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArr)

	var (
		body     strings.Builder
		added    []models.DiffLine
		removed  []models.DiffLine
		origLine = 1
		newLine  = 1
	)
	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				body.WriteString("+" + line + "\n")
				added = append(added, models.DiffLine{Number: newLine, Text: line})
				newLine++
			case diffmatchpatch.DiffDelete:
				body.WriteString("-" + line + "\n")
				removed = append(removed, models.DiffLine{Number: origLine, Text: line})
				origLine++
			default:
				body.WriteString(" " + line + "\n")
				origLine++
				newLine++
			}
		}
	}

	unified := fmt.Sprintf("--- %s\n+++ %s\n@@ -1,%d +1,%d @@\n%s",
		organismFile, organismFile,
		countLines(parent.Source), countLines(cand.Source),
		body.String(),
	)

	return models.Diff{
		ParentID:    parent.ID,
		CandidateID: cand.ID,
		Unified:     unified,
		Added:       added,
		Removed:     removed,
	}
}

// splitLines splits a diff chunk into its constituent lines, dropping
// the phantom empty line a trailing newline would otherwise produce.
func splitLines(chunk string) []string {
	if chunk == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(chunk, "\n"), "\n")
}

func countLines(source string) int {
	if source == "" {
		return 0
	}
	return len(splitLines(source))
}

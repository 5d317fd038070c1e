package generator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Fenced block extraction. The oracle is asked for labelled fences but
// replies are free text; the double-quoted escapes keep the backtick
// runs out of this file's raw strings.
var (
	fencedDiffRe  = regexp.MustCompile("(?s)\x60\x60\x60diff\\s*\\n(.*?)\x60\x60\x60")
	fencedCodeRe  = regexp.MustCompile("(?s)\x60\x60\x60(?:starlark|python)?\\s*\\n(.*?)\x60\x60\x60")
	fencedTestsRe = regexp.MustCompile("(?s)\x60\x60\x60tests\\s*\\n(.*?)\x60\x60\x60")
)

// extractCandidateSource pulls a full organism source out of an oracle
// reply. Preference order: a diff fence applied to the parent, a code
// fence taken verbatim, then a heuristic line-level fallback. The
// suggested-tests fence, when present, rides along.
func extractCandidateSource(reply, parentSource string) (source, suggestedTests string, err error) {
	suggestedTests = extractTests(reply)

	if m := fencedDiffRe.FindStringSubmatch(reply); m != nil {
		patched, applyErr := applyUnifiedDiff(parentSource, m[1])
		if applyErr == nil {
			if vErr := validateSource(patched, parentSource); vErr == nil {
				return patched, suggestedTests, nil
			}
		}
		// A bad diff is not fatal; the reply may also carry full source.
	}

	if m := fencedCodeRe.FindStringSubmatch(reply); m != nil {
		if vErr := validateSource(m[1], parentSource); vErr == nil {
			return m[1], suggestedTests, nil
		}
	}

	// Heuristic fallback: take everything from the first organism-looking
	// line onward. Covers replies that forget the fence entirely.
	if idx := firstSourceLine(reply); idx >= 0 {
		candidate := strings.Join(strings.Split(reply, "\n")[idx:], "\n")
		if vErr := validateSource(candidate, parentSource); vErr == nil {
			return candidate, suggestedTests, nil
		}
	}

	return "", "", errors.New("reply contains no usable organism source")
}

func extractTests(reply string) string {
	if m := fencedTestsRe.FindStringSubmatch(reply); m != nil {
		return m[1]
	}
	return ""
}

// firstSourceLine finds the first line that plausibly starts organism
// source: a def or a comment header.
func firstSourceLine(reply string) int {
	for i, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "# organism") {
			return i
		}
	}
	return -1
}

// applyUnifiedDiff applies the first file of a unified diff to the
// parent source. Hunks are applied by their declared line numbers; a
// hunk that runs past the parent is an error.
func applyUnifiedDiff(parentSource, diffText string) (string, error) {
	files, err := godiff.NewMultiFileDiffReader(strings.NewReader(diffText)).ReadAllFiles()
	if err != nil {
		return "", fmt.Errorf("parsing oracle diff: %w", err)
	}
	if len(files) == 0 {
		return "", errors.New("oracle diff contains no files")
	}
	fd := files[0]

	origLines := strings.Split(parentSource, "\n")
	var newLines []string
	origIdx := 0

	for _, hunk := range fd.Hunks {
		hunkStart := int(hunk.OrigStartLine) - 1
		if hunkStart < 0 {
			hunkStart = 0
		}
		for origIdx < hunkStart && origIdx < len(origLines) {
			newLines = append(newLines, origLines[origIdx])
			origIdx++
		}
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				newLines = append(newLines, strings.TrimPrefix(line, "+"))
			case strings.HasPrefix(line, "-"):
				if origIdx >= len(origLines) {
					return "", errors.New("diff removes lines past end of parent")
				}
				origIdx++
			case strings.HasPrefix(line, " ") || line == "":
				if origIdx < len(origLines) {
					newLines = append(newLines, origLines[origIdx])
					origIdx++
				}
			}
		}
	}
	for origIdx < len(origLines) {
		newLines = append(newLines, origLines[origIdx])
		origIdx++
	}
	return strings.Join(newLines, "\n"), nil
}

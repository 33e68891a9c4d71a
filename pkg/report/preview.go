package report

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
)

// ApplyFix returns content with the fix's edits applied. Edits are applied
// from the end of the file so earlier offsets stay valid. Ranges outside the
// content are skipped.
func ApplyFix(content string, fix host.QuickFix) string {
	edits := append([]host.TextEdit(nil), fix.Edits...)
	sort.SliceStable(edits, func(i, j int) bool {
		a, b := edits[i].Range, edits[j].Range
		if a.StartLine != b.StartLine {
			return a.StartLine > b.StartLine
		}

		return a.StartColumn > b.StartColumn
	})

	starts := lineStarts(content)

	for _, edit := range edits {
		from, okFrom := offset(content, starts, edit.Range.StartLine, edit.Range.StartColumn)
		to, okTo := offset(content, starts, edit.Range.EndLine, edit.Range.EndColumn)

		if !okFrom || !okTo || from > to {
			continue
		}

		content = content[:from] + edit.Text + content[to:]
	}

	return content
}

// Preview renders the lines touched by a fix as a character-level diff.
func Preview(content string, fix host.QuickFix, colored bool) string {
	first, last := 0, 0

	for _, edit := range fix.Edits {
		if first == 0 || edit.Range.StartLine < first {
			first = edit.Range.StartLine
		}

		if edit.Range.EndLine > last {
			last = edit.Range.EndLine
		}
	}

	before := selectLines(content, first, last)
	fixed := ApplyFix(content, fix)
	// The fix may change the number of lines; compare up to the same tail.
	tail := len(strings.Split(content, "\n")) - last
	after := selectLines(fixed, first, len(strings.Split(fixed, "\n"))-tail)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))

	if colored {
		return indent(dmp.DiffPrettyText(diffs), "  ")
	}

	return indent(before, "  - ") + indent(after, "  + ")
}

func lineStarts(content string) []int {
	starts := []int{0}

	for idx := 0; idx < len(content); idx++ {
		if content[idx] == '\n' {
			starts = append(starts, idx+1)
		}
	}

	return starts
}

// offset converts a 1-based line and rune column into a byte offset.
func offset(content string, starts []int, line, column int) (int, bool) {
	if line < 1 || line > len(starts) || column < 0 {
		return 0, false
	}

	pos := starts[line-1]

	for col := 0; col < column; col++ {
		if pos >= len(content) || content[pos] == '\n' {
			return 0, false
		}

		_, size := utf8.DecodeRuneInString(content[pos:])
		pos += size
	}

	return pos, true
}

func selectLines(content string, first, last int) string {
	lines := strings.Split(content, "\n")
	if first < 1 {
		first = 1
	}

	if last > len(lines) {
		last = len(lines)
	}

	if first > last {
		return ""
	}

	return strings.Join(lines[first-1:last], "\n")
}

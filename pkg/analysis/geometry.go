package analysis

import (
	"bytes"
	"unicode/utf16"

	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
)

// source lazily loads a file's content for line-length lookups.
type source struct {
	file     host.InputFile
	loaded   bool
	readable bool
	data     []byte
	lines    []int // UTF-16 length of each line
}

func newSource(file host.InputFile) *source {
	return &source{file: file}
}

func (s *source) load() {
	if s.loaded {
		return
	}

	s.loaded = true

	data, err := s.file.ReadContent()
	if err != nil {
		return
	}

	s.readable = true
	s.data = data

	for line := range bytes.Lines(data) {
		line = bytes.TrimRight(line, "\r\n")
		s.lines = append(s.lines, utf16Len(line))
	}

	// A trailing newline opens one more, empty, line.
	if len(data) == 0 || data[len(data)-1] == '\n' {
		s.lines = append(s.lines, 0)
	}
}

// content returns the file bytes, or nil when unreadable.
func (s *source) content() []byte {
	s.load()

	return s.data
}

// lineLength returns the length of a 1-based line and whether it exists.
// Unreadable files report every line as present with length 0.
func (s *source) lineLength(line int) (int, bool) {
	s.load()

	if !s.readable {
		return 0, line >= 1
	}

	if line < 1 || line > len(s.lines) {
		return 0, false
	}

	return s.lines[line-1], true
}

// hasLine reports whether a 1-based line exists in the file.
func (s *source) hasLine(line int) bool {
	_, ok := s.lineLength(line)

	return ok
}

// rangeFits reports whether r is well formed and lies inside the file.
// Columns are only checked when the content could be read.
func (s *source) rangeFits(r host.TextRange) bool {
	if !r.Valid() {
		return false
	}

	startLen, ok := s.lineLength(r.StartLine)
	if !ok {
		return false
	}

	endLen, ok := s.lineLength(r.EndLine)
	if !ok {
		return false
	}

	if !s.readable {
		return true
	}

	return r.StartColumn <= startLen && r.EndColumn <= endLen
}

// utf16Len counts a line in UTF-16 code units, the unit engine columns use.
func utf16Len(line []byte) int {
	n := 0

	// Invalid bytes decode as U+FFFD, which is one unit.
	for _, r := range string(line) {
		n += utf16.RuneLen(r)
	}

	return n
}

func fromLocation(loc bridge.Location) host.TextRange {
	return host.TextRange{
		StartLine:   loc.StartLine,
		StartColumn: loc.StartCol,
		EndLine:     loc.EndLine,
		EndColumn:   loc.EndCol,
	}
}

// fromIssueLocation converts a location whose coordinates are all optional.
// It fails when any of the four is missing.
func fromIssueLocation(loc bridge.IssueLocation) (host.TextRange, bool) {
	if loc.Line == nil || loc.Column == nil || loc.EndLine == nil || loc.EndColumn == nil {
		return host.TextRange{}, false
	}

	return host.TextRange{
		StartLine:   *loc.Line,
		StartColumn: *loc.Column,
		EndLine:     *loc.EndLine,
		EndColumn:   *loc.EndColumn,
	}, true
}

func coordinates(loc bridge.IssueLocation) []any {
	return []any{"line", deref(loc.Line), "column", deref(loc.Column), "endLine", deref(loc.EndLine), "endColumn", deref(loc.EndColumn)}
}

func deref(v *int) any {
	if v == nil {
		return nil
	}

	return *v
}

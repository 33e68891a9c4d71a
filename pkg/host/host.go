// Package host defines the contracts between the scanner host and the bridge:
// the input files handed over for analysis, the capabilities the host
// advertises, and the sink receiving typed findings.
package host

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// FileType distinguishes production sources from test sources.
type FileType string

const (
	// TypeMain marks production sources.
	TypeMain FileType = "MAIN"
	// TypeTest marks test sources.
	TypeTest FileType = "TEST"
)

// FileStatus is the change status of a file relative to the previous analysis.
type FileStatus string

const (
	// StatusAdded marks a file unknown to the previous analysis.
	StatusAdded FileStatus = "ADDED"
	// StatusChanged marks a file modified since the previous analysis.
	StatusChanged FileStatus = "CHANGED"
	// StatusSame marks a file unchanged since the previous analysis.
	StatusSame FileStatus = "SAME"
)

// Language is the engine language a file is analyzed as.
type Language string

// Languages understood by the engine.
const (
	LangJS   Language = "js"
	LangTS   Language = "ts"
	LangCSS  Language = "css"
	LangYAML Language = "yaml"
	LangHTML Language = "html"
)

// utf8Encoding is the only encoding the engine can read from disk on its own.
const utf8Encoding = "UTF-8"

// InputFile is a file selected by the host for analysis.
type InputFile struct {
	// Path is the absolute file path.
	Path string
	// Content holds the in-memory buffer. Nil means the file is read from disk.
	Content []byte
	// Encoding is the charset name reported by the host. Empty means UTF-8.
	Encoding string
	Type     FileType
	Status   FileStatus
	Language Language
}

// IsUTF8 reports whether the engine can read the file from disk as-is.
func (f InputFile) IsUTF8() bool {
	return f.Encoding == "" || strings.EqualFold(f.Encoding, utf8Encoding)
}

// IsTest reports whether the file belongs to test sources.
func (f InputFile) IsTest() bool {
	return f.Type == TypeTest
}

// ReadContent returns the in-memory buffer or the file contents from disk.
func (f InputFile) ReadContent() ([]byte, error) {
	if f.Content != nil {
		return f.Content, nil
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}

	return data, nil
}

// ContentForEngine returns the content to embed in an engine request, or nil
// when the engine can read the file itself.
func (f InputFile) ContentForEngine(interactive bool) (*string, error) {
	if f.Content == nil && f.IsUTF8() && !interactive {
		return nil, nil //nolint:nilnil // nil content means "read from disk".
	}

	data, err := f.ReadContent()
	if err != nil {
		return nil, err
	}

	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}

	text := string(data)

	return &text, nil
}

// Capabilities are the features supported by the host API.
type Capabilities struct {
	// QuickFixes enables attaching quick fixes to issues.
	QuickFixes bool
	// Telemetry enables reporting runtime and dependency telemetry.
	Telemetry bool
	// Lightweight marks an interactive session with in-memory buffers.
	Lightweight bool
	// SkipUnchanged allows serving unchanged files from the previous analysis.
	// Only hosts that keep earlier findings may set it.
	SkipUnchanged bool
}

// CancelCheck reports whether the host requested cancellation.
type CancelCheck func() bool

// NeverCancel is a CancelCheck that never fires.
func NeverCancel() bool { return false }

// EventKind is the kind of a file-system change.
type EventKind string

// File-system change kinds.
const (
	EventCreated  EventKind = "CREATED"
	EventModified EventKind = "MODIFIED"
	EventDeleted  EventKind = "DELETED"
)

// FileEvent is one file-system change delivered by the host.
type FileEvent struct {
	Path string
	Kind EventKind
}

// Rule is one active rule with its host key and engine key.
type Rule struct {
	// Key is the host-side rule key.
	Key string
	// EngineKey is the engine-side rule key.
	EngineKey string
	// Params is the rule configuration forwarded to the engine.
	Params []any
	// FileTypes lists the file types the rule applies to.
	FileTypes []FileType
	Language  Language
}

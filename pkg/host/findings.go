package host

import "fmt"

// TextRange is a range in a file. Lines are 1-based, columns 0-based.
type TextRange struct {
	StartLine   int `json:"startLine"   yaml:"startLine"`
	StartColumn int `json:"startColumn" yaml:"startColumn"`
	EndLine     int `json:"endLine"     yaml:"endLine"`
	EndColumn   int `json:"endColumn"   yaml:"endColumn"`
}

// Valid reports whether the range starts at or before its end.
func (r TextRange) Valid() bool {
	if r.StartLine < 1 || r.EndLine < 1 || r.StartColumn < 0 || r.EndColumn < 0 {
		return false
	}

	if r.StartLine != r.EndLine {
		return r.StartLine < r.EndLine
	}

	return r.StartColumn <= r.EndColumn
}

func (r TextRange) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", r.StartLine, r.StartColumn, r.EndLine, r.EndColumn)
}

// SecondaryLocation is an auxiliary range explaining an issue.
type SecondaryLocation struct {
	Range   TextRange `json:"range"             yaml:"range"`
	Message string    `json:"message,omitempty" yaml:"message,omitempty"`
}

// TextEdit replaces a range with new text.
type TextEdit struct {
	Range TextRange `json:"range" yaml:"range"`
	Text  string    `json:"text"  yaml:"text"`
}

// QuickFix is a machine-applicable fix attached to an issue.
type QuickFix struct {
	Message string     `json:"message" yaml:"message"`
	Edits   []TextEdit `json:"edits"   yaml:"edits"`
}

// Issue is a rule violation. A nil Range means a file-level issue.
type Issue struct {
	File       string              `json:"file"                 yaml:"file"`
	RuleKey    string              `json:"ruleKey"              yaml:"ruleKey"`
	Message    string              `json:"message"              yaml:"message"`
	Range      *TextRange          `json:"range,omitempty"      yaml:"range,omitempty"`
	Cost       *float64            `json:"cost,omitempty"       yaml:"cost,omitempty"`
	Secondary  []SecondaryLocation `json:"secondary,omitempty"  yaml:"secondary,omitempty"`
	QuickFixes []QuickFix          `json:"quickFixes,omitempty" yaml:"quickFixes,omitempty"`
}

// Highlight is a syntax highlighting span.
type Highlight struct {
	Range TextRange `json:"range" yaml:"range"`
	Kind  string    `json:"kind"  yaml:"kind"`
}

// Symbol is a declaration with its references.
type Symbol struct {
	Declaration TextRange   `json:"declaration" yaml:"declaration"`
	References  []TextRange `json:"references"  yaml:"references"`
}

// CPDToken is a normalized token used for duplicate detection.
type CPDToken struct {
	Range TextRange `json:"range" yaml:"range"`
	Image string    `json:"image" yaml:"image"`
}

// Metrics are the per-file measures.
type Metrics struct {
	Functions           int   `json:"functions"           yaml:"functions"`
	Statements          int   `json:"statements"          yaml:"statements"`
	Classes             int   `json:"classes"             yaml:"classes"`
	NCLOC               int   `json:"ncloc"               yaml:"ncloc"`
	CommentLines        int   `json:"commentLines"        yaml:"commentLines"`
	Complexity          int   `json:"complexity"          yaml:"complexity"`
	CognitiveComplexity int   `json:"cognitiveComplexity" yaml:"cognitiveComplexity"`
	NCLOCLines          []int `json:"nclocLines"          yaml:"nclocLines"`
	ExecutableLines     []int `json:"executableLines"     yaml:"executableLines"`
}

// Sink receives typed findings. Implementations must be safe for concurrent use.
type Sink interface {
	AddIssue(issue Issue)
	AddHighlights(file string, highlights []Highlight)
	AddSymbols(file string, symbols []Symbol)
	AddCPDTokens(file string, tokens []CPDToken)
	AddMetrics(file string, metrics Metrics)
	AddNoSonarLines(file string, lines []int)
	// AddAnalysisError records that a file could not be analyzed. Line is 0 when unknown.
	AddAnalysisError(file, message string, line int)
	AddWarning(message string)
	AddTelemetry(key, value string)
}

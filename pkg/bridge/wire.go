package bridge

import "github.com/Sumatoshi-tech/jsbridge/pkg/host"

// ParsingErrorCode classifies a parse failure reported by the engine.
type ParsingErrorCode string

// Parse failure codes.
const (
	CodeParsing           ParsingErrorCode = "PARSING"
	CodeFailingTypeScript ParsingErrorCode = "FAILING_TYPESCRIPT"
	CodeGeneralError      ParsingErrorCode = "GENERAL_ERROR"
)

// AnalysisRequest asks the engine to analyze one JS/TS file.
type AnalysisRequest struct {
	FilePath             string        `json:"filePath"`
	FileType             host.FileType `json:"fileType"`
	Language             host.Language `json:"language,omitempty"`
	FileContent          *string       `json:"fileContent,omitempty"`
	IgnoreHeaderComments bool          `json:"ignoreHeaderComments"`
	TsConfigs            []string      `json:"tsConfigs,omitempty"`
	ProgramID            string        `json:"programId,omitempty"`
	LinterID             string        `json:"linterId"`
	SkipAST              bool          `json:"skipAst"`
}

// CSSRule is a stylesheet rule and its configuration.
type CSSRule struct {
	Key            string `json:"key"`
	Configurations []any  `json:"configurations"`
}

// CSSAnalysisRequest asks the engine to analyze one stylesheet.
type CSSAnalysisRequest struct {
	FilePath    string    `json:"filePath"`
	FileContent *string   `json:"fileContent,omitempty"`
	Rules       []CSSRule `json:"rules"`
}

// EngineRule is an active rule as the engine expects it.
type EngineRule struct {
	Key             string   `json:"key"`
	Configurations  []any    `json:"configurations"`
	FileTypeTargets []string `json:"fileTypeTarget"`
	Language        string   `json:"language,omitempty"`
}

// InitLinterRequest configures a linter instance inside the engine.
type InitLinterRequest struct {
	Rules        []EngineRule `json:"rules"`
	Environments []string     `json:"environments"`
	Globals      []string     `json:"globals"`
	BaseDir      string       `json:"baseDir"`
	LinterID     string       `json:"linterId"`
}

// Location is an engine range: 1-based lines, 0-based columns.
type Location struct {
	StartLine int `json:"startLine"`
	StartCol  int `json:"startCol"`
	EndLine   int `json:"endLine"`
	EndCol    int `json:"endCol"`
}

// IssueLocation is a secondary location or quick-fix edit range. Every
// coordinate may be absent.
type IssueLocation struct {
	Line      *int   `json:"line"`
	Column    *int   `json:"column"`
	EndLine   *int   `json:"endLine"`
	EndColumn *int   `json:"endColumn"`
	Message   string `json:"message,omitempty"`
}

// QuickFixEdit replaces a location with text.
type QuickFixEdit struct {
	Text string        `json:"text"`
	Loc  IssueLocation `json:"loc"`
}

// QuickFix is a fix suggested with an issue.
type QuickFix struct {
	Message string         `json:"message"`
	Edits   []QuickFixEdit `json:"edits"`
}

// Issue is a rule violation reported by the engine.
type Issue struct {
	Line               int             `json:"line"`
	Column             int             `json:"column"`
	EndLine            *int            `json:"endLine"`
	EndColumn          *int            `json:"endColumn"`
	Message            string          `json:"message"`
	RuleID             string          `json:"ruleId"`
	SecondaryLocations []IssueLocation `json:"secondaryLocations"`
	Cost               *float64        `json:"cost"`
	QuickFixes         []QuickFix      `json:"quickFixes"`
	RuleESLintKeys     []string        `json:"ruleESLintKeys"`
}

// Highlight is a syntax highlighting span.
type Highlight struct {
	Location Location `json:"location"`
	TextType string   `json:"textType"`
}

// HighlightedSymbol links a declaration to its references.
type HighlightedSymbol struct {
	Declaration Location   `json:"declaration"`
	References  []Location `json:"references"`
}

// Metrics are the file measures computed by the engine.
type Metrics struct {
	NCLOC               []int `json:"ncloc"`
	CommentLines        []int `json:"commentLines"`
	NoSonarLines        []int `json:"nosonarLines"`
	ExecutableLines     []int `json:"executableLines"`
	Functions           int   `json:"functions"`
	Statements          int   `json:"statements"`
	Classes             int   `json:"classes"`
	Complexity          int   `json:"complexity"`
	CognitiveComplexity int   `json:"cognitiveComplexity"`
}

// CPDToken is a duplication token.
type CPDToken struct {
	Location Location `json:"location"`
	Image    string   `json:"image"`
}

// ParsingError describes a file the engine could not parse.
type ParsingError struct {
	Message string           `json:"message"`
	Line    *int             `json:"line"`
	Code    ParsingErrorCode `json:"code"`
}

// AnalysisResponse is the result for one file. Exactly one of ParsingError
// or the result lists is meaningful.
type AnalysisResponse struct {
	ParsingError       *ParsingError       `json:"parsingError"`
	Issues             []Issue             `json:"issues"`
	Highlights         []Highlight         `json:"highlights"`
	HighlightedSymbols []HighlightedSymbol `json:"highlightedSymbols"`
	Metrics            *Metrics            `json:"metrics"`
	CPDTokens          []CPDToken          `json:"cpdTokens"`
	// AST is the serialized syntax tree, when the engine sent one.
	AST []byte `json:"ast,omitempty"`
}

// Normalize replaces absent collections with empty ones.
func (r *AnalysisResponse) Normalize() {
	if r.Issues == nil {
		r.Issues = []Issue{}
	}

	if r.Highlights == nil {
		r.Highlights = []Highlight{}
	}

	if r.HighlightedSymbols == nil {
		r.HighlightedSymbols = []HighlightedSymbol{}
	}

	if r.CPDTokens == nil {
		r.CPDTokens = []CPDToken{}
	}

	if r.Metrics == nil {
		r.Metrics = &Metrics{}
	}

	for idx := range r.Issues {
		if r.Issues[idx].SecondaryLocations == nil {
			r.Issues[idx].SecondaryLocations = []IssueLocation{}
		}

		if r.Issues[idx].QuickFixes == nil {
			r.Issues[idx].QuickFixes = []QuickFix{}
		}
	}
}

// TsConfigResponse lists what a tsconfig resolves to.
type TsConfigResponse struct {
	Files             []string `json:"files"`
	ProjectReferences []string `json:"projectReferences"`
	Error             string   `json:"error,omitempty"`
	ErrorCode         string   `json:"errorCode,omitempty"`
}

// TsProgramRequest asks the engine to build a program for a tsconfig.
type TsProgramRequest struct {
	TsConfig string `json:"tsConfig"`
}

// TsProgram is an engine-side compiled project.
type TsProgram struct {
	ProgramID         string   `json:"programId"`
	Files             []string `json:"files"`
	ProjectReferences []string `json:"projectReferences"`
	MissingTsConfig   bool     `json:"missingTsConfig"`
	Error             string   `json:"error,omitempty"`
	// Orphan marks a program created for files no tsconfig claimed.
	Orphan bool `json:"-"`
}

// ProjectFile is one file of a whole-project request.
type ProjectFile struct {
	FilePath    string          `json:"filePath"`
	FileType    host.FileType   `json:"fileType"`
	FileStatus  host.FileStatus `json:"fileStatus,omitempty"`
	Language    host.Language   `json:"language,omitempty"`
	FileContent *string         `json:"fileContent,omitempty"`
}

// ProjectConfiguration carries the session-wide settings of a project request.
type ProjectConfiguration struct {
	BaseDir                 string   `json:"baseDir"`
	TsConfigPaths           []string `json:"tsConfigPaths,omitempty"`
	Environments            []string `json:"environments,omitempty"`
	Globals                 []string `json:"globals,omitempty"`
	SkipAST                 bool     `json:"skipAst"`
	Lightweight             bool     `json:"sonarlint"`
	CanAccessFileSystem     bool     `json:"canAccessFileSystem"`
	MaxFilesForTypeChecking int      `json:"maxFilesForTypeChecking,omitempty"`
}

// ProjectAnalysisRequest asks the engine to analyze a set of files in one go.
type ProjectAnalysisRequest struct {
	Files         map[string]ProjectFile `json:"files"`
	Rules         []EngineRule           `json:"rules"`
	Configuration ProjectConfiguration   `json:"configuration"`
}

// Dependency is a library the engine found in the project manifests.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ProjectMeta is the terminal message of a project analysis.
type ProjectMeta struct {
	Warnings     []string     `json:"warnings"`
	Dependencies []Dependency `json:"dependencies"`
}

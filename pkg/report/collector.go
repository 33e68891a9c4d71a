// Package report collects findings in memory and renders them as JSON, YAML
// or a terminal table. It is the sink used by the command line and the
// language server.
package report

import (
	"slices"
	"sort"
	"sync"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
)

// AnalysisError is a file the engine could not analyze.
type AnalysisError struct {
	Message string `json:"message"        yaml:"message"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`
}

// FileReport holds the findings of one file.
type FileReport struct {
	Issues       []host.Issue     `json:"issues,omitempty"       yaml:"issues,omitempty"`
	Highlights   []host.Highlight `json:"highlights,omitempty"   yaml:"highlights,omitempty"`
	Symbols      []host.Symbol    `json:"symbols,omitempty"      yaml:"symbols,omitempty"`
	CPDTokens    []host.CPDToken  `json:"cpdTokens,omitempty"    yaml:"cpdTokens,omitempty"`
	Metrics      *host.Metrics    `json:"metrics,omitempty"      yaml:"metrics,omitempty"`
	NoSonarLines []int            `json:"nosonarLines,omitempty" yaml:"nosonarLines,omitempty"`
	Errors       []AnalysisError  `json:"errors,omitempty"       yaml:"errors,omitempty"`
}

// Report is a snapshot of everything collected.
type Report struct {
	Files     map[string]*FileReport `json:"files"               yaml:"files"`
	Warnings  []string               `json:"warnings,omitempty"  yaml:"warnings,omitempty"`
	Telemetry map[string]string      `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// Paths returns the reported file paths in sorted order.
func (r Report) Paths() []string {
	paths := make([]string, 0, len(r.Files))
	for path := range r.Files {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	return paths
}

// IssueCount returns the number of issues across files.
func (r Report) IssueCount() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Issues)
	}

	return n
}

// Collector is a host.Sink keeping findings in memory.
type Collector struct {
	mu        sync.Mutex
	files     map[string]*FileReport
	warnings  []string
	seen      map[string]struct{}
	telemetry map[string]string
}

var _ host.Sink = (*Collector)(nil)

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		files:     make(map[string]*FileReport),
		seen:      make(map[string]struct{}),
		telemetry: make(map[string]string),
	}
}

func (c *Collector) file(path string) *FileReport {
	f, ok := c.files[path]
	if !ok {
		f = &FileReport{}
		c.files[path] = f
	}

	return f
}

// AddIssue implements host.Sink.
func (c *Collector) AddIssue(issue host.Issue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.file(issue.File)
	f.Issues = append(f.Issues, issue)
}

// AddHighlights implements host.Sink.
func (c *Collector) AddHighlights(file string, highlights []host.Highlight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.file(file)
	f.Highlights = append(f.Highlights, highlights...)
}

// AddSymbols implements host.Sink.
func (c *Collector) AddSymbols(file string, symbols []host.Symbol) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.file(file)
	f.Symbols = append(f.Symbols, symbols...)
}

// AddCPDTokens implements host.Sink.
func (c *Collector) AddCPDTokens(file string, tokens []host.CPDToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.file(file)
	f.CPDTokens = append(f.CPDTokens, tokens...)
}

// AddMetrics implements host.Sink.
func (c *Collector) AddMetrics(file string, metrics host.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.file(file).Metrics = &metrics
}

// AddNoSonarLines implements host.Sink.
func (c *Collector) AddNoSonarLines(file string, lines []int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.file(file).NoSonarLines = slices.Clone(lines)
}

// AddAnalysisError implements host.Sink.
func (c *Collector) AddAnalysisError(file, message string, line int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.file(file)
	f.Errors = append(f.Errors, AnalysisError{Message: message, Line: line})
}

// AddWarning implements host.Sink. Repeated warnings are kept once.
func (c *Collector) AddWarning(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[message]; dup {
		return
	}

	c.seen[message] = struct{}{}
	c.warnings = append(c.warnings, message)
}

// AddTelemetry implements host.Sink.
func (c *Collector) AddTelemetry(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.telemetry[key] = value
}

// Issues returns the issues of one file.
func (c *Collector) Issues(file string) []host.Issue {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[file]
	if !ok {
		return nil
	}

	return slices.Clone(f.Issues)
}

// Warnings returns the unique warnings in arrival order.
func (c *Collector) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.warnings)
}

// Reset forgets the findings of one file.
func (c *Collector) Reset(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.files, file)
}

// Snapshot copies the collected state.
func (c *Collector) Snapshot() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	files := make(map[string]*FileReport, len(c.files))
	for path, f := range c.files {
		clone := *f
		clone.Issues = slices.Clone(f.Issues)
		clone.Highlights = slices.Clone(f.Highlights)
		clone.Symbols = slices.Clone(f.Symbols)
		clone.CPDTokens = slices.Clone(f.CPDTokens)
		clone.Errors = slices.Clone(f.Errors)
		files[path] = &clone
	}

	telemetry := make(map[string]string, len(c.telemetry))
	for k, v := range c.telemetry {
		telemetry[k] = v
	}

	return Report{Files: files, Warnings: slices.Clone(c.warnings), Telemetry: telemetry}
}

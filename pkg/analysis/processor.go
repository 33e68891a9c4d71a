// Package analysis turns raw engine results into typed findings saved on the
// host sink. Malformed items are dropped one by one, each with one log line,
// so a single bad coordinate never costs the rest of a file's results.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
)

// Sentinel errors.
var (
	// ErrParse indicates the engine could not parse a file in a fail-fast session.
	ErrParse = errors.New("parse error")
	// ErrMalformedResult classifies dropped items in logs. It is never returned.
	ErrMalformedResult = errors.New("malformed engine result")
)

// File outcomes reported to metrics.
const (
	OutcomeAnalyzed   = "analyzed"
	OutcomeParseError = "parse_error"
	OutcomeCached     = "cached"
)

// Dropped item kinds.
const (
	kindIssue     = "issue"
	kindSecondary = "secondary_location"
	kindQuickFix  = "quick_fix"
	kindHighlight = "highlight"
	kindSymbol    = "symbol"
	kindReference = "symbol_reference"
	kindCPDToken  = "cpd_token"
)

// Processor converts engine responses into sink calls.
type Processor struct {
	logger        *slog.Logger
	caps          host.Capabilities
	metrics       *observability.AnalysisMetrics
	cpd           *CPDCache
	failFast      bool
	parsingRule   string
	ruleKeys      map[string]string
	parseFailures atomic.Int64
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithCapabilities sets the host capabilities.
func WithCapabilities(caps host.Capabilities) Option {
	return func(p *Processor) { p.caps = caps }
}

// WithMetrics records per-file analysis metrics.
func WithMetrics(metrics *observability.AnalysisMetrics) Option {
	return func(p *Processor) { p.metrics = metrics }
}

// WithCPDCache stores saved duplication tokens in cache.
func WithCPDCache(cache *CPDCache) Option {
	return func(p *Processor) { p.cpd = cache }
}

// WithFailFast makes parse errors fatal.
func WithFailFast(failFast bool) Option {
	return func(p *Processor) { p.failFast = failFast }
}

// WithParsingErrorRule activates the rule reporting parse errors as issues.
func WithParsingErrorRule(key string) Option {
	return func(p *Processor) { p.parsingRule = key }
}

// WithRules maps engine rule keys to host rule keys. Without rules, engine
// keys are reported as-is.
func WithRules(rules []host.Rule) Option {
	return func(p *Processor) {
		p.ruleKeys = make(map[string]string, len(rules))
		for _, rule := range rules {
			p.ruleKeys[rule.EngineKey] = rule.Key
		}
	}
}

// NewProcessor creates a processor.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{logger: slog.Default()}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ParseFailures returns how many files failed to parse so far.
func (p *Processor) ParseFailures() int {
	return int(p.parseFailures.Load())
}

// Process saves the findings of one file: metrics, issues, highlights,
// symbols, then duplication tokens. A parse error saves nothing else.
func (p *Processor) Process(ctx context.Context, sink host.Sink, file host.InputFile, resp bridge.AnalysisResponse) error {
	resp.Normalize()

	if resp.ParsingError != nil {
		p.metrics.FileAnalyzed(ctx, OutcomeParseError)

		return p.processParseError(ctx, sink, file, *resp.ParsingError)
	}

	src := newSource(file)

	p.saveMetrics(sink, file, *resp.Metrics)
	p.saveIssues(ctx, sink, file, src, resp.Issues)
	p.saveHighlights(ctx, sink, file, src, resp.Highlights)
	p.saveSymbols(ctx, sink, file, src, resp.HighlightedSymbols)
	p.saveCPD(ctx, sink, file, src, resp.CPDTokens)

	p.metrics.FileAnalyzed(ctx, OutcomeAnalyzed)

	return nil
}

// Replay saves duplication tokens served from the cache for an unchanged file.
func (p *Processor) Replay(ctx context.Context, sink host.Sink, file host.InputFile, tokens []host.CPDToken) {
	p.logger.Debug("processing cached analysis", "file", file.Path, "tokens", len(tokens))

	if !p.cpdApplies(file) {
		return
	}

	sink.AddCPDTokens(file.Path, slices.Clone(tokens))
	p.metrics.FileAnalyzed(ctx, OutcomeCached)
}

func (p *Processor) processParseError(ctx context.Context, sink host.Sink, file host.InputFile, perr bridge.ParsingError) error {
	p.parseFailures.Add(1)
	p.metrics.ParseError(ctx)

	line := 0

	switch {
	case perr.Line != nil:
		line = *perr.Line
		p.logger.Warn(fmt.Sprintf("Failed to parse file [%s] at line %d: %s", file.Path, line, perr.Message))
	case perr.Code == bridge.CodeFailingTypeScript:
		p.logger.Error(fmt.Sprintf("Failed to analyze file [%s] from TypeScript: %s", file.Path, perr.Message))
	default:
		p.logger.Error(fmt.Sprintf("Failed to analyze file [%s]: %s", file.Path, perr.Message))
	}

	sink.AddAnalysisError(file.Path, perr.Message, line)

	if p.parsingRule != "" {
		issue := host.Issue{File: file.Path, RuleKey: p.parsingRule, Message: perr.Message}

		if line > 0 {
			length, ok := newSource(file).lineLength(line)
			if ok {
				issue.Range = &host.TextRange{StartLine: line, EndLine: line, EndColumn: length}
			}
		}

		sink.AddIssue(issue)
		p.metrics.IssuesSaved(ctx, 1)
	}

	if p.failFast {
		return fmt.Errorf("%w: %s: %s", ErrParse, file.Path, perr.Message)
	}

	return nil
}

func (p *Processor) saveMetrics(sink host.Sink, file host.InputFile, m bridge.Metrics) {
	sink.AddNoSonarLines(file.Path, slices.Clone(m.NoSonarLines))

	if file.IsTest() || p.caps.Lightweight {
		return
	}

	sink.AddMetrics(file.Path, host.Metrics{
		Functions:           m.Functions,
		Statements:          m.Statements,
		Classes:             m.Classes,
		NCLOC:               len(m.NCLOC),
		CommentLines:        len(m.CommentLines),
		Complexity:          m.Complexity,
		CognitiveComplexity: m.CognitiveComplexity,
		NCLOCLines:          slices.Clone(m.NCLOC),
		ExecutableLines:     slices.Clone(m.ExecutableLines),
	})
}

func (p *Processor) saveIssues(ctx context.Context, sink host.Sink, file host.InputFile, src *source, issues []bridge.Issue) {
	seen := make(map[string]struct{}, len(issues))
	saved := 0

	for _, raw := range issues {
		issue, ok := p.convertIssue(ctx, file, src, raw)
		if !ok {
			continue
		}

		fp := fingerprint(raw, issue)
		if _, dup := seen[fp]; dup {
			p.logger.Debug("skipping duplicate issue", "file", file.Path, "rule", issue.RuleKey, "line", raw.Line)

			continue
		}

		seen[fp] = struct{}{}

		sink.AddIssue(issue)
		saved++
	}

	p.metrics.IssuesSaved(ctx, saved)
}

func (p *Processor) ruleKey(engineKey string) (string, bool) {
	if len(p.ruleKeys) == 0 {
		return engineKey, true
	}

	key, ok := p.ruleKeys[engineKey]

	return key, ok
}

func (p *Processor) convertIssue(ctx context.Context, file host.InputFile, src *source, raw bridge.Issue) (host.Issue, bool) {
	key, known := p.ruleKey(raw.RuleID)
	if !known {
		p.logger.Debug("ignoring issue of inactive rule", "file", file.Path, "rule", raw.RuleID)

		return host.Issue{}, false
	}

	issue := host.Issue{File: file.Path, RuleKey: key, Message: raw.Message, Cost: raw.Cost}

	rng, ok := p.issueRange(src, raw)
	if !ok {
		p.dropped(ctx, kindIssue, file.Path, "rule", raw.RuleID, "line", raw.Line, "column", raw.Column,
			"endLine", deref(raw.EndLine), "endColumn", deref(raw.EndColumn))

		return host.Issue{}, false
	}

	issue.Range = rng

	for _, loc := range raw.SecondaryLocations {
		secondary, valid := fromIssueLocation(loc)
		if !valid || !src.rangeFits(secondary) {
			p.dropped(ctx, kindSecondary, file.Path, append([]any{"rule", raw.RuleID}, coordinates(loc)...)...)

			continue
		}

		issue.Secondary = append(issue.Secondary, host.SecondaryLocation{Range: secondary, Message: loc.Message})
	}

	if p.caps.QuickFixes {
		issue.QuickFixes = p.convertQuickFixes(ctx, file, src, raw)
	}

	return issue, true
}

// issueRange applies the line rules: line 0 is file level, a missing end
// spans the whole line, anything else is an exact range.
func (p *Processor) issueRange(src *source, raw bridge.Issue) (*host.TextRange, bool) {
	if raw.Line == 0 {
		return nil, true
	}

	if raw.EndLine == nil {
		length, ok := src.lineLength(raw.Line)
		if !ok {
			return nil, false
		}

		return &host.TextRange{StartLine: raw.Line, EndLine: raw.Line, EndColumn: length}, true
	}

	if raw.EndColumn == nil {
		return nil, false
	}

	rng := host.TextRange{StartLine: raw.Line, StartColumn: raw.Column, EndLine: *raw.EndLine, EndColumn: *raw.EndColumn}
	if !src.rangeFits(rng) {
		return nil, false
	}

	return &rng, true
}

func (p *Processor) convertQuickFixes(ctx context.Context, file host.InputFile, src *source, raw bridge.Issue) []host.QuickFix {
	var fixes []host.QuickFix

	for _, fix := range raw.QuickFixes {
		converted := host.QuickFix{Message: fix.Message, Edits: make([]host.TextEdit, 0, len(fix.Edits))}
		valid := true

		for _, edit := range fix.Edits {
			rng, ok := fromIssueLocation(edit.Loc)
			if !ok || !src.rangeFits(rng) {
				p.dropped(ctx, kindQuickFix, file.Path, append([]any{"rule", raw.RuleID, "fix", fix.Message}, coordinates(edit.Loc)...)...)

				valid = false

				break
			}

			converted.Edits = append(converted.Edits, host.TextEdit{Range: rng, Text: edit.Text})
		}

		if valid {
			fixes = append(fixes, converted)
		}
	}

	return fixes
}

func (p *Processor) saveHighlights(ctx context.Context, sink host.Sink, file host.InputFile, src *source, raw []bridge.Highlight) {
	highlights := make([]host.Highlight, 0, len(raw))

	for _, h := range raw {
		rng := fromLocation(h.Location)
		if !src.rangeFits(rng) {
			p.dropped(ctx, kindHighlight, file.Path, "kind", h.TextType, "range", rng.String())

			continue
		}

		highlights = append(highlights, host.Highlight{Range: rng, Kind: h.TextType})
	}

	sink.AddHighlights(file.Path, highlights)
}

func (p *Processor) saveSymbols(ctx context.Context, sink host.Sink, file host.InputFile, src *source, raw []bridge.HighlightedSymbol) {
	symbols := make([]host.Symbol, 0, len(raw))

	for _, s := range raw {
		decl := fromLocation(s.Declaration)
		if !src.rangeFits(decl) {
			p.dropped(ctx, kindSymbol, file.Path, "declaration", decl.String())

			continue
		}

		symbol := host.Symbol{Declaration: decl, References: make([]host.TextRange, 0, len(s.References))}

		for _, ref := range s.References {
			rng := fromLocation(ref)
			if !src.rangeFits(rng) {
				p.dropped(ctx, kindReference, file.Path, "declaration", decl.String(), "reference", rng.String())

				continue
			}

			symbol.References = append(symbol.References, rng)
		}

		symbols = append(symbols, symbol)
	}

	sink.AddSymbols(file.Path, symbols)
}

func (p *Processor) cpdApplies(file host.InputFile) bool {
	return !file.IsTest() && !p.caps.Lightweight
}

func (p *Processor) saveCPD(ctx context.Context, sink host.Sink, file host.InputFile, src *source, raw []bridge.CPDToken) {
	if !p.cpdApplies(file) {
		return
	}

	tokens := make([]host.CPDToken, 0, len(raw))

	for _, tok := range raw {
		rng := fromLocation(tok.Location)
		if !src.rangeFits(rng) {
			p.dropped(ctx, kindCPDToken, file.Path, "image", tok.Image, "range", rng.String())

			continue
		}

		tokens = append(tokens, host.CPDToken{Range: rng, Image: tok.Image})
	}

	sink.AddCPDTokens(file.Path, tokens)

	if p.cpd != nil {
		if content := src.content(); content != nil {
			p.cpd.Put(file.Path, content, tokens)
		}
	}
}

func (p *Processor) dropped(ctx context.Context, kind, path string, attrs ...any) {
	p.metrics.ItemDropped(ctx, kind)

	args := append([]any{"file", path, "kind", kind, "error", ErrMalformedResult}, attrs...)
	p.logger.Warn("dropping malformed "+strings.ReplaceAll(kind, "_", " "), args...)
}

// fingerprint identifies an engine issue for de-duplication.
func fingerprint(raw bridge.Issue, issue host.Issue) string {
	var b strings.Builder

	b.WriteString(issue.RuleKey)
	b.WriteByte('|')

	if issue.Range != nil {
		b.WriteString(issue.Range.String())
	}

	b.WriteByte('|')
	b.WriteString(issue.Message)
	b.WriteByte('|')

	keys := slices.Clone(raw.RuleESLintKeys)
	slices.Sort(keys)
	b.WriteString(strings.Join(keys, ","))

	return b.String()
}

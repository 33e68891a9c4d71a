package lsp

import (
	"fmt"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/report"
)

const diagnosticSource = "jsbridge"

// toRange converts a 1-based host range to a 0-based protocol range.
func toRange(r host.TextRange) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: lineIndex(r.StartLine), Character: protocol.UInteger(max(r.StartColumn, 0))},
		End:   protocol.Position{Line: lineIndex(r.EndLine), Character: protocol.UInteger(max(r.EndColumn, 0))},
	}
}

func lineIndex(line int) protocol.UInteger {
	if line < 1 {
		return 0
	}

	return protocol.UInteger(line - 1)
}

// fileStart covers the first line for file-level findings.
func fileStart(line int) protocol.Range {
	idx := lineIndex(line)

	return protocol.Range{
		Start: protocol.Position{Line: idx},
		End:   protocol.Position{Line: idx + 1},
	}
}

// diagnostics converts the findings of one file.
func diagnostics(uri, path string, rep report.Report) []protocol.Diagnostic {
	out := []protocol.Diagnostic{}

	file, ok := rep.Files[path]
	if !ok {
		return out
	}

	source := diagnosticSource
	warning := protocol.DiagnosticSeverityWarning
	failure := protocol.DiagnosticSeverityError

	for _, issue := range file.Issues {
		rng := fileStart(1)
		if issue.Range != nil {
			rng = toRange(*issue.Range)
		}

		diag := protocol.Diagnostic{
			Range:    rng,
			Severity: &warning,
			Code:     &protocol.IntegerOrString{Value: issue.RuleKey},
			Source:   &source,
			Message:  issue.Message,
		}

		for _, loc := range issue.Secondary {
			diag.RelatedInformation = append(diag.RelatedInformation, protocol.DiagnosticRelatedInformation{
				Location: protocol.Location{URI: uri, Range: toRange(loc.Range)},
				Message:  loc.Message,
			})
		}

		out = append(out, diag)
	}

	for _, analysisErr := range file.Errors {
		out = append(out, protocol.Diagnostic{
			Range:    fileStart(analysisErr.Line),
			Severity: &failure,
			Source:   &source,
			Message:  fmt.Sprintf("Analysis failed: %s", analysisErr.Message),
		})
	}

	return out
}

// codeActions offers the quick fixes of issues overlapping rng.
func codeActions(uri string, issues []host.Issue, rng protocol.Range) []protocol.CodeAction {
	kind := protocol.CodeActionKindQuickFix
	actions := []protocol.CodeAction{}

	for _, issue := range issues {
		if issue.Range == nil || !overlaps(toRange(*issue.Range), rng) {
			continue
		}

		for _, fix := range issue.QuickFixes {
			edits := make([]protocol.TextEdit, 0, len(fix.Edits))
			for _, edit := range fix.Edits {
				edits = append(edits, protocol.TextEdit{Range: toRange(edit.Range), NewText: edit.Text})
			}

			actions = append(actions, protocol.CodeAction{
				Title: fix.Message,
				Kind:  &kind,
				Edit:  &protocol.WorkspaceEdit{Changes: map[protocol.DocumentUri][]protocol.TextEdit{uri: edits}},
			})
		}
	}

	return actions
}

func overlaps(a, b protocol.Range) bool {
	return !before(a.End, b.Start) && !before(b.End, a.Start)
}

func before(p, q protocol.Position) bool {
	return p.Line < q.Line || (p.Line == q.Line && p.Character < q.Character)
}

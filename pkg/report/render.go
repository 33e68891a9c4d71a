package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/jsbridge/pkg/levenshtein"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
)

// ErrUnknownFormat indicates an unsupported output format.
var ErrUnknownFormat = errors.New("unknown output format")

const fileLevel = "-"

// Formats lists the supported output formats.
func Formats() []string {
	return []string{FormatText, FormatJSON, FormatYAML}
}

// TextOptions tunes the text renderer.
type TextOptions struct {
	// NoColor disables ANSI colors.
	NoColor bool
	// Previews renders quick fixes as before/after diffs.
	Previews bool
	// ReadFile loads file content for previews. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// Render writes rep in the given format.
func Render(w io.Writer, rep Report, format string, opts TextOptions) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		err := encoder.Encode(rep)
		if err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}

		return nil
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)

		err := encoder.Encode(rep)
		if err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}

		return encoder.Close()
	case FormatText, "":
		return renderText(w, rep, opts)
	default:
		return fmt.Errorf("%w: %q%s", ErrUnknownFormat, format, levenshtein.Suggest(format, Formats()))
	}
}

func renderText(w io.Writer, rep Report, opts TextOptions) error {
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}

	paint := func(attr color.Attribute) *color.Color {
		c := color.New(attr)
		if opts.NoColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}

		return c
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.AppendHeader(table.Row{"File", "Line", "Rule", "Message"})

	errorCount := 0

	for _, path := range rep.Paths() {
		f := rep.Files[path]
		errorCount += len(f.Errors)

		for _, issue := range f.Issues {
			line := fileLevel
			if issue.Range != nil {
				line = fmt.Sprintf("%d:%d", issue.Range.StartLine, issue.Range.StartColumn)
			}

			tbl.AppendRow(table.Row{path, line, issue.RuleKey, issue.Message})
		}
	}

	issueCount := rep.IssueCount()
	if issueCount > 0 {
		_, err := fmt.Fprintln(w, tbl.Render())
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	if opts.Previews {
		previewErr := renderPreviews(w, rep, opts, paint(color.FgCyan))
		if previewErr != nil {
			return previewErr
		}
	}

	for _, path := range rep.Paths() {
		for _, analysisErr := range rep.Files[path].Errors {
			paint(color.FgRed).Fprintf(w, "error: %s:%d: %s\n", path, analysisErr.Line, analysisErr.Message)
		}
	}

	for _, warning := range rep.Warnings {
		paint(color.FgYellow).Fprintf(w, "warning: %s\n", warning)
	}

	summary := paint(color.FgGreen)
	if issueCount > 0 || errorCount > 0 {
		summary = paint(color.FgRed)
	}

	summary.Fprintf(w, "%s %s in %s %s, %s %s\n",
		humanize.Comma(int64(issueCount)), plural(issueCount, "issue"),
		humanize.Comma(int64(len(rep.Files))), plural(len(rep.Files), "file"),
		humanize.Comma(int64(errorCount)), plural(errorCount, "analysis error"))

	return nil
}

func renderPreviews(w io.Writer, rep Report, opts TextOptions, heading *color.Color) error {
	for _, path := range rep.Paths() {
		var content []byte

		for _, issue := range rep.Files[path].Issues {
			for _, fix := range issue.QuickFixes {
				if content == nil {
					data, err := opts.ReadFile(path)
					if err != nil {
						break
					}

					content = data
				}

				heading.Fprintf(w, "%s [%s] %s\n", path, issue.RuleKey, fix.Message)

				_, err := io.WriteString(w, Preview(string(content), fix, !opts.NoColor))
				if err != nil {
					return fmt.Errorf("write preview: %w", err)
				}
			}
		}
	}

	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}

	return word + "s"
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for idx := range lines {
		lines[idx] = prefix + lines[idx]
	}

	return strings.Join(lines, "\n") + "\n"
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/jsbridge/pkg/analysis"
	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/levenshtein"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
	"github.com/Sumatoshi-tech/jsbridge/pkg/orchestrator"
	"github.com/Sumatoshi-tech/jsbridge/pkg/report"
)

// defaultExcludes are skipped unless --exclude replaces them.
var defaultExcludes = []string{
	"**/node_modules/**",
	"**/bower_components/**",
	"**/.git/**",
	"**/dist/**",
	"**/vendor/**",
	"**/*.min.js",
	"**/.jsbridge/**",
}

// AnalyzeCommand holds the flags of the analyze command.
type AnalyzeCommand struct {
	global   *GlobalOptions
	format   string
	output   string
	excludes []string
	noColor  bool
	previews bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(global *GlobalOptions) *cobra.Command {
	ac := &AnalyzeCommand{global: global}

	cmd := &cobra.Command{
		Use:   "analyze [path]",
		Short: "Analyze a JavaScript/TypeScript project",
		Long: `Analyze every JavaScript, TypeScript, CSS, YAML and HTML file under path
with the analysis engine and print the findings.`,
		Args: cobra.MaximumNArgs(1),
		RunE: ac.run,
	}

	cmd.Flags().StringVarP(&ac.format, "format", "f", report.FormatText, "Output format: text, json or yaml")
	cmd.Flags().StringVarP(&ac.output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringSliceVar(&ac.excludes, "exclude", defaultExcludes, "Glob patterns of paths to skip")
	cmd.Flags().BoolVar(&ac.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&ac.previews, "previews", true, "Show quick fix previews in text output")

	return cmd
}

func (ac *AnalyzeCommand) run(cmd *cobra.Command, args []string) error {
	if !slices.Contains(report.Formats(), ac.format) {
		return fmt.Errorf("%w: %q%s", report.ErrUnknownFormat, ac.format, levenshtein.Suggest(ac.format, report.Formats()))
	}

	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	rt, err := NewRuntime(*ac.global, root, observability.ModeCLI)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(cmd.Context()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rep, err := rt.Analyze(ctx, ac.excludes)
	if err != nil {
		return err
	}

	out, closeOut, err := ac.writer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	return report.Render(out, rep, ac.format, report.TextOptions{
		NoColor:  ac.noColor,
		Previews: ac.previews,
	})
}

// Analyze collects the files under the base directory and runs one session
// over them. A cancelled run still returns what was collected so far.
func (rt *Runtime) Analyze(ctx context.Context, excludes []string) (report.Report, error) {
	files, err := CollectFiles(rt.BaseDir, excludes, rt.CPD)
	if err != nil {
		return report.Report{}, err
	}

	rt.Logger.Info("files selected", "count", len(files), "base_dir", rt.BaseDir)

	sink := report.NewCollector()
	session := rt.NewSession(sink, rt.Capabilities(false), orchestrator.Mode(rt.Config.Analysis.Mode), host.NeverCancel)

	runErr := session.Run(ctx, files)
	if runErr != nil && !errors.Is(runErr, bridge.ErrCancelled) {
		return report.Report{}, runErr
	}

	return sink.Snapshot(), nil
}

func (ac *AnalyzeCommand) writer(stdout io.Writer) (io.Writer, func(), error) {
	if ac.output == "" {
		return stdout, func() {}, nil
	}

	file, err := os.Create(ac.output)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}

	return file, func() { _ = file.Close() }, nil
}

// CollectFiles walks root for files the engine understands. A file is
// offered as unchanged when cache already holds its current content.
func CollectFiles(root string, excludes []string, cache *analysis.CPDCache) ([]host.InputFile, error) {
	var files []host.InputFile

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		if excluded(filepath.ToSlash(rel), d.IsDir(), excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		lang, ok := host.DetectLanguage(path)
		if !ok {
			return nil
		}

		binary, sniffErr := host.IsBinaryFile(path)
		if sniffErr != nil || binary {
			return nil //nolint:nilerr // unreadable or binary files are skipped.
		}

		fileType := host.TypeMain
		if host.IsTestPath(path) {
			fileType = host.TypeTest
		}

		files = append(files, host.InputFile{Path: path, Type: fileType, Status: fileStatus(path, cache), Language: lang})

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	return files, nil
}

func fileStatus(path string, cache *analysis.CPDCache) host.FileStatus {
	if cache == nil {
		return host.StatusChanged
	}

	content, err := os.ReadFile(path)
	if err != nil || !cache.Contains(path, content) {
		return host.StatusChanged
	}

	return host.StatusSame
}

// excluded matches rel against patterns. Directories are also tested with a
// trailing separator so "**/dist/**" prunes the whole tree.
func excluded(rel string, dir bool, patterns []string) bool {
	if rel == "." {
		return false
	}

	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}

		if dir {
			if ok, _ := doublestar.Match(pattern, rel+"/x"); ok {
				return true
			}
		}
	}

	return false
}

package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/lsp"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
	"github.com/Sumatoshi-tech/jsbridge/pkg/orchestrator"
	"github.com/Sumatoshi-tech/jsbridge/pkg/tsconfig"
	"github.com/Sumatoshi-tech/jsbridge/pkg/version"
)

// NewLSPCommand creates the language server command.
func NewLSPCommand(global *GlobalOptions) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Start the language server (stdio)",
		Long: `Start a Language Server Protocol server on stdio. Open buffers are analyzed
as they change and findings are published as diagnostics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLSP(cmd.Context(), *global, root)
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "Workspace root")

	return cmd
}

func runLSP(ctx context.Context, global GlobalOptions, root string) error {
	rt, err := NewRuntime(global, root, observability.ModeLSP)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if rt.Config.TsConfig.Watch {
		watcher, watchErr := tsconfig.NewWatcher(rt.BaseDir, rt.Resolver.Cache(), rt.Logger)
		if watchErr != nil {
			rt.Logger.Warn("tsconfig watching disabled", "error", watchErr)
		} else {
			go func() {
				runErr := watcher.Run(ctx)
				if runErr != nil && !errors.Is(runErr, context.Canceled) {
					rt.Logger.Warn("tsconfig watcher stopped", "error", runErr)
				}
			}()
		}
	}

	analyze := func(ctx context.Context, sink host.Sink, files []host.InputFile) error {
		session := rt.NewSession(sink, rt.Capabilities(true), orchestrator.ModeConfig, host.NeverCancel)

		return session.Run(ctx, files)
	}

	srv := lsp.NewServer(analyze,
		lsp.WithLogger(rt.Logger),
		lsp.WithEventSink(rt.Resolver.Cache()),
		lsp.WithVersion(version.Version),
		lsp.WithShutdown(cancel),
	)

	return srv.Run(ctx)
}

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/jsbridge/pkg/engine"
	"github.com/Sumatoshi-tech/jsbridge/pkg/observability"
)

// NewStatusCommand creates the command that starts the engine and reports
// how it was launched.
func NewStatusCommand(global *GlobalOptions) *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Start the analysis engine and report its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := NewRuntime(*global, ".", observability.ModeCLI)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(cmd.Context()))

			row := StatusRow{Telemetry: rt.Supervisor.Telemetry(), Command: rt.Supervisor.Command()}

			row.Err = rt.Supervisor.EnsureStarted(cmd.Context())
			if row.Err == nil {
				row.Telemetry = rt.Supervisor.Telemetry()
				row.Command = rt.Supervisor.Command()
				row.Status, row.Err = rt.Client.Status(cmd.Context())
			}

			RenderStatus(cmd.OutOrStdout(), row, noColor)

			return row.Err
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

// StatusRow is what the status command reports.
type StatusRow struct {
	Telemetry engine.Telemetry
	Command   string
	Status    string
	Err       error
}

// RenderStatus prints row as a table.
func RenderStatus(w io.Writer, row StatusRow, noColor bool) {
	state := color.New(color.FgGreen)
	label := "OK"

	if row.Err != nil {
		state = color.New(color.FgRed)
		label = "FAIL: " + row.Err.Error()
	}

	if noColor {
		state.DisableColor()
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendRows([]table.Row{
		{"Executable", row.Telemetry.Executable},
		{"Origin", string(row.Telemetry.Origin)},
		{"Version", row.Telemetry.Version},
		{"Command", row.Command},
		{"Engine status", row.Status},
		{"Result", state.Sprint(label)},
	})
	tbl.Render()

	fmt.Fprintln(w)
}

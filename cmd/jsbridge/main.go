// Package main provides the entry point for the jsbridge CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/jsbridge/cmd/jsbridge/commands"
	"github.com/Sumatoshi-tech/jsbridge/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	global := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "jsbridge",
		Short: "Run the JavaScript/TypeScript analysis engine from the command line or an editor",
		Long: `jsbridge drives an external JavaScript/TypeScript/CSS analysis engine.

Commands:
  analyze   Analyze a project and print the findings
  lsp       Serve findings to an editor over the Language Server Protocol
  status    Start the engine and report how it runs`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&global.ConfigPath, "config", "c", "", "config file (default: .jsbridge.yaml)")
	rootCmd.PersistentFlags().StringArrayVarP(&global.Properties, "define", "D", nil, "set a property, e.g. -D sonar.nodejs.executable=/usr/bin/node")
	rootCmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewAnalyzeCommand(global))
	rootCmd.AddCommand(commands.NewLSPCommand(global))
	rootCmd.AddCommand(commands.NewStatusCommand(global))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "jsbridge %s\n", version.String())
		},
	}
}

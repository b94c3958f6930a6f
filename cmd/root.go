// Package cmd implements the mediabundler command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var RootCommand = &cobra.Command{
	Use:           "mediabundler",
	Short:         "Bundle catalog media into content-addressed archives",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCommand.AddCommand(
		buildCommand(),
		importCommand(),
		migrateCommand(),
		planCommand(),
		schemaCommand(),
	)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := RootCommand.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

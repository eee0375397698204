package cli

import (
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task>...",
		Short: "Run named tasks in order",
		Long: `Run executes the named tasks one after another and stops at the first
failure.

Tasks:
  jade:compile   compile the template (aliases: jade, compile)
  watch          watch and recompile (alias: watch:jade)`,
		Example: `  jadewatch run jade:compile watch`,
		Args:    cobra.MinimumNArgs(1),
		ValidArgs: []string{
			"jade:compile", "watch",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, args)
		},
	}

	registerCompileFlags(cmd)
	registerWatchFlags(cmd)

	return cmd
}

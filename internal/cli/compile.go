package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/jadewatch/internal/task"
)

func newCompileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "compile",
		Aliases: []string{"jade", "jade:compile"},
		Short:   "Compile the Jade template to HTML once",
		Long: `Compile renders the configured Jade template and writes the HTML page.

The destination is replaced atomically. When the template fails to parse
the previous page is left untouched and the command exits with code 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasks(cmd, []string{task.NameCompile})
		},
	}

	registerCompileFlags(cmd)

	return cmd
}

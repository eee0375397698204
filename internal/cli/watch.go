package cli

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/hupe1980/jadewatch/internal/config"
	"github.com/hupe1980/jadewatch/internal/task"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"watch:jade"},
		Short:   "Recompile on template changes and live-reload the browser",
		Long: `Watch monitors the project for template changes and re-runs the
compile task when one of them is modified.

Changes are debounced and coalesced: edits that land while a compile is
running produce exactly one follow-up compile. After every successful
compile a reload notification is sent to LiveReload clients; failures
are reported and the watcher keeps running.

Files under layout/ and node_modules/ are excluded by default. Press
Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if config.FromContext(cmd.Context()).LogLevel != config.LogLevelDebug {
				gin.SetMode(gin.ReleaseMode)
			}

			return runTasks(cmd, []string{task.NameWatch})
		},
	}

	registerCompileFlags(cmd)
	registerWatchFlags(cmd)

	return cmd
}

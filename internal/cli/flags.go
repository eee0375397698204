package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/jadewatch/internal/config"
)

// registerCompileFlags adds the jade:compile task flags to a cobra command.
// Values reach the task through viper, see config.Load.
func registerCompileFlags(cmd *cobra.Command) {
	d := config.Default().Compile

	f := cmd.Flags()
	f.String("src", d.Source, "Jade template to compile")
	f.StringP("dest", "o", d.Destination, `HTML output file ("-" for stdout)`)
	f.Bool("pretty", d.Pretty, "indent the generated HTML")
}

// registerWatchFlags adds the watch task flags to a cobra command.
func registerWatchFlags(cmd *cobra.Command) {
	d := config.Default().Watch

	f := cmd.Flags()
	f.StringSlice("include", d.Include, `glob patterns that trigger a rebuild ("!pattern" excludes)`)
	f.StringSlice("exclude", d.Exclude, "glob patterns that never trigger a rebuild")
	f.String("root", d.Root, "directory patterns are evaluated against")
	f.Bool("livereload", d.LiveReload, "serve live-reload notifications")
	f.String("livereload-addr", d.LiveReloadAddr, "live-reload listen address")
	f.Duration("debounce", d.Debounce, "quiet period before a rebuild")
	f.Bool("run-on-start", d.RunOnStart, "compile once before waiting for changes")
}

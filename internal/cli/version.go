package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/jadewatch/internal/version"
)

func newVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the jadewatch version",
		Long: `Print the jadewatch release together with the commit and date it was
built from. Builds installed with "go install" report the module version.`,
		Args: cobra.NoArgs,
		// Skips config, logging and project metadata loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetInfo()
			w := cmd.OutOrStdout()

			if !asJSON {
				_, err := fmt.Fprintln(w, info.String())
				return err
			}

			j, err := info.JSON()
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(w, j)

			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print build info as JSON")

	return cmd
}

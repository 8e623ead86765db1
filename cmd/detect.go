package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/stealthdriver/internal/observability"
)

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Print the installed browser version and the driver channel it maps to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			version, err := newResolver(cfg, observability.GetLogger()).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			milestone, err := version.UsesMilestoneManifest()
			if err != nil {
				return err
			}
			channel := "legacy"
			if milestone {
				channel = "milestone"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", version, channel)
			return err
		},
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/stealthdriver/internal/observability"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete the cached raw and patched driver executables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			manager, err := buildManager(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			if err := manager.Clean(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed cached drivers from %s\n", cfg.Driver.InstallDir)
			return err
		},
	}
}

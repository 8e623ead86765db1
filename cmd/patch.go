package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/stealthdriver/internal/observability"
	"github.com/xkilldash9x/stealthdriver/internal/patch"
	"github.com/xkilldash9x/stealthdriver/internal/platform"
)

func newPatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <src> [dst]",
		Short: "Scrub automation markers from a chromedriver binary",
		Long: `Writes a copy of src with every cdc_ token replaced. dst defaults to the patched
executable name next to src.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			var dst string
			if len(args) == 2 {
				dst = args[1]
			} else {
				name, err := platform.Current().PatchedName()
				if err != nil {
					return err
				}
				dst = filepath.Join(filepath.Dir(src), name)
			}

			res, err := patch.NewPatcher(observability.GetLogger(), nil).Patch(src, dst)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d marker(s) replaced\n", dst, res.Count)
			return err
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spkenv/spfs/checkengine"
	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/syncengine"
)

func newCheckCommand() *cobra.Command {
	var repairAddr string
	cmd := &cobra.Command{
		Use:   "check <repo> <ref> [ref...]",
		Short: "walk the transitive closure of one or more refs, verifying every object and payload",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			repo, err := openRepository(args[0], false)
			if err != nil {
				return fmt.Errorf("open repo: %w", err)
			}
			defer closeIfCloser(repo)

			var repair storage.Repository
			if repairAddr != "" {
				repair, err = openRepository(repairAddr, false)
				if err != nil {
					return fmt.Errorf("open repair source: %w", err)
				}
				defer closeIfCloser(repair)
			}

			ctx := cmd.Context()
			roots := make([]encoding.Digest, 0, len(args)-1)
			for _, ref := range args[1:] {
				d, err := syncengine.ResolveRef(ctx, repo, ref)
				if err != nil {
					return fmt.Errorf("resolve ref %s: %w", ref, err)
				}
				roots = append(roots, d)
			}

			report, err := checkengine.CheckRoots(ctx, repo, roots, checkengine.Options{Repair: repair})
			if report != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "objects: checked %d, missing %d, repaired %d; payloads: checked %d, missing %d, repaired %d\n",
					report.CheckedObjects, len(report.MissingObjects), report.RepairedObjects,
					report.CheckedPayloads, len(report.MissingPayloads), report.RepairedPayloads)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&repairAddr, "repair-from", "", "repository address to sync missing items from and re-verify")
	return cmd
}

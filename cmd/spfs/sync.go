package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spkenv/spfs/syncengine"
)

func newSyncCommand() *cobra.Command {
	var createDest bool
	cmd := &cobra.Command{
		Use:   "sync <source> <dest> <ref> [ref...]",
		Short: "copy the transitive closure of one or more refs from source into dest",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			source, err := openRepository(args[0], false)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer closeIfCloser(source)
			dest, err := openRepository(args[1], createDest)
			if err != nil {
				return fmt.Errorf("open dest: %w", err)
			}
			defer closeIfCloser(dest)

			report, err := syncengine.SyncEnv(cmd.Context(), source, dest, args[2:], syncengine.Options{
				MaxConcurrentObjects:  cfg.Sync.MaxConcurrentObjects,
				MaxConcurrentPayloads: cfg.Sync.MaxConcurrentPayloads,
			})
			if report != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "objects: copied %d, skipped %d, failed %d; payloads: copied %d, skipped %d, failed %d\n",
					report.ObjectsCopied, report.ObjectsSkipped, report.ObjectsFailed,
					report.PayloadsCopied, report.PayloadsSkipped, report.PayloadsFailed)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&createDest, "create-dest", false, "initialize dest as a new fs repository if it does not exist")
	return cmd
}

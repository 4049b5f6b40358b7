package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spkenv/spfs/cleanengine"
)

func newCleanCommand() *cobra.Command {
	var (
		dryRun           bool
		markOnly         bool
		sweepOnly        bool
		checkpointDir    string
		olderThanUnix    int64
		versionBeyond    int
		pruneRepeated    bool
		requiredAgeHours int
	)
	cmd := &cobra.Command{
		Use:   "clean <repo>",
		Short: "prune tag history, then mark and sweep everything left unattached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			requiredAge := int64(requiredAgeHours) * 3600
			if requiredAge == 0 {
				requiredAge = int64(time.Duration(cfg.Clean.RequiredAge) / time.Second)
			}
			repo, err := openRepository(args[0], false)
			if err != nil {
				return fmt.Errorf("open repo: %w", err)
			}
			defer closeIfCloser(repo)

			prune := cleanengine.PruneOptions{
				OlderThanUnix:      olderThanUnix,
				VersionBeyond:      versionBeyond,
				PruneRepeated:      pruneRepeated,
				RequiredAgeSeconds: requiredAge,
			}
			opts := cleanengine.Options{
				DryRun:                 dryRun,
				MarkOnly:               markOnly,
				SweepOnly:              sweepOnly,
				CheckpointDir:          checkpointDir,
				MaxConcurrentTagScans:  cfg.Clean.MaxTagStreamConcurrency,
				MaxConcurrentDiscovery: cfg.Clean.MaxDiscoverConcurrency,
				MaxConcurrentRemoval:   cfg.Clean.MaxRemovalConcurrency,
			}

			stats, err := cleanengine.Run(cmd.Context(), repo, prune, opts)
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "tags pruned: %d; objects removed: %d; payloads removed: %d\n",
					stats.TagsPruned, stats.ObjectsRemoved, stats.PayloadsRemoved)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log candidate removals without executing them")
	cmd.Flags().BoolVar(&markOnly, "mark-only", false, "run tag pruning and the mark phase, then checkpoint and stop")
	cmd.Flags().BoolVar(&sweepOnly, "sweep-only", false, "resume from a checkpoint and run only the sweep phase")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "directory to save/load the mark-phase checkpoint")
	cmd.Flags().Int64Var(&olderThanUnix, "older-than", 0, "prune tag entries at or before this unix timestamp")
	cmd.Flags().IntVar(&versionBeyond, "version-beyond", 0, "prune tag entries beyond this position in their stream")
	cmd.Flags().BoolVar(&pruneRepeated, "prune-repeated", false, "prune tag entries repeating a more recent entry's target")
	cmd.Flags().IntVar(&requiredAgeHours, "required-age-hours", 0, "minimum age in hours of a tag entry before it can be pruned (0 uses clean.requiredage from the config)")
	return cmd
}

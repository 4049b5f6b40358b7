package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spkenv/spfs/ocibridge"
	"github.com/spkenv/spfs/storage/object"
	"github.com/spkenv/spfs/syncengine"
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <repo> <ref> <oci-dir>",
		Short: "export a platform or layer's stack as an OCI image layout directory",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			repo, err := openRepository(args[0], false)
			if err != nil {
				return fmt.Errorf("open repo: %w", err)
			}
			defer closeIfCloser(repo)

			ctx := cmd.Context()
			target, err := syncengine.ResolveRef(ctx, repo, args[1])
			if err != nil {
				return fmt.Errorf("resolve ref %s: %w", args[1], err)
			}
			stack, err := resolveStack(ctx, repo, target)
			if err != nil {
				return fmt.Errorf("resolve stack: %w", err)
			}

			result, err := ocibridge.Export(ctx, repo, object.DefaultStrategy, stack, args[2])
			if result != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "manifest %s, config %s, %d layer(s)\n",
					result.ManifestDigest, result.ConfigDigest, len(result.LayerDigests))
			}
			return err
		},
	}
	return cmd
}

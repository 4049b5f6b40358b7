package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spkenv/spfs/render"
	"github.com/spkenv/spfs/storage/object"
	"github.com/spkenv/spfs/syncengine"
)

var renderStrategies = map[string]render.Strategy{
	"hardlink":          render.HardLink,
	"hardlink-no-proxy": render.HardLinkNoProxy,
	"copy":              render.Copy,
	"copy-no-proxy":     render.CopyNoProxy,
}

func newRenderCommand() *cobra.Command {
	var (
		strategy string
		proxyDir string
	)
	cmd := &cobra.Command{
		Use:   "render <repo> <target-dir> <ref>",
		Short: "materialize a platform or layer's merged manifest onto the local filesystem",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("strategy") && cfg.Render.Strategy != "" {
				strategy = cfg.Render.Strategy
			}
			strat, ok := renderStrategies[strategy]
			if !ok {
				return fmt.Errorf("unknown render strategy %q", strategy)
			}

			repo, err := openRepository(args[0], false)
			if err != nil {
				return fmt.Errorf("open repo: %w", err)
			}
			defer closeIfCloser(repo)

			ctx := cmd.Context()
			target, err := syncengine.ResolveRef(ctx, repo, args[2])
			if err != nil {
				return fmt.Errorf("resolve ref %s: %w", args[2], err)
			}
			stack, err := resolveStack(ctx, repo, target)
			if err != nil {
				return fmt.Errorf("resolve stack: %w", err)
			}
			layers, err := manifestsForStack(ctx, repo, stack)
			if err != nil {
				return fmt.Errorf("collect layer manifests: %w", err)
			}

			summary, err := render.Manifest(ctx, repo, args[1], layers, render.Options{
				Strategy:       strat,
				DigestStrategy: object.DefaultStrategy,
				ProxyDir:       proxyDir,
			})
			if summary != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "entries rendered: %d\n", summary.EntryCount.Load())
			}
			return err
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "hardlink", "render strategy: hardlink, hardlink-no-proxy, copy, or copy-no-proxy")
	cmd.Flags().StringVar(&proxyDir, "proxy-dir", "", "proxy cache directory, required by the hardlink and copy strategies")
	return cmd
}

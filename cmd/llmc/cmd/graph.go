package cmd

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/graph"
	"github.com/llmc-dev/llmc/internal/output"
)

func newGraphCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and inspect the dependency graph",
	}
	cmd.AddCommand(newGraphBuildCmd(opts))
	cmd.AddCommand(newGraphStatsCmd(opts))
	return cmd
}

func newGraphBuildCmd(opts *rootOptions) *cobra.Command {
	var allowEmpty bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Rebuild the graph artifact from the catalog",
		Long: `Derive entities and relations from indexed spans and their
enrichments, then atomically replace the graph artifact. A catalog with
no real enrichments yields a skeleton graph, which is rejected unless
--allow-empty-enrichment is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraphBuild(cmd.Context(), opts.writer(cmd), opts.root(), allowEmpty)
		},
	}
	cmd.Flags().BoolVar(&allowEmpty, "allow-empty-enrichment", false,
		"Build even when no span has a real enrichment")
	return cmd
}

func runGraphBuild(ctx context.Context, out *output.Writer, root string, allowEmpty bool) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cat, err := openCatalog(root)
	if err != nil {
		return err
	}
	defer cat.Close()

	stats, err := cat.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.EnrichedReal == 0 && !allowEmpty {
		return llmcerrors.Config(
			"no real enrichments in catalog; run enrich first or pass --allow-empty-enrichment", nil)
	}

	artifact, err := graph.Build(ctx, filepath.Base(root), cat, cfg.Search.GraphPruneConfidence)
	if err != nil {
		return err
	}
	store := graph.NewStore(root)
	if err := store.Write(artifact); err != nil {
		return err
	}

	if out.Emit(store.Stats()) {
		return nil
	}
	out.Successf("graph built: %d entities, %d relations",
		len(artifact.Entities), len(artifact.Relations))
	out.KV("artifact", store.ArtifactPath())
	return nil
}

func newGraphStatsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show graph artifact statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraphStats(cmd.Context(), opts.writer(cmd), opts.root())
		},
	}
	return cmd
}

func runGraphStats(ctx context.Context, out *output.Writer, root string) error {
	cat, err := openCatalog(root)
	if err != nil {
		return err
	}
	defer cat.Close()

	linkHash, err := cat.SpanLinkHash(ctx)
	if err != nil {
		return err
	}
	store := graph.NewStore(root)
	if _, err := store.Load(linkHash); err != nil {
		return err
	}
	stats := store.Stats()
	if out.Emit(stats) {
		return nil
	}
	out.Headerf("graph %s", store.ArtifactPath())
	out.KV("entities", strconv.Itoa(stats.Entities))
	out.KV("relations", strconv.Itoa(stats.Relations))
	out.KV("files", strconv.Itoa(stats.Files))
	if stats.Stale {
		out.Warnf("artifact lags the catalog, rebuild with 'llmc graph build'")
	}
	return nil
}

package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/indexer"
	"github.com/llmc-dev/llmc/internal/output"
)

// openCatalog opens the repo's span catalog, creating the index directory
// on first use.
func openCatalog(root string) (*catalog.Store, error) {
	return catalog.Open(filepath.Join(config.IndexDir(root), "index_v2.db"))
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var since string
	var noExport bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the repo into the span catalog",
		Long: `Walk the working tree, split files into spans, and commit the
changes to the catalog. With --since, only files touched after the
given commit are reprocessed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), opts.writer(cmd), opts.root(), since, noExport)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Reindex only files changed since this commit")
	cmd.Flags().BoolVar(&noExport, "no-export", false, "Skip sidecar markdown export")
	return cmd
}

func runIndex(ctx context.Context, out *output.Writer, root, since string, noExport bool) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if noExport {
		cfg.Indexer.Sidecar = false
	}
	cat, err := openCatalog(root)
	if err != nil {
		return err
	}
	defer cat.Close()

	ix, err := indexer.New(root, cfg, cat, slog.Default())
	if err != nil {
		return err
	}
	defer ix.Close()

	var stats *indexer.IndexStats
	if since != "" {
		stats, err = ix.IndexSince(ctx, since)
	} else {
		stats, err = ix.IndexAll(ctx)
	}
	if err != nil {
		return err
	}
	printIndexStats(out, stats)
	return nil
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <path>...",
		Short: "Reindex specific files",
		Long: `Reindex the given paths only. Spans whose content is unchanged keep
their hashes, enrichments, and embeddings; deleted files are pruned.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts.writer(cmd), opts.root(), args)
		},
	}
	return cmd
}

func runSync(ctx context.Context, out *output.Writer, root string, paths []string) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cat, err := openCatalog(root)
	if err != nil {
		return err
	}
	defer cat.Close()

	ix, err := indexer.New(root, cfg, cat, slog.Default())
	if err != nil {
		return err
	}
	defer ix.Close()

	stats, err := ix.IndexPaths(ctx, paths)
	if err != nil {
		return err
	}
	printIndexStats(out, stats)
	return nil
}

func printIndexStats(out *output.Writer, stats *indexer.IndexStats) {
	if out.Emit(stats) {
		return
	}
	out.Successf("indexed %d files in %s", stats.Files, stats.Duration.Round(time.Millisecond))
	out.KV("spans added", strconv.Itoa(stats.SpansAdded))
	out.KV("unchanged", strconv.Itoa(stats.SpansUnchanged))
	out.KV("removed", strconv.Itoa(stats.SpansRemoved))
	if stats.FilesSkipped > 0 {
		out.KV("skipped", strconv.Itoa(stats.FilesSkipped))
	}
	for _, fe := range stats.Errors {
		out.Warnf("%s: %s", fe.Path, fe.Error)
	}
}

package cmd

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/enrich"
	"github.com/llmc-dev/llmc/internal/output"
)

func newEnrichCmd(opts *rootOptions) *cobra.Command {
	var execute bool
	var limit int

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich pending spans with local model summaries",
		Long: `Route pending spans through the configured backend chains and store
the structured summaries. Without --execute only the pending count is
reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(cmd.Context(), opts.writer(cmd), opts.root(), execute, limit)
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "Run enrichment (default is a dry run)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 32, "Maximum spans per batch")
	return cmd
}

func runEnrich(ctx context.Context, out *output.Writer, root string, execute bool, limit int) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	cat, err := openCatalog(root)
	if err != nil {
		return err
	}
	defer cat.Close()

	if !execute {
		pending, err := cat.CountPendingEnrichments(ctx)
		if err != nil {
			return err
		}
		if out.Emit(map[string]int{"pending": pending}) {
			return nil
		}
		out.Statusf("%d spans pending enrichment (use --execute to run)", pending)
		return nil
	}

	tracker := enrich.NewFailureTracker(
		time.Duration(cfg.Enrichment.CooldownSeconds)*time.Second,
		cfg.Enrichment.MaxFailures)
	pipeline := enrich.NewPipeline(cat, &cfg.Enrichment, tracker, slog.Default())

	res, err := pipeline.ProcessBatch(ctx, limit)
	if err != nil {
		return err
	}
	if out.Emit(res) {
		return nil
	}
	out.Successf("enriched %d/%d spans in %s",
		res.Succeeded, res.Attempted, res.Duration.Round(time.Millisecond))
	if res.Failed > 0 {
		out.Warnf("%d spans failed, retry after cooldown", res.Failed)
	}
	if res.Skipped > 0 {
		out.KV("skipped", strconv.Itoa(res.Skipped))
	}
	out.KV("still pending", strconv.Itoa(res.TotalPending-res.Succeeded))
	return nil
}

package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/analytics"
	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/embed"
	"github.com/llmc-dev/llmc/internal/graph"
	"github.com/llmc-dev/llmc/internal/lexical"
	"github.com/llmc-dev/llmc/internal/output"
	"github.com/llmc-dev/llmc/internal/planner"
	"github.com/llmc-dev/llmc/internal/vector"
)

type searchOptions struct {
	limit            int
	contextRemaining int
	noVector         bool
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var sopts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Plan and run a query against the index",
		Long: `Classify the query's intent, route it, and retrieve spans by fusing
the lexical, vector, and graph channels with reciprocal rank fusion.

Examples:
  llmc search "where is the session token validated"
  llmc search "explain the merge strategy" --json
  llmc search "handleRequest" --limit 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), opts.writer(cmd), opts.root(), query, sopts)
		},
	}
	cmd.Flags().IntVarP(&sopts.limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().IntVar(&sopts.contextRemaining, "context-remaining", 0,
		"Caller's remaining token budget (0 = unbounded)")
	cmd.Flags().BoolVar(&sopts.noVector, "no-vector", false, "Skip the vector channel")
	return cmd
}

func runSearch(ctx context.Context, out *output.Writer, root, query string, sopts searchOptions) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if sopts.limit > 0 {
		cfg.Search.MaxResults = sopts.limit
	}
	cat, err := openCatalog(root)
	if err != nil {
		return err
	}
	defer cat.Close()

	lex, err := lexical.New(cfg, cat, root)
	if err != nil {
		return err
	}
	defer lex.Close()

	log := slog.Default()
	var providers map[string]embed.Provider
	var vectors map[string]*vector.Index
	if !sopts.noVector {
		providers, err = embed.Profiles(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			for _, p := range providers {
				_ = p.Close()
			}
		}()
		vectors = make(map[string]*vector.Index, len(providers))
		for profileID, provider := range providers {
			ix, err := vector.Rebuild(ctx, cat, profileID, provider.Dim())
			if err != nil {
				log.Warn("vector channel unavailable",
					slog.String("profile", profileID), slog.String("error", err.Error()))
				continue
			}
			vectors[profileID] = ix
		}
	}

	rec, err := analytics.Open(config.IndexDir(root), log)
	if err != nil {
		log.Warn("analytics disabled", slog.String("error", err.Error()))
	} else {
		defer rec.Close()
	}

	p := planner.New(root, cfg, cat, lex, graph.NewStore(root),
		providers, vectors, rec, log)
	res, err := p.Plan(ctx, query, sopts.contextRemaining)
	if err != nil {
		return err
	}
	out.Plan(res)
	return nil
}

package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/docgen"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/indexer"
	"github.com/llmc-dev/llmc/internal/output"
)

func newDocgenCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "docgen [path...]",
		Short: "Generate per-file docs, skipping unchanged sources",
		Long: `Generate one markdown doc per source file through the configured
backend. Docs embed the source hash; unchanged files are no-ops, so
repeated runs converge without extra model calls. Without paths every
indexed file is considered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocgen(cmd.Context(), opts.writer(cmd), opts.root(), args, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Run even when the index is not fresh")
	return cmd
}

func runDocgen(ctx context.Context, out *output.Writer, root string, paths []string, force bool) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if !cfg.Docgen.Enabled {
		return llmcerrors.Config("docgen is disabled in config", nil)
	}
	if cfg.Docgen.RequireFresh && !force {
		st, err := indexer.LoadStatus(root)
		if err != nil {
			return err
		}
		if st.IndexState != indexer.StateFresh {
			return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
				"index state is %s; run 'llmc index' first or pass --force", st.IndexState)
		}
	}

	if len(paths) == 0 {
		cat, err := openCatalog(root)
		if err != nil {
			return err
		}
		files, err := cat.ListFiles(ctx)
		cat.Close()
		if err != nil {
			return err
		}
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	}

	gen, err := docgen.NewGenerator(&cfg.Docgen)
	if err != nil {
		return err
	}
	coord := docgen.NewCoordinator(root, &cfg.Docgen, gen, slog.Default())
	results, err := coord.GenerateAll(ctx, paths)
	if err != nil {
		return err
	}

	if out.Emit(results) {
		return nil
	}
	var generated, noop, busy, failed int
	for _, r := range results {
		switch r.Status {
		case docgen.StatusGenerated:
			generated++
		case docgen.StatusNoop:
			noop++
		case docgen.StatusSkippedBusy:
			busy++
		case docgen.StatusFailed:
			failed++
			out.Warnf("%s: %s", r.SourcePath, r.Error)
		}
	}
	out.Successf("docgen: %d generated, %d unchanged, %d busy, %d failed",
		generated, noop, busy, failed)
	return nil
}

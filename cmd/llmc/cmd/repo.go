package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/graph"
	"github.com/llmc-dev/llmc/internal/indexer"
	"github.com/llmc-dev/llmc/internal/output"
	"github.com/llmc-dev/llmc/internal/service"
)

// registryPath is the daemon registry shared by repo and service commands.
func registryPath() string {
	return filepath.Join(service.DefaultStateDir(), "service.json")
}

func newRepoCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repos registered with the service",
	}
	cmd.AddCommand(newRepoRegisterCmd(opts))
	cmd.AddCommand(newRepoBootstrapCmd(opts))
	cmd.AddCommand(newRepoListCmd(opts))
	cmd.AddCommand(newRepoValidateCmd(opts))
	cmd.AddCommand(newRepoRmCmd(opts))
	cmd.AddCommand(newRepoCleanCmd(opts))
	return cmd
}

func newRepoRegisterCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register [path]",
		Short: "Register a repo for background maintenance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := opts.root()
			if len(args) == 1 {
				root = args[0]
			}
			reg, err := service.LoadRegistry(registryPath())
			if err != nil {
				return err
			}
			if err := reg.Register(root); err != nil {
				return err
			}
			abs, _ := filepath.Abs(root)
			opts.writer(cmd).Successf("registered %s", abs)
			return nil
		},
	}
}

func newRepoBootstrapCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap [path]",
		Short: "Initialize a repo and run the first index",
		Long: `Create the state directory with a default config, register the repo,
and run a full index so search works immediately.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := opts.root()
			if len(args) == 1 {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return llmcerrors.Path("cannot resolve repo path", args[0])
				}
				root = abs
			}
			return runBootstrap(cmd.Context(), opts.writer(cmd), root)
		},
	}
}

func runBootstrap(ctx context.Context, out *output.Writer, root string) error {
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return llmcerrors.Path("repo root is not a directory", root)
	}
	if _, err := os.Stat(config.Path(root)); os.IsNotExist(err) {
		if err := config.Save(root, config.Default()); err != nil {
			return err
		}
		out.Statusf("wrote %s", config.Path(root))
	}

	reg, err := service.LoadRegistry(registryPath())
	if err != nil {
		return err
	}
	if err := reg.Register(root); err != nil {
		// Already registered is fine for bootstrap.
		if _, ok := reg.Get(root); !ok {
			return err
		}
	}

	if err := runIndex(ctx, out, root, "", false); err != nil {
		return err
	}
	out.Successf("repo ready: %s", root)
	return nil
}

func newRepoListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered repos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := service.LoadRegistry(registryPath())
			if err != nil {
				return err
			}
			out := opts.writer(cmd)
			repos := reg.List()
			if out.Emit(repos) {
				return nil
			}
			if len(repos) == 0 {
				out.Statusf("no repos registered")
				return nil
			}
			for _, st := range repos {
				line := st.Root + "  " + st.Phase
				if st.LastError != "" {
					line += "  (" + st.LastError + ")"
				}
				out.Statusf("%s", line)
			}
			return nil
		},
	}
}

func newRepoValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a repo's config, catalog, and graph artifact",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := opts.root()
			if len(args) == 1 {
				root = args[0]
			}
			return runValidate(cmd.Context(), opts.writer(cmd), root)
		},
	}
}

func runValidate(ctx context.Context, out *output.Writer, root string) error {
	if _, err := config.Load(root); err != nil {
		return err
	}
	out.Successf("config valid")

	cat, err := openCatalog(root)
	if err != nil {
		return err
	}
	defer cat.Close()
	stats, err := cat.Stats(ctx)
	if err != nil {
		return err
	}
	out.Successf("catalog: %d files, %d spans, %d enriched, %d embeddings",
		stats.Files, stats.Spans, stats.EnrichedReal, stats.Embeddings)

	st, err := indexer.LoadStatus(root)
	if err != nil {
		return err
	}
	out.KV("index state", st.IndexState)

	linkHash, err := cat.SpanLinkHash(ctx)
	if err != nil {
		return err
	}
	store := graph.NewStore(root)
	if _, err := store.Load(linkHash); err != nil {
		out.Warnf("graph artifact: %s", err.Error())
		return nil
	}
	if store.Stats().Stale {
		out.Warnf("graph artifact is stale")
	} else {
		out.Successf("graph artifact valid")
	}
	return nil
}

func newRepoRmCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Unregister a repo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := service.LoadRegistry(registryPath())
			if err != nil {
				return err
			}
			abs, _ := filepath.Abs(args[0])
			if err := reg.Unregister(abs); err != nil {
				return err
			}
			opts.writer(cmd).Successf("unregistered %s", abs)
			return nil
		},
	}
}

func newRepoCleanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean [path]",
		Short: "Delete derived state (index, graph, status), keep the config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := opts.root()
			if len(args) == 1 {
				root = args[0]
			}
			out := opts.writer(cmd)
			for _, p := range []string{
				config.IndexDir(root),
				graph.NewStore(root).ArtifactPath(),
				indexer.StatusPath(root),
			} {
				if err := os.RemoveAll(p); err != nil {
					return llmcerrors.Path("cannot remove state", p)
				}
			}
			out.Successf("cleaned derived state under %s", config.StateDir(root))
			return nil
		},
	}
}

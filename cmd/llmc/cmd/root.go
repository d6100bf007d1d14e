// Package cmd provides the llmc CLI commands.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/logging"
	"github.com/llmc-dev/llmc/internal/output"
	"github.com/llmc-dev/llmc/pkg/version"
)

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	repo     string
	jsonMode bool
	noColor  bool
	debug    bool

	logCleanup func()
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "llmc",
		Short: "Local retrieval engine for coding agents",
		Long: `llmc indexes a repository into code spans, enriches them with local
models, builds a dependency graph, and answers agent queries with
intent-routed hybrid retrieval. A background service keeps registered
repos current as files change.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogging()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logCleanup != nil {
				opts.logCleanup()
			}
		},
	}
	cmd.SetVersionTemplate("llmc version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.repo, "repo", "C", "",
		"Repo root (default: nearest .llmc or .git upward from cwd)")
	cmd.PersistentFlags().BoolVar(&opts.jsonMode, "json", false, "Emit JSON output")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable styled output")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to stderr")

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newEnrichCmd(opts))
	cmd.AddCommand(newGraphCmd(opts))
	cmd.AddCommand(newDocgenCmd(opts))
	cmd.AddCommand(newRepoCmd(opts))
	cmd.AddCommand(newServiceCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// root resolves the target repo root.
func (o *rootOptions) root() string {
	if o.repo != "" {
		abs, err := filepath.Abs(o.repo)
		if err == nil {
			return abs
		}
		return o.repo
	}
	return config.FindRoot(".")
}

// writer builds the output writer for a command's stdout.
func (o *rootOptions) writer(cmd *cobra.Command) *output.Writer {
	var w []output.Option
	if o.jsonMode {
		w = append(w, output.WithJSON())
	}
	if o.noColor {
		w = append(w, output.WithColor(false))
	}
	return output.New(cmd.OutOrStdout(), w...)
}

func (o *rootOptions) setupLogging() error {
	root := o.root()
	// Without a state dir logs go to stderr at warn, so running llmc in
	// an arbitrary directory stays quiet and leaves no files behind.
	cfg := logging.Config{Level: "warn"}
	if fi, err := os.Stat(config.StateDir(root)); err == nil && fi.IsDir() {
		cfg.Level = "info"
		cfg.FilePath = filepath.Join(config.StateDir(root), "logs", "llmc.jsonl")
		cfg.MaxSizeMB = 10
		cfg.MaxFiles = 5
	}
	if o.debug {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// Logging must never block the command itself (read-only mounts).
		logger, cleanup, err = logging.Setup(logging.Config{Level: cfg.Level})
		if err != nil {
			return err
		}
	}
	slog.SetDefault(logger)
	o.logCleanup = cleanup
	return nil
}

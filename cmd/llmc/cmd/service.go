package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/llmc-dev/llmc/internal/enrich"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/output"
	"github.com/llmc-dev/llmc/internal/service"
)

func newServiceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run and control the background daemon",
	}
	cmd.AddCommand(newServiceStartCmd(opts))
	cmd.AddCommand(newServiceStopCmd(opts))
	cmd.AddCommand(newServiceStatusCmd(opts))
	return cmd
}

func newServiceStartCmd(opts *rootOptions) *cobra.Command {
	var workers int
	var mode string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		Long: `Watch every registered repo and keep its index, enrichments,
embeddings, graph, and docs current. Runs until SIGINT/SIGTERM or a
'llmc service stop'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "" {
				if mode != "event" && mode != "poll" {
					return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
						"unknown watch mode %q (want event or poll)", mode)
				}
				os.Setenv("LLMC_DAEMON_MODE", mode)
			}
			return runServiceStart(cmd.Context(), opts.writer(cmd), workers)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker pool size (0 = NumCPU)")
	cmd.Flags().StringVar(&mode, "mode", "", "Watch mode override: event or poll")
	return cmd
}

func runServiceStart(parent context.Context, out *output.Writer, workers int) error {
	reg, err := service.LoadRegistry(registryPath())
	if err != nil {
		return err
	}
	if len(reg.List()) == 0 {
		return llmcerrors.Config("no repos registered; run 'llmc repo register' first", nil)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := slog.Default()
	daemon := service.NewDaemon(reg, workers, enrichRepo, log)
	control := service.NewControlServer(reg, cancel, log)
	sock := service.SocketPath(service.DefaultStateDir())

	out.Statusf("llmc service running, pid %d", os.Getpid())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return control.Serve(ctx, sock) })
	g.Go(func() error { return daemon.Run(ctx) })
	err = g.Wait()
	if err != nil && llmcerrors.KindOf(err) == llmcerrors.KindCancelled {
		err = nil
	}
	return err
}

// enrichRepo is the daemon's enrichment entrypoint for one repo.
func enrichRepo(ctx context.Context, h *service.RepoHandle, limit int) error {
	tracker := enrich.NewFailureTracker(
		time.Duration(h.Cfg.Enrichment.CooldownSeconds)*time.Second,
		h.Cfg.Enrichment.MaxFailures)
	pipeline := enrich.NewPipeline(h.Cat, &h.Cfg.Enrichment, tracker, slog.Default())
	_, err := pipeline.ProcessBatch(ctx, limit)
	return err
}

func newServiceStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := service.Call(
				service.SocketPath(service.DefaultStateDir()),
				service.ControlRequest{Op: "stop"})
			if err != nil {
				return err
			}
			if !resp.OK {
				return llmcerrors.Newf(llmcerrors.CodeFatal, "daemon refused stop: %s", resp.Error)
			}
			opts.writer(cmd).Successf("daemon stopping")
			return nil
		},
	}
}

func newServiceStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and repo phases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.writer(cmd)
			resp, err := service.Call(
				service.SocketPath(service.DefaultStateDir()),
				service.ControlRequest{Op: "status"})
			if err != nil {
				return err
			}
			if out.Emit(resp) {
				return nil
			}
			out.Headerf("llmc service")
			out.KV("pid", itoaPID(resp.PID))
			out.KV("uptime", resp.Uptime)
			for _, st := range resp.Repos {
				line := st.Phase
				if st.LastError != "" {
					line += "  (" + st.LastError + ")"
				}
				out.KV(st.Root, line)
			}
			return nil
		},
	}
}

func itoaPID(pid int) string {
	if pid == 0 {
		return "unknown"
	}
	return strconv.Itoa(pid)
}

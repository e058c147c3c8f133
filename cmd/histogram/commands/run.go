package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/histogram/internal/config"
	"github.com/Sumatoshi-tech/histogram/internal/render"
	"github.com/Sumatoshi-tech/histogram/internal/source"
	"github.com/Sumatoshi-tech/histogram/pkg/observability"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
	"github.com/Sumatoshi-tech/histogram/pkg/version"
)

// RunCommand holds configuration for the run command.
type RunCommand struct {
	flags panelFlags

	format     string
	output     string
	stack      bool
	percentage bool
	refresh    time.Duration
	listen     string
	silent     bool
	noColor    bool

	now func() time.Time
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	rc := &RunCommand{now: time.Now}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Aggregate segments into a histogram and render it",
		Long: `Aggregate every planned segment, newest first, and render the result.

Progress is printed to stderr after each merged segment. With --refresh the
command keeps running: each tick starts a new session that supersedes the
previous one, and an HTTP server exposes the latest chart at /, metrics at
/metrics and health checks at /healthz and /readyz.`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	rc.flags.register(cmd)

	cmd.Flags().StringVarP(&rc.format, "format", "f", "", "Output format: html, table")
	cmd.Flags().StringVarP(&rc.output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&rc.stack, "stack", false, "Stack series")
	cmd.Flags().BoolVar(&rc.percentage, "percentage", false, "Show each series as a share of the bucket total (implies --stack)")
	cmd.Flags().DurationVar(&rc.refresh, "refresh", 0, "Re-run on this interval and serve the latest chart (0 = run once)")
	cmd.Flags().StringVar(&rc.listen, "listen", "", "Watch-mode HTTP address (default from observability.metrics_addr)")
	cmd.Flags().BoolVar(&rc.silent, "silent", false, "Disable progress output")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func (rc *RunCommand) overrides(cmd *cobra.Command) map[string]any {
	out := rc.flags.overrides(cmd)

	if cmd.Flags().Changed("format") {
		out["render.format"] = rc.format
	}

	if cmd.Flags().Changed("output") {
		out["render.output"] = rc.output
	}

	if cmd.Flags().Changed("stack") {
		out["panel.stack"] = rc.stack
	}

	if cmd.Flags().Changed("percentage") {
		out["panel.percentage"] = rc.percentage
		if rc.percentage {
			out["panel.stack"] = true
		}
	}

	if cmd.Flags().Changed("listen") {
		out["observability.metrics_addr"] = rc.listen
	}

	return out
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(rc.flags.configPath, rc.overrides(cmd))
	if err != nil {
		return err
	}

	if rc.noColor {
		color.NoColor = true
	}

	mode := observability.ModeCLI
	if rc.refresh > 0 {
		mode = observability.ModeWatch
	}

	telemetry, err := cfg.Telemetry(mode, version.Version)
	if err != nil {
		return err
	}

	providers, err := observability.Init(telemetry)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	metrics, err := observability.NewFetchMetrics(providers.Meter)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := source.ParseBackend(cfg.Source.Backend)
	if err != nil {
		return err
	}

	store, err := source.OpenStore(ctx, backend, cfg.Source.Path, source.Options{
		MaxRows: cfg.Panel.MaxRows,
		Logger:  providers.Logger,
	}, cfg.Source.CacheRecords)
	if err != nil {
		return err
	}

	defer store.Close()

	format, opts, err := cfg.RenderOptions()
	if err != nil {
		return err
	}

	latest := &render.Latest{}
	sinks := render.Tee{latest}

	if !rc.silent {
		sinks = append(sinks, render.NewProgress(cmd.ErrOrStderr()))
	}

	if rc.refresh > 0 && cfg.Render.Output != "" {
		sinks = append(sinks, &fileSink{path: cfg.Render.Output, format: format, opts: opts, logger: providers.Logger})
	}

	r := newRunner(cfg, store, sinks, providers.Logger, metrics)
	r.now = rc.now
	r.zoom = rc.flags.zoom

	if rc.refresh > 0 {
		return rc.watch(ctx, r, latest, providers, opts)
	}

	n, runErr := r.once(ctx)
	if n.Generation == 0 {
		return runErr
	}

	providers.Logger.DebugContext(ctx, "run: cache", "hit_rate", store.Stats().HitRate())

	return errors.Join(runErr, writeOutput(cmd.OutOrStdout(), cfg.Render.Output, format, n, opts))
}

// writeOutput renders n to path, or to stdout when path is empty.
func writeOutput(stdout io.Writer, path string, format render.Format, n segment.Notification, opts render.Options) error {
	if path == "" {
		return render.Write(stdout, format, n, opts)
	}

	return writeFileAtomic(path, func(w io.Writer) error {
		return render.Write(w, format, n, opts)
	})
}

// writeFileAtomic writes through a temporary file in the target directory and
// renames it into place, so readers never see a partial file.
func writeFileAtomic(path string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	defer os.Remove(tmp.Name())

	err = write(tmp)
	if err != nil {
		tmp.Close()

		return err
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close output: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return fmt.Errorf("replace output: %w", err)
	}

	return nil
}

// fileSink rewrites the output file whenever a session finishes.
type fileSink struct {
	path   string
	format render.Format
	opts   render.Options
	logger *slog.Logger
}

// Render implements segment.Sink.
func (s *fileSink) Render(n segment.Notification) {
	if !n.State.Terminal() {
		return
	}

	err := writeOutput(nil, s.path, s.format, n, s.opts)
	if err != nil {
		s.logger.Warn("run: write output failed", "path", s.path, "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"claimer/internal/browser"
	"claimer/internal/metrics"
	"claimer/internal/orchestrator"
	"claimer/internal/workflow"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	count       int
	headless    bool
	debug       bool
	dryRun      bool
	startAt     string
	metricsAddr string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "claimer",
		Short: "Claim promotional credits through the checkout flow, in parallel browser sessions",
		Long: `claimer opens the usage page in isolated browser sessions, logs in when redirected,
starts a purchase, applies the promotion code, fills the billing fields and submits the
order. Every session runs the whole flow once; the final line reports how many succeeded.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	flags.IntVar(&opts.count, "count", 0, "Number of runs (prompted for when omitted)")
	flags.BoolVar(&opts.headless, "headless", false, "Run browsers without a visible window (overrides config)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable detailed debug logging")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Test mode: stop before submitting the order")
	flags.StringVar(&opts.startAt, "start-at", "", "Wait until this UTC time before starting (e.g. 2025-01-15 16:00)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9090)")

	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	out := cmd.OutOrStdout()

	if err := InitLocale(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: locale initialization failed, using built-in English: %v\n", err)
	}

	config, err := LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("headless") {
		config.Headless = opts.headless
	}
	if opts.debug {
		config.DebugMode = true
	}
	if opts.dryRun {
		config.DryRun = true
	}

	logOpts := DefaultLoggerOptions()
	logOpts.Output = cmd.ErrOrStderr()
	if config.DebugMode {
		logOpts.Level = "debug"
	}
	logger := NewLogger(logOpts)

	wc, err := config.Workflow()
	if err != nil {
		return err
	}
	if wc.Credential.Identifier == "" || wc.Credential.Secret == "" {
		logger.Warn("no credential configured, runs redirected to login will fail",
			"env", envIdentifier+", "+envSecret)
	}

	count := resolveRunCount(cmd, opts, config)
	printBanner(out, config, count)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.startAt != "" {
		at, err := ParseStartTime(opts.startAt)
		if err != nil {
			return err
		}
		clock := NewTimeSync(config.UsageURL, logger.WithPrefix("timesync"))
		if err := clock.Sync(ctx); err != nil {
			logger.Warn("using the local clock", "err", err)
		} else {
			logger.Info("clock synchronized", "offset", clock.Offset().Round(time.Millisecond))
		}
		if err := waitUntil(ctx, at, out, clock.Now); err != nil {
			return fmt.Errorf("interrupted while waiting for start time: %w", err)
		}
	}

	recorder := metrics.NewRecorder()
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, recorder, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	launcher := browser.NewRodLauncher(logger.WithPrefix("browser"))
	runOne := func(ctx context.Context, worker int) workflow.Result {
		workerLog := logger.WithPrefix(fmt.Sprintf("worker %d", worker))
		return workflow.New(wc, launcher, workflow.WithLogger(workerLog)).Run(ctx)
	}

	orch := orchestrator.New(runOne,
		orchestrator.WithMaxParallel(config.MaxParallel),
		orchestrator.WithPreflight(func(ctx context.Context) error {
			return launcher.Preflight(ctx, wc.Browser)
		}),
		orchestrator.WithObserver(recorder),
		orchestrator.WithProgress(progressPrinter(out, count)),
		orchestrator.WithLogger(logger),
	)

	summary, err := orch.Run(ctx, count)
	if err != nil {
		return err
	}
	printSummary(out, summary)
	return nil
}

// resolveRunCount prefers --count, then asks on a terminal, then falls back to the
// config file.
func resolveRunCount(cmd *cobra.Command, opts *options, config *Config) int {
	if cmd.Flags().Changed("count") && opts.count > 0 {
		return opts.count
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return promptRunCount(f, cmd.OutOrStdout())
	}
	if config.RunCount > 0 {
		return config.RunCount
	}
	return 1
}

func serveMetrics(addr string, recorder *metrics.Recorder, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

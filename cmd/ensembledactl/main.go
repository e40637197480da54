package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"ensembleda/internal/storage"
	api "ensembleda/pkg/ensembleda"
)

type globalOptions struct {
	store        string
	dbPath       string
	artifactsDir string
	exportsDir   string
	logLevel     string
	logFormat    string
	metricsAddr  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	root := newRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "ensembledactl",
		Short:         "Search ensemble configurations with an estimation-of-distribution dependency network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.store, "store", storage.DefaultStoreKind(), "store backend: memory|sqlite|badger")
	flags.StringVar(&opts.dbPath, "db-path", "", "sqlite database file or badger directory")
	flags.StringVar(&opts.artifactsDir, "artifacts-dir", "ensembleda_data", "directory for run artifacts")
	flags.StringVar(&opts.exportsDir, "exports-dir", "exports", "directory for exported runs")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	flags.StringVar(&opts.logFormat, "log-format", "auto", "log format: auto|text|json")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")

	root.AddCommand(
		newRunCommand(opts),
		newBatchCommand(opts),
		newRunsCommand(opts),
		newDiagnosticsCommand(opts),
		newStructureCommand(opts),
		newBestCommand(opts),
		newExportCommand(opts),
		newModelCommand(opts),
		newAggregatorsCommand(opts),
	)
	return root
}

// newLogger writes text to terminals and JSON elsewhere unless format forces
// one of them.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "", "auto":
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
		}
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// newClient opens the client described by the global flags. The returned
// cleanup closes the store and stops the metrics server.
func newClient(cmd *cobra.Command, opts *globalOptions) (*api.Client, func(), error) {
	logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
	if err != nil {
		return nil, nil, err
	}
	client, err := api.New(api.Options{
		StoreKind:    opts.store,
		DBPath:       opts.dbPath,
		ArtifactsDir: opts.artifactsDir,
		ExportsDir:   opts.exportsDir,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := client.Init(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	stopMetrics := serveMetrics(opts.metricsAddr, logger)
	cleanup := func() {
		stopMetrics()
		if err := client.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}
	return client, cleanup, nil
}

func serveMetrics(addr string, logger *slog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

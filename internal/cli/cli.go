// Package cli implements the opendata-ingest command-line interface.
package cli

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eunmann/opendata-ingest/internal/config"
	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/logging"
	"github.com/eunmann/opendata-ingest/pkg/metrics"
	"github.com/eunmann/opendata-ingest/pkg/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Run executes the CLI with the given arguments until it finishes or the
// process is interrupted.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// app is the state shared by every subcommand.
type app struct {
	cfg    config.Config
	stdout io.Writer

	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// NewRootCommand returns the root command writing results to stdout and
// usage to stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{cfg: config.DefaultConfig(time.Now()), stdout: stdout}

	rc := &cobra.Command{
		Use:   "opendata-ingest",
		Short: "Mirror public open-data APIs into a relational store.",
		Long: `opendata-ingest fetches the national budget expenditure and welfare
service catalog APIs, caches the raw records as snapshots, and materializes
derived tables into SQLite or Postgres.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			logging.Init(a.cfg.Log.Debug, a.cfg.Log.Human)
			logctx.SetDefaultLogger(logctx.NewConfiguredLogger(a.cfg.Log.Debug, a.cfg.Log.Human))
			return a.cfg.Validate()
		},
	}
	config.Flags(rc.PersistentFlags(), &a.cfg)

	rc.AddCommand(newSyncCommand(a))
	rc.AddCommand(newQueryCommand(a))
	rc.AddCommand(newExportCommand(a))
	rc.AddCommand(newCacheCommand(a))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// deps returns the pipeline dependencies, creating the metrics registry on
// first use.
func (a *app) deps() pipeline.Deps {
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.New(a.registry)
	}
	return pipeline.Deps{Metrics: a.metrics}
}

// open builds the pipeline and starts the metrics listener when configured.
// The returned close function releases both.
func (a *app) open(ctx context.Context) (*pipeline.Pipeline, func(), error) {
	p, err := pipeline.Build(ctx, a.cfg, a.deps())
	if err != nil {
		return nil, nil, err
	}
	stopMetrics, err := a.serveMetrics(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return p, func() {
		stopMetrics()
		if err := p.Close(); err != nil {
			log := logctx.FromContext(ctx)
			log.Warn().Err(err).Msg("close pipeline")
		}
	}, nil
}

func (a *app) serveMetrics(ctx context.Context) (func(), error) {
	if a.cfg.MetricsAddr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	log := logctx.FromContext(ctx)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

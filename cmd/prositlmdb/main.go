package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/prositlmdb/pkg/config"
	"github.com/ajitpratap0/prositlmdb/pkg/logger"
	"github.com/ajitpratap0/prositlmdb/pkg/metrics"
	"github.com/ajitpratap0/prositlmdb/pkg/observability"
)

var version = "0.1.0"

// app holds what every command shares once flags are parsed.
type app struct {
	configFile string
	logLevel   string

	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Collector
	closers []func(context.Context) error
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := &cobra.Command{
		Use:   "prositlmdb",
		Short: "Convert Prosit prediction datasets into record stores",
		Long: `prositlmdb streams Prosit fragmentation prediction datasets (Arrow IPC or Parquet)
batch by batch into key-value record stores, one record per example, and joins
model predictions back into the columnar format.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup() },
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// version needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("prositlmdb v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(
		newConvertCmd(a),
		newConvertFileCmd(a),
		newExportCmd(a),
		newInspectCmd(a),
		newConfigCmd(a),
	)

	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}); err != nil {
		return err
	}
	a.log = logger.Get().With(zap.String("component", "prositlmdb-cli"))

	if cfg.Metrics.Enabled {
		if err := a.serveMetrics(cfg.Metrics.Address); err != nil {
			return err
		}
	}

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    "prositlmdb",
			ServiceVersion: version,
			Environment:    "cli",
			SamplingRate:   cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}
	return nil
}

func (a *app) serveMetrics(addr string) error {
	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.metrics = collector

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("address", addr))
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.log != nil {
			a.log.Warn("shutdown failed", zap.Error(err))
		}
	}
	_ = logger.Sync()
}

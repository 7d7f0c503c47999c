// Command worker consumes classification jobs from the work queue.
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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/imgclassify/internal/bootstrap"
	"github.com/example/imgclassify/internal/config"
	"github.com/example/imgclassify/internal/logging"
	"github.com/example/imgclassify/internal/metrics"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		workers     int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:           "worker",
		Short:         "Run the inference worker loop",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 1, "concurrent worker loops, overrides WORKERS")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "prometheus listen address, empty disables, overrides METRICS_ADDR")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := bootstrap.CheckStandaloneWorker(cfg); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	policy := bootstrap.Policy(cfg, logger)
	stores, err := bootstrap.OpenStores(ctx, cfg, policy, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer stores.Close() //nolint:errcheck

	model, closeModel, err := bootstrap.OpenModel(ctx, cfg, policy, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer closeModel() //nolint:errcheck

	workerMetrics := metrics.NewWorker()
	w := bootstrap.NewWorker(cfg, stores, model, workerMetrics, logger)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: workerMetrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	logger.Info("worker started", zap.Int("loops", cfg.Workers), zap.String("queue", cfg.QueueName))
	if err := w.RunPool(ctx, cfg.Workers); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		return err
	}
	logger.Info("worker stopped")
	return nil
}

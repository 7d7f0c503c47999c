// Command api accepts image uploads, queues them for classification and serves
// the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/imgclassify/internal/auth"
	"github.com/example/imgclassify/internal/bootstrap"
	"github.com/example/imgclassify/internal/config"
	"github.com/example/imgclassify/internal/handlers"
	"github.com/example/imgclassify/internal/logging"
	"github.com/example/imgclassify/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:           "api",
		Short:         "Serve the image classification HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides HTTP_ADDR")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	stores, err := bootstrap.OpenStores(ctx, cfg, bootstrap.Policy(cfg, logger), logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer stores.Close() //nolint:errcheck

	if bootstrap.EmbedsWorkers(cfg) {
		model, closeModel, err := bootstrap.OpenModel(ctx, cfg, bootstrap.Policy(cfg, logger), logger)
		if err != nil {
			logger.Error("startup failed", zap.Error(err))
			return err
		}
		defer closeModel() //nolint:errcheck
		stopWorkers := bootstrap.StartEmbeddedWorkers(ctx, cfg, stores, model, logger)
		defer stopWorkers() //nolint:errcheck
	}

	var repo usecase.MetricsRepository
	if stores.Repository != nil {
		repo = stores.Repository
	}
	uc := usecase.NewClassificationUseCase(stores.Content, stores.Queue, stores.Cache, repo, logger, usecase.Options{
		PollInterval:   cfg.PollInterval,
		DefaultTimeout: cfg.PredictTimeout,
	})

	authMiddleware := auth.JWTMiddleware(auth.Config{Secret: cfg.JWTSecret, Audience: cfg.JWTAudience})
	router := handlers.NewRouter(uc, authMiddleware, handlers.Options{PredictTimeout: cfg.PredictTimeout})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", zap.String("addr", cfg.HTTPAddr))
	return serveHTTPServer(server, shutdownTimeout, logger)
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

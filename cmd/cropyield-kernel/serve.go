package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/cropyield/pkg/kernel"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the forecast task API, worker pools and dispatch scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := serve(ctx, opts); err != nil {
				opts.logger.Error("kernel stopped with error", "error", err)
				return err
			}
			return nil
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	logger := opts.logger
	cfg := opts.cfg
	logger.Info("starting cropyield kernel", "store", cfg.Store.Driver, "addr", cfg.Server.Addr)

	a, err := newApp(ctx, logger, cfg)
	if err != nil {
		return err
	}

	api, err := kernel.NewServer(logger, a.tasks, a.events, kernel.Options{
		ValidateRequests: cfg.Server.ValidateRequests,
		Pools:            a.pools,
		Queue:            a.queue,
	})
	if err != nil {
		_ = a.shutdown(context.Background())
		return errors.Wrap(err, "failed to build api server")
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           c.Handler(api.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(api.CloseStreams)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "api server failed")
		}
		return nil
	})

	g.Go(func() error {
		return a.scheduler.Run(gCtx)
	})

	g.Go(func() error {
		return a.consumer.Run(gCtx)
	})

	// recovery publishes into the queue, so it runs beside the consumers
	g.Go(func() error {
		if _, err := a.scheduler.Recover(gCtx); err != nil {
			logger.Error("startup recovery failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// the cron and the consumers have returned; each pool bounds its own wait
	if err := a.shutdown(context.Background()); err != nil {
		runErr = errors.CombineErrors(runErr, err)
	}
	logger.Info("kernel stopped")
	return runErr
}

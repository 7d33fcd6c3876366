package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"codeberg.org/lexicore/cohortsync/pkg/api"
	"codeberg.org/lexicore/cohortsync/pkg/controller"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled passes and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			logger := a.logger

			mgr := controller.NewManager(a.reconciler, a.store, a.cfg.Schedule, logger)

			mux := http.NewServeMux()
			api.SetupRoutes(mux, mgr, a.cfg.Server.HealthCheck, logger)

			srv := &http.Server{
				Addr:         a.cfg.Server.Address,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("Starting HTTP server", zap.String("addr", a.cfg.Server.Address))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
					stop()
				}
			}()

			mgr.Start(ctx)
			logger.Info("Shutting down...")

			sCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(sCtx); err != nil {
				logger.Error("Server shutdown failed", zap.Error(err))
			}

			logger.Info("Shutdown complete")
			select {
			case err := <-serveErr:
				return err
			default:
				return nil
			}
		},
	}
}

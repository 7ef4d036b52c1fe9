package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/internal/app"
	"github.com/d60-Lab/casa-followups/pkg/database"
	"github.com/d60-Lab/casa-followups/pkg/logger"
	"github.com/d60-Lab/casa-followups/pkg/tracer"
)

var (
	serveWithRelay bool
	serveMigrate   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTracer, err := tracer.Init(ctx, cfg.App.Name, version, cfg.Tracing)
		if err != nil {
			return err
		}
		defer func() { _ = shutdownTracer(context.Background()) }()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if serveMigrate {
			if err := database.AutoMigrate(a.DB); err != nil {
				return err
			}
		}

		stopBackground := a.StartBackground(ctx, serveWithRelay)

		gin.SetMode(cfg.Server.Mode)
		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      a.Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("notify_mode", cfg.Notify.Mode))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
		if err := stopBackground(shutdownCtx); err != nil {
			logger.Warn("background workers did not stop in time", zap.Error(err))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithRelay, "relay", true, "Run the outbox relay in this process (outbox mode)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Run AutoMigrate before serving")
}

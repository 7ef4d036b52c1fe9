package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/internal/app"
	"github.com/d60-Lab/casa-followups/pkg/logger"
)

var relayOnce bool

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Deliver queued notifications from the outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		relay := a.NewRelay()

		if relayOnce {
			stats, err := relay.ProcessOnce(ctx)
			if err != nil {
				return err
			}
			logger.Info("relay pass done",
				zap.Int("claimed", stats.Claimed),
				zap.Int("delivered", stats.Delivered),
				zap.Int("retried", stats.Retried),
				zap.Int("failed", stats.Failed),
				zap.Int64("released", stats.Released),
			)
			return nil
		}

		logger.Info("relay started", zap.Int("workers", cfg.Relay.Workers), zap.Duration("poll_interval", cfg.Relay.PollInterval))
		stopRelay := relay.Start(ctx)
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return stopRelay(stopCtx)
	},
}

func init() {
	relayCmd.Flags().BoolVar(&relayOnce, "once", false, "Process one batch and exit")
}

package main

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/d60-Lab/casa-followups/config"
	"github.com/d60-Lab/casa-followups/pkg/logger"
)

var version = "dev"

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "followupd",
	Short: "CASA followup workflow service",
	Long: `followupd records followups raised on case contacts, resolves them and
notifies the interested volunteers, supervisors and admins.

Examples:
  followupd migrate              # create or update tables
  followupd serve                # HTTP API plus in-process outbox relay
  followupd serve --relay=false  # HTTP API only
  followupd relay                # outbox relay only
  followupd token --user u1      # mint a development access token`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFrom(configFile)
		if err != nil {
			return err
		}
		if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return initSentry(cfg)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		sentry.Flush(2 * time.Second)
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default ./config.yaml if present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initSentry(cfg *config.Config) error {
	if cfg.Sentry.DSN == "" {
		return nil
	}
	env := cfg.Sentry.Environment
	if env == "" {
		env = cfg.App.Env
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: env,
		Release:     cfg.App.Name + "@" + version,
		SampleRate:  cfg.Sentry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	return nil
}

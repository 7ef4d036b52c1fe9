package main

import (
	"github.com/spf13/cobra"

	"github.com/d60-Lab/casa-followups/pkg/database"
	"github.com/d60-Lab/casa-followups/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.InitDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
		logger.Info("migration complete")
		return nil
	},
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/casa-followups/internal/api/middleware"
)

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token signed with jwt.secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.IsProduction() {
			return fmt.Errorf("token minting is disabled in production")
		}
		token, err := middleware.GenerateToken(cfg.JWT.Secret, cfg.JWT.Issuer, tokenUser, tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User id placed in the sub claim")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "volunteer", "Role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}

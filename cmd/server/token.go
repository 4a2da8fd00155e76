package main

import (
	"errors"
	"fmt"
	"time"

	"wssimple/internal/config"
	"wssimple/internal/usecase"
	"wssimple/pkg/jwt"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		envFile  string
		userId   string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a WebSocket client",
		Long: `Issue an HS256 access token signed with JWT_SECRET.

Examples:
  wssimple token --user 42
  wssimple token --user 42 --username alice --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if ttl <= 0 {
				ttl = cfg.JWTTTL
			}

			auth := usecase.NewAuthUsecase(jwt.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, ttl), "")
			token, err := auth.IssueAccessToken(userId, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to an env file (default .env when present)")
	cmd.Flags().StringVarP(&userId, "user", "u", "", "User id to embed in the token")
	cmd.Flags().StringVar(&username, "username", "", "Optional display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default JWT_TTL)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Hash an admin API key for ADMIN_API_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := usecase.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

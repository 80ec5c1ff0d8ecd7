package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/pledgehub/pledgehub/internal/auth"
	"github.com/pledgehub/pledgehub/internal/config"
	"github.com/spf13/cobra"
)

var (
	tokenEmail string
	tokenName  string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Sign a development token with JWT_SECRET",
	Long: `Sign a token the API accepts, for local development against a
stand-in identity provider.

Examples:
  pledgehub token dev-user --email dev@example.com --name "Dev User"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}

		token, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer).Issue(args[0], tokenEmail, tokenName, tokenTTL)
		if err != nil {
			return err
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "name claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

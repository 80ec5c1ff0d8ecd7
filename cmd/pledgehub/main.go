package main

import (
	"fmt"
	"os"

	"github.com/pledgehub/pledgehub/db"
	"github.com/pledgehub/pledgehub/internal/config"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "pledgehub",
		Short:         "PledgeHub - crowdfunding API and Stripe reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDatabase loads configuration and connects to the configured database.
func openDatabase() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	gdb, err := db.ConnectDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	return cfg, gdb, nil
}

func closeDatabase(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}
}

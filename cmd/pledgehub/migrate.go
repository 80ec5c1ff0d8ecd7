package main

import (
	"fmt"

	"github.com/pledgehub/pledgehub/db"
	"github.com/spf13/cobra"
)

var migrateSkipSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, gdb, err := openDatabase()
		if err != nil {
			return err
		}
		defer closeDatabase(gdb)

		if err := db.MigrateDatabase(gdb); err != nil {
			return err
		}

		if !migrateSkipSeed {
			if err := db.SeedCategories(gdb); err != nil {
				return fmt.Errorf("failed to seed categories: %w", err)
			}
		}

		fmt.Println("Database migrated")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSkipSeed, "skip-seed", false, "do not insert the default categories")
}

package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/pledgehub/pledgehub/internal/services"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [project-id]",
	Short: "Compare a project's cached totals with its contributions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := parseProjectID(args[0])
		if err != nil {
			return err
		}

		cfg, gdb, err := openDatabase()
		if err != nil {
			return err
		}
		defer closeDatabase(gdb)

		validation, err := services.NewStatsAggregator(gdb, cfg.StatsBatchSize).Validate(cmd.Context(), projectID)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(validation); err != nil {
			return err
		}

		if !validation.Consistent {
			return errors.New("cached totals have drifted, run recompute")
		}
		return nil
	},
}

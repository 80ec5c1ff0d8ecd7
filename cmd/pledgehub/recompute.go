package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/pledgehub/pledgehub/internal/services"
	"github.com/spf13/cobra"
)

var recomputeAll bool

var recomputeCmd = &cobra.Command{
	Use:   "recompute [project-id]",
	Short: "Rebuild cached project totals from succeeded contributions",
	Long: `Rebuild raised amount and supporter count from the contribution table.

Examples:
  pledgehub recompute 42
  pledgehub recompute --all`,
	Args: func(cmd *cobra.Command, args []string) error {
		if recomputeAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, gdb, err := openDatabase()
		if err != nil {
			return err
		}
		defer closeDatabase(gdb)

		stats := services.NewStatsAggregator(gdb, cfg.StatsBatchSize)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if recomputeAll {
			summary, err := stats.RecomputeAll(cmd.Context())
			if err != nil {
				return err
			}
			return enc.Encode(summary)
		}

		projectID, err := parseProjectID(args[0])
		if err != nil {
			return err
		}

		totals, err := stats.RecomputeProject(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		return enc.Encode(totals)
	},
}

func init() {
	recomputeCmd.Flags().BoolVar(&recomputeAll, "all", false, "recompute every live project")
}

func parseProjectID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid project id %q", raw)
	}
	return uint(id), nil
}

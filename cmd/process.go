package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processProjectID string

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Reprocess a single project from the CLI",
	Long:  "Requeues the project's documents and runs the full pipeline in the foreground: extract, consolidate, render and publish the workbook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Foreground worker: the run completes before Reprocess returns.
		env.Service.SetEnqueuer(func(runID string) {
			env.Service.ProcessRun(ctx, runID)
		})

		run, err := env.Service.Reprocess(ctx, processProjectID)
		if err != nil {
			return eris.Wrap(err, "reprocess")
		}

		final, err := env.Service.GetRunStatus(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "run status")
		}

		zap.L().Info("processing complete",
			zap.String("project_id", processProjectID),
			zap.Int("run_number", final.Number),
			zap.String("status", string(final.Status)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	},
}

func init() {
	processCmd.Flags().StringVar(&processProjectID, "project", "", "project ID (required)")
	_ = processCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(processCmd)
}

package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koa-group/doc-pipeline/internal/template"
)

var bootstrapForce bool

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Generate the label spec from the workbook template",
	Long:  "Scans the template's Geral and Projeto sheets for label/value pairs and caches the mapping next to the template. Run after editing the template.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if bootstrapForce {
			if err := os.Remove(cfg.Template.LabelSpecPath); err != nil && !os.IsNotExist(err) {
				return err
			}
		}

		spec, err := template.EnsureLabelSpec(cfg.Template.Path, cfg.Template.LabelSpecPath)
		if err != nil {
			return err
		}

		zap.L().Info("label spec ready",
			zap.String("path", cfg.Template.LabelSpecPath),
			zap.Int("labels", len(spec.Pairs)),
		)
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().BoolVar(&bootstrapForce, "force", false, "regenerate even if a cached spec exists")
	rootCmd.AddCommand(bootstrapCmd)
}

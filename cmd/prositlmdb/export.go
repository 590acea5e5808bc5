package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/prositlmdb/internal/export"
)

func newExportCmd(a *app) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "export <source> <results> <output>",
		Short: "Join model predictions back into the source dataset",
		Long: `Write every column of <source> plus intensities_pred from <results> to <output>.
<results> is JSON, optionally compressed (.gz, .zst, .lz4, .s2, .snappy, .br). The output
format follows its extension (.arrow or .parquet); an existing file is replaced.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := batchSizeFlag(cmd, batchSize, a.cfg.Conversion.BatchSize)
			if err != nil {
				return err
			}
			summary, err := export.New(size, a.log).Export(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			a.log.Info("export written",
				zap.String("path", summary.Output),
				zap.Int("rows", summary.Rows),
				zap.Duration("duration", summary.Duration))
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per batch window (default from config)")
	return cmd
}

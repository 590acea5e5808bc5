package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/prositlmdb/internal/driver"
	"github.com/ajitpratap0/prositlmdb/internal/pipeline"
	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/remote"
	"github.com/ajitpratap0/prositlmdb/pkg/store"
)

func newConvertCmd(a *app) *cobra.Command {
	var batchSize int
	var dataTypes, splits []string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert every configured data type and split",
		Long: `Convert every (data type, split) combination of the configured input root.
All inputs are checked before the first conversion starts.

Example:
  prositlmdb convert --config prositlmdb.yaml --data-types hcd --splits train,val`,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := batchSizeFlag(cmd, batchSize, a.cfg.Conversion.BatchSize)
			if err != nil {
				return err
			}
			a.cfg.Conversion.BatchSize = size
			if len(dataTypes) > 0 {
				a.cfg.Input.DataTypes = dataTypes
			}
			if len(splits) > 0 {
				a.cfg.Input.Splits = splits
			}

			d, err := driver.New(a.cfg, a.log, driver.WithMetrics(a.metrics))
			if err != nil {
				return err
			}
			defer d.Close()

			results, err := d.Run(cmd.Context())
			for _, r := range results {
				a.log.Info("store written",
					zap.String("path", r.Path),
					zap.Int("records", r.Records),
					zap.Duration("duration", r.Duration))
			}
			return err
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", pipeline.DefaultBatchSize, "Records loaded per batch window. Affects memory only")
	cmd.Flags().StringSliceVar(&dataTypes, "data-types", nil, "Data types to convert (default from config)")
	cmd.Flags().StringSliceVar(&splits, "splits", nil, "Splits to convert (default from config)")
	return cmd
}

func newConvertFileCmd(a *app) *cobra.Command {
	var batchSize int
	var dataType, split string

	cmd := &cobra.Command{
		Use:   "convert-file <input> <store-dir>",
		Short: "Convert one dataset file into one store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := batchSizeFlag(cmd, batchSize, a.cfg.Conversion.BatchSize)
			if err != nil {
				return err
			}

			fetcher := remote.NewFetcher(a.cfg.Input.CacheDir, a.log)
			defer fetcher.Close()
			input, err := fetcher.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			p := pipeline.New(pipeline.Config{
				BatchSize: size,
				DataType:  dataType,
				Split:     split,
				Store: store.Options{
					MaxSize: a.cfg.Output.MaxStoreSize,
					NoSync:  a.cfg.Output.NoSync,
				},
			}, a.log, pipeline.WithMetrics(a.metrics))

			result, err := p.ConvertFile(cmd.Context(), input, args[1])
			if err != nil {
				return err
			}
			a.log.Info("store written",
				zap.String("path", result.Path),
				zap.Int("records", result.Records),
				zap.Int("batches", result.Batches),
				zap.Duration("duration", result.Duration))
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records loaded per batch window (default from config)")
	cmd.Flags().StringVar(&dataType, "data-type", "", "Data type label for logs and metrics")
	cmd.Flags().StringVar(&split, "split", "", "Split label for logs and metrics")
	return cmd
}

// batchSizeFlag returns the --batch-size value when set on the command
// line and fallback otherwise. An explicit value must be positive.
func batchSizeFlag(cmd *cobra.Command, value, fallback int) (int, error) {
	if !cmd.Flags().Changed("batch-size") {
		return fallback, nil
	}
	if value <= 0 {
		return 0, errors.New(errors.ErrorTypeConfig, "--batch-size must be positive").
			WithDetail("batch_size", value)
	}
	return value, nil
}

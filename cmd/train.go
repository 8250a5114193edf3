package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metatrace/metascan/internal/trainer"
)

var (
	trainDataset string
	trainOut     string
	trainConfig  string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a tampering classifier from a labeled dataset",
	Long:  "Fits a random forest on a labeled CSV or XLSX dataset, prints the held-out evaluation report, and writes the model artifact.",
	RunE: func(cmd *cobra.Command, args []string) error {
		tcfg := trainer.DefaultConfig()
		if trainConfig != "" {
			var err error
			tcfg, err = trainer.LoadConfig(trainConfig)
			if err != nil {
				return err
			}
		}

		ds, err := trainer.LoadDataset(trainDataset)
		if err != nil {
			return err
		}
		zap.L().Info("dataset loaded",
			zap.String("path", trainDataset),
			zap.Int("rows", ds.Len()),
			zap.Int("features", len(ds.Features)),
		)

		train, test, err := trainer.StratifiedSplit(ds, tcfg.TestFraction, tcfg.Seed)
		if err != nil {
			return err
		}

		forest, err := trainer.Fit(cmd.Context(), train, tcfg)
		if err != nil {
			return err
		}

		metrics, err := trainer.Evaluate(forest, test)
		if err != nil {
			return err
		}
		fmt.Print(metrics.String())
		metrics.Log()

		if err := trainer.Save(forest, trainOut); err != nil {
			return err
		}
		zap.L().Info("model saved", zap.String("path", trainOut))
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainDataset, "dataset", "", "labeled dataset path (.csv or .xlsx)")
	trainCmd.Flags().StringVar(&trainOut, "out", "model.json", "output path for the model artifact")
	trainCmd.Flags().StringVar(&trainConfig, "config", "", "trainer config YAML (defaults used when omitted)")
	trainCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(trainCmd)
}

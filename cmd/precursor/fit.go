package main

import (
	"github.com/spf13/cobra"

	"precursor/internal/cases"
	"precursor/internal/errors"
)

var fitCasesFile string

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Train a new model version from historical cases",
	Long: `Collects each case's history up to its cutoff, extracts features, fits
the scaler and the clusterer, and saves the result as a new model version.

Control cases and cases whose history cannot be collected are skipped with
a reason. Records timestamped after a case's cutoff are always dropped.

Examples:
  precursor fit --cases cases.toml
  precursor fit --cases cases.toml --source git --signals clones/`,
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVar(&fitCasesFile, "cases", "", "Case dataset (.toml or .json)")
	rootCmd.AddCommand(fitCmd)
}

func runFit(cmd *cobra.Command, args []string) error {
	if fitCasesFile == "" {
		return errors.New(errors.ConfigInvalid, "--cases is required", nil)
	}
	cs, err := cases.Load(fitCasesFile)
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	a, err := newApp(ctx, cmd.Flags().Changed("verbose"), modeTrain)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.TrainFrom(ctx, a.source, cs)
	if err != nil {
		return err
	}
	return printResponse(cmd, res)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"precursor/internal/cases"
	"precursor/internal/errors"
	"precursor/internal/temporal"
)

var (
	cutoffCasesFile  string
	cutoffDisclosure string
	cutoffWriteValid string
)

var cutoffCmd = &cobra.Command{
	Use:   "cutoff",
	Short: "Show prediction cutoffs for disclosure dates",
	Long: `Computes the prediction cutoff and history window for each case.

The cutoff is the disclosure date minus temporal.predictionWindowDays; only
signals observed in [history start, cutoff] may be used to predict the case.
Cases with a missing or unparseable disclosure date are reported as invalid.

Examples:
  precursor cutoff --disclosure 2021-12-10
  precursor cutoff --cases cases.toml
  precursor cutoff --cases cases.toml --write-valid usable.toml`,
	RunE: runCutoff,
}

func init() {
	cutoffCmd.Flags().StringVar(&cutoffCasesFile, "cases", "", "Case dataset (.toml or .json)")
	cutoffCmd.Flags().StringVar(&cutoffDisclosure, "disclosure", "", "Single disclosure date (RFC 3339 or YYYY-MM-DD)")
	cutoffCmd.Flags().StringVar(&cutoffWriteValid, "write-valid", "", "Write the cases with valid splits to this TOML file")
	rootCmd.AddCommand(cutoffCmd)
}

// CutoffResponse lists the splits for a dataset.
type CutoffResponse struct {
	PredictionWindowDays int              `json:"prediction_window_days"`
	MinHistoryDays       int              `json:"min_history_days"`
	Splits               []temporal.Split `json:"splits"`
	Invalid              int              `json:"invalid"`
}

func runCutoff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateTemporal(); err != nil {
		return err
	}
	splitter, err := temporal.NewSplitter(cfg.Temporal.PredictionWindowDays, cfg.Temporal.MinHistoryDays)
	if err != nil {
		return err
	}

	var cs []cases.Case
	switch {
	case cutoffCasesFile != "":
		cs, err = cases.Load(cutoffCasesFile)
		if err != nil {
			return err
		}
	case cutoffDisclosure != "":
		cs = []cases.Case{{ID: "disclosure", Repository: "-", DisclosureDate: cutoffDisclosure}}
	default:
		return errors.New(errors.ConfigInvalid, "either --cases or --disclosure is required", nil)
	}

	resp := &CutoffResponse{
		PredictionWindowDays: splitter.PredictionWindowDays,
		MinHistoryDays:       splitter.MinHistoryDays,
		Splits:               make([]temporal.Split, 0, len(cs)),
	}
	valid := make([]cases.Case, 0, len(cs))
	for _, c := range cs {
		split := splitter.CreateValidationSplit(c)
		if split.Valid() {
			valid = append(valid, c)
		} else {
			resp.Invalid++
		}
		resp.Splits = append(resp.Splits, split)
	}

	if cutoffWriteValid != "" {
		if err := cases.Save(cutoffWriteValid, valid); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d cases to %s\n", len(valid), cutoffWriteValid)
	}
	return printResponse(cmd, resp)
}

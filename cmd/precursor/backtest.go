package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"precursor/internal/cases"
	"precursor/internal/cluster"
	"precursor/internal/errors"
	"precursor/internal/feedback"
	"precursor/internal/temporal"
	"precursor/internal/validation"
)

var (
	backtestCasesFile string
	backtestApply     bool
	backtestMissed    string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay predictions for historical cases at their cutoffs",
	Long: `Scores every case as of its cutoff, compares the prediction with what
was actually disclosed, and reports precision, recall, F1 and lead time.

When the metrics miss the feedback floors a retraining signal is recorded.
With --apply the signal is applied immediately: missed cases are added to
the corpus, the clusterer is refit and a new model version is saved. The
model that was back-tested is never modified.

Examples:
  precursor backtest --cases cases.toml
  precursor backtest --cases cases.toml --apply --format json
  precursor backtest --cases cases.toml --missed missed.toml`,
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&backtestCasesFile, "cases", "", "Case dataset (.toml or .json)")
	backtestCmd.Flags().BoolVar(&backtestApply, "apply", false, "Apply the retraining signal and save the new model")
	backtestCmd.Flags().StringVar(&backtestMissed, "missed", "", "Write missed cases to this TOML file")
	rootCmd.AddCommand(backtestCmd)
}

// BacktestResponse is the output of the backtest command.
type BacktestResponse struct {
	RunID     string                     `json:"run_id,omitempty"`
	Report    *validation.Report         `json:"report"`
	Signal    *feedback.RetrainingSignal `json:"signal,omitempty"`
	Published string                     `json:"published,omitempty"`
}

func runBacktest(cmd *cobra.Command, args []string) error {
	if backtestCasesFile == "" {
		return errors.New(errors.ConfigInvalid, "--cases is required", nil)
	}
	cs, err := cases.Load(backtestCasesFile)
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	a, err := newApp(ctx, cmd.Flags().Changed("verbose"), modeScore)
	if err != nil {
		return err
	}
	defer a.Close()

	bt := &validation.Backtester{
		Splitter:  a.engine.Splitter(),
		Source:    a.source,
		Predictor: a.engine,
		Validator: a.engine.Validator(),
		Policy:    temporal.ParsePolicy(a.cfg.Temporal.LeakagePolicy),
		Logger:    a.logger,
	}
	report, err := bt.Run(ctx, cs)
	if err != nil {
		return err
	}
	if report.ModelVersion == "" {
		if cur, err := a.engine.Registry().Current(); err == nil {
			report.ModelVersion = cur.Version
		}
	}

	resp := &BacktestResponse{Report: report}
	resp.RunID, err = a.store.SaveValidationReport(ctx, report)
	if err != nil {
		return err
	}

	analyzer := feedback.Analyzer{
		MinPrecision:  a.cfg.Feedback.MinPrecision,
		MinRecall:     a.cfg.Feedback.MinRecall,
		MinF1:         a.cfg.Feedback.MinF1,
		ThresholdStep: a.cfg.Feedback.ThresholdStep,
	}
	resp.Signal = analyzer.Analyze(report)
	if resp.Signal == nil {
		return printResponse(cmd, resp)
	}
	if err := a.store.SaveRetrainingSignal(ctx, resp.Signal); err != nil {
		return err
	}

	missed := selectCases(cs, resp.Signal.MissedCaseIDs)
	if backtestMissed != "" {
		if err := cases.Save(backtestMissed, missed); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d missed cases to %s\n", len(missed), backtestMissed)
	}

	if backtestApply {
		additions, skipped, err := a.engine.Samples(ctx, a.source, missed)
		if err != nil {
			return err
		}
		for _, s := range skipped {
			a.logger.Warn("Missed case not added to corpus", "case", s.CaseID, "code", s.Code, "reason", s.Reason)
		}

		stage := feedback.NewStage(a.engine.Registry(), func() (cluster.Model, error) {
			return cluster.New(a.cfg.Clustering)
		}, a.logger)
		next, err := stage.Apply(ctx, resp.Signal, additions)
		if err != nil {
			return err
		}
		if err := a.store.SaveModel(ctx, next); err != nil {
			return err
		}
		resp.Published = next.Version
	}
	return printResponse(cmd, resp)
}

// selectCases returns the cases whose ids are listed, in dataset order.
func selectCases(cs []cases.Case, ids []string) []cases.Case {
	out := make([]cases.Case, 0, len(ids))
	for _, c := range cs {
		if slices.Contains(ids, c.ID) {
			out = append(out, c)
		}
	}
	return out
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"precursor/internal/errors"
	"precursor/internal/scoring"
	"precursor/internal/slogutil"
	"precursor/internal/storage"
)

var historyLimit int

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List saved model versions",
	RunE:  runModels,
}

var historyCmd = &cobra.Command{
	Use:   "history <package>",
	Short: "List saved scores for a package, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of scores")
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(historyCmd)
}

// ModelsResponse lists saved model versions.
type ModelsResponse struct {
	Models []storage.ModelVersion `json:"models"`
}

// HistoryResponse lists saved scores for one package.
type HistoryResponse struct {
	Package string                 `json:"package"`
	Scores  []*scoring.ThreatScore `json:"scores"`
}

// openSQLite opens the configured store and fails when storage is disabled.
func openSQLite() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Storage.Enabled {
		return nil, errors.New(errors.BackendUnavailable, "storage is disabled", nil)
	}
	logger := slogutil.NewFormatLogger(os.Stderr, cfg.Logging.Format, slogutil.LevelFromVerbosity(verbosity, quietFlag))
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	return st.(*storage.Store), nil
}

func runModels(cmd *cobra.Command, args []string) error {
	st, err := openSQLite()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := newContext()
	defer cancel()

	versions, err := st.ListModelVersions(ctx)
	if err != nil {
		return err
	}
	return printResponse(cmd, &ModelsResponse{Models: versions})
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openSQLite()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := newContext()
	defer cancel()

	scores, err := st.ListThreatScores(ctx, args[0], historyLimit)
	if err != nil {
		return err
	}
	return printResponse(cmd, &HistoryResponse{Package: args[0], Scores: scores})
}

func formatModelsHuman(r *ModelsResponse) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Models (%d)", len(r.Models)))
	for _, m := range r.Models {
		parent := "-"
		if m.ParentVersion != "" {
			parent = shortID(m.ParentVersion)
		}
		fmt.Fprintf(&b, "  %s  %s  %-7s clusters %-3d corpus %-4d threshold %.2f  parent %s\n",
			shortID(m.Version), m.CreatedAt.Format(time.DateTime), m.Algorithm,
			m.ClusterCount, m.CorpusSize, m.Threshold, parent)
	}
	return b.String()
}

func formatHistoryHuman(r *HistoryResponse) string {
	var b strings.Builder
	header(&b, "History: "+r.Package)
	for _, ts := range r.Scores {
		fmt.Fprintf(&b, "  %s  %.3f  %-8s cutoff %s  model %s\n",
			ts.PredictedAt.Format(time.DateTime), ts.Score, ts.Level,
			ts.Cutoff.Format(time.DateOnly), shortID(ts.ModelVersion))
	}
	return b.String()
}

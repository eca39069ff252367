package main

import (
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"precursor/internal/errors"
	"precursor/internal/signals"
	"precursor/internal/temporal"
)

var (
	scorePackage string
	scoreCutoff  string
)

var scoreCmd = &cobra.Command{
	Use:   "score <repository>",
	Short: "Score one package against the saved model",
	Long: `Collects the package's history window ending at the cutoff and scores it
against the newest saved model (or --model).

Without --cutoff the package is scored as of now. With --cutoff only the
history window ending at the cutoff is collected, so a past cutoff scores
the package as it looked then.

Examples:
  precursor score apache/logging-log4j2
  precursor score apache/logging-log4j2 --cutoff 2021-11-10 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scorePackage, "package", "", "Package name reported in the score (default: repository base name)")
	scoreCmd.Flags().StringVar(&scoreCutoff, "cutoff", "", "Score as of this date (RFC 3339 or YYYY-MM-DD)")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	repository := args[0]
	cutoff := time.Now().UTC()
	if scoreCutoff != "" {
		t, err := temporal.ParseDisclosure(scoreCutoff)
		if err != nil {
			return errors.New(errors.InvalidTimeRange, "invalid --cutoff", err)
		}
		cutoff = t
	}

	ctx, cancel := newContext()
	defer cancel()

	a, err := newApp(ctx, cmd.Flags().Changed("verbose"), modeScore)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := scoreWindow(a.engine.Splitter(), cutoff)
	if err != nil {
		return err
	}
	b, err := a.source.Fetch(ctx, repository, w)
	if err != nil {
		return err
	}

	pkg := scorePackage
	if pkg == "" {
		pkg = packageName(repository)
	}
	b.Package = pkg

	ts, err := a.engine.ScoreAt(ctx, pkg, b, cutoff)
	if err != nil {
		return err
	}
	return printResponse(cmd, ts)
}

// scoreWindow is the history window ending at cutoff, inclusive. Only
// this window is collected; ScoreAt still applies the leakage policy to
// whatever the collector returns.
func scoreWindow(splitter *temporal.Splitter, cutoff time.Time) (signals.Window, error) {
	return signals.NewWindow(splitter.HistoryStart(cutoff), cutoff.Add(time.Nanosecond))
}

// packageName derives a package name from an owner/name repository.
func packageName(repository string) string {
	return path.Base(strings.Trim(repository, "/"))
}

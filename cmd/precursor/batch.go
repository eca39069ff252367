package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"precursor/internal/errors"
	"precursor/internal/pipeline"
	"precursor/internal/watchlist"
)

var batchWatchlist string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Score every package in a watch list",
	Long: `Scores each [[package]] declared in the watch list concurrently, with at
most batch.workers scores in flight. A package that cannot be collected or
scored is listed under failures and does not stop the others.

Examples:
  precursor batch
  precursor batch --watchlist deps/PACKAGES.toml --format yaml`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchWatchlist, "watchlist", watchlist.DefaultFile, "Watch list file")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := batchWatchlist
	if !filepath.IsAbs(file) {
		file = filepath.Join(rootFlag, file)
	}
	entries, err := watchlist.Load(file)
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

	now := time.Now().UTC()
	reqs := make([]pipeline.Request, 0, len(entries))
	var fetchFailures []pipeline.Failure
	for _, e := range entries {
		cutoff := e.CutoffOr(now)
		w, err := scoreWindow(a.engine.Splitter(), cutoff)
		if err != nil {
			return err
		}
		b, err := a.source.Fetch(ctx, e.Repository, w)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("Failed to collect signals", "package", e.Name, "error", err.Error())
			fetchFailures = append(fetchFailures, pipeline.Failure{
				Package: e.Name,
				Code:    errors.CodeOf(err),
				Reason:  err.Error(),
			})
			continue
		}
		b.Package = e.Name
		reqs = append(reqs, pipeline.Request{Package: e.Name, Signals: b, Window: w})
	}

	res, err := a.engine.ScoreBatch(ctx, reqs)
	if err != nil {
		return err
	}
	res.Failures = append(fetchFailures, res.Failures...)

	if err := printResponse(cmd, res); err != nil {
		return err
	}
	if len(res.Scores) == 0 && len(res.Failures) > 0 {
		return errors.Newf(errors.InsufficientData, "none of %d packages could be scored", len(entries))
	}
	return nil
}

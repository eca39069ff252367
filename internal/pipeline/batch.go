package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"precursor/internal/errors"
	"precursor/internal/scoring"
)

// Failure is a request that produced no score.
type Failure struct {
	Package string           `json:"package" yaml:"package"`
	Code    errors.ErrorCode `json:"code" yaml:"code"`
	Reason  string           `json:"reason" yaml:"reason"`
}

// BatchResult holds the scores and failures of ScoreBatch. Scores keep the
// order of the successful requests.
type BatchResult struct {
	Scores   []*scoring.ThreatScore `json:"scores" yaml:"scores"`
	Failures []Failure              `json:"failures" yaml:"failures"`
}

// ScoreBatch scores requests with at most batch.workers in flight. A failed
// request is recorded in Failures and never stops the others. The returned
// error is non-nil only when ctx itself is done.
func (e *Engine) ScoreBatch(ctx context.Context, reqs []Request) (*BatchResult, error) {
	workers := e.cfg.Batch.Workers
	if workers <= 0 {
		workers = 1
	}

	scores := make([]*scoring.ThreatScore, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, req := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			scores[i], errs[i] = e.Score(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{
		Scores:   make([]*scoring.ThreatScore, 0, len(reqs)),
		Failures: make([]Failure, 0),
	}
	for i, req := range reqs {
		if errs[i] != nil {
			res.Failures = append(res.Failures, Failure{
				Package: req.Package,
				Code:    errors.CodeOf(errs[i]),
				Reason:  errs[i].Error(),
			})
			continue
		}
		res.Scores = append(res.Scores, scores[i])
	}

	e.logger.Info("Batch scored",
		"requests", len(reqs),
		"scored", len(res.Scores),
		"failed", len(res.Failures),
	)
	return res, ctx.Err()
}

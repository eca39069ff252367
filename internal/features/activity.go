package features

import (
	"precursor/internal/signals"
)

// ExtractPRFeatures computes pull request features. Empty input yields zeros.
func (e *Extractor) ExtractPRFeatures(prs []signals.PRSignal) map[string]float64 {
	out := zeros(PRFrequency, PRMergedRatio, PRMergeLatencyHours, PRAvgReviewers,
		PRAvgParticipants, PRSecurityRatio)
	if len(prs) == 0 {
		return out
	}

	n := float64(len(prs))
	var merged, security, reviewers, participants int
	var latency float64

	for _, pr := range prs {
		if pr.MergedAt != nil {
			merged++
			latency += nonNegative(pr.MergedAt.Sub(pr.CreatedAt).Hours())
		}
		reviewers += len(pr.Reviewers)
		participants += countParticipants(pr.Author, pr.Reviewers)
		if e.hasSecurityLabel(pr.Labels) || e.mentionsSecurity(pr.Title, pr.Body) {
			security++
		}
	}

	out[PRFrequency] = n / elapsedDays(signals.Span(prs))
	out[PRMergedRatio] = float64(merged) / n
	if merged > 0 {
		out[PRMergeLatencyHours] = latency / float64(merged)
	}
	out[PRAvgReviewers] = float64(reviewers) / n
	out[PRAvgParticipants] = float64(participants) / n
	out[PRSecurityRatio] = float64(security) / n
	return out
}

// ExtractIssueFeatures computes issue features. Empty input yields zeros.
func (e *Extractor) ExtractIssueFeatures(issues []signals.IssueSignal) map[string]float64 {
	out := zeros(IssueFrequency, IssueClosedRatio, IssueResolutionHours,
		IssueAvgComments, IssueSecurityRatio)
	if len(issues) == 0 {
		return out
	}

	n := float64(len(issues))
	var closed, security, comments int
	var resolution float64

	for _, is := range issues {
		if is.ClosedAt != nil {
			closed++
			resolution += nonNegative(is.ClosedAt.Sub(is.CreatedAt).Hours())
		}
		comments += is.Comments
		if e.hasSecurityLabel(is.Labels) || e.mentionsSecurity(is.Title, is.Body) {
			security++
		}
	}

	out[IssueFrequency] = n / elapsedDays(signals.Span(issues))
	out[IssueClosedRatio] = float64(closed) / n
	if closed > 0 {
		out[IssueResolutionHours] = resolution / float64(closed)
	}
	out[IssueAvgComments] = float64(comments) / n
	out[IssueSecurityRatio] = float64(security) / n
	return out
}

// ExtractReleaseFeatures computes release features. Empty input yields zeros.
func (e *Extractor) ExtractReleaseFeatures(releases []signals.ReleaseSignal) map[string]float64 {
	out := zeros(ReleaseFrequency, ReleaseIntervalDays, ReleasePrereleaseRatio,
		ReleaseSecurityRatio)
	if len(releases) == 0 {
		return out
	}

	n := float64(len(releases))
	var pre, security int
	for _, r := range releases {
		if r.Prerelease {
			pre++
		}
		if e.mentionsSecurity(r.Name, r.Body) {
			security++
		}
	}

	first, last, ok := signals.Span(releases)
	out[ReleaseFrequency] = n / elapsedDays(first, last, ok)
	if len(releases) > 1 {
		// Mean gap between consecutive releases equals total span over gaps.
		out[ReleaseIntervalDays] = last.Sub(first).Hours() / 24 / (n - 1)
	}
	out[ReleasePrereleaseRatio] = float64(pre) / n
	out[ReleaseSecurityRatio] = float64(security) / n
	return out
}

// countParticipants counts distinct people among author and reviewers.
func countParticipants(author string, reviewers []string) int {
	seen := make(map[string]bool, len(reviewers)+1)
	if author != "" {
		seen[author] = true
	}
	for _, r := range reviewers {
		if r != "" {
			seen[r] = true
		}
	}
	return len(seen)
}

func zeros(keys ...string) map[string]float64 {
	out := make(map[string]float64, len(keys))
	for _, k := range keys {
		out[k] = 0
	}
	return out
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

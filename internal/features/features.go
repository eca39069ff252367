// Package features converts signal records into named structural features.
//
// Commit features are mandatory: an empty commit list is an error. The other
// signal types degrade to an all-zero map carrying the full key set so that
// every extracted sample shares the same feature names.
package features

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"precursor/internal/errors"
	"precursor/internal/signals"
	"precursor/internal/slogutil"
)

// Feature names emitted by the extractor.
const (
	CommitFrequency     = "commit_frequency"
	AvgLinesChanged     = "avg_lines_changed"
	AvgFilesChanged     = "avg_files_changed"
	AuthorConcentration = "author_concentration"
	UniqueAuthors       = "unique_authors"
	HourMorning         = "hour_morning"
	HourAfternoon       = "hour_afternoon"
	HourEvening         = "hour_evening"
	HourNight           = "hour_night"
	FileLanguageRatio   = "file_language_ratio"
	FileTestRatio       = "file_test_ratio"
	FileDocRatio        = "file_doc_ratio"
	FileConfigRatio     = "file_config_ratio"
	SecurityKeywordRate = "security_keyword_ratio"
	WeekendRatio        = "weekend_ratio"

	PRFrequency         = "pr_frequency"
	PRMergedRatio       = "pr_merged_ratio"
	PRMergeLatencyHours = "pr_avg_merge_latency_hours"
	PRAvgReviewers      = "pr_avg_reviewers"
	PRAvgParticipants   = "pr_avg_participants"
	PRSecurityRatio     = "pr_security_ratio"

	IssueFrequency         = "issue_frequency"
	IssueClosedRatio       = "issue_closed_ratio"
	IssueResolutionHours   = "issue_avg_resolution_hours"
	IssueAvgComments       = "issue_avg_comments"
	IssueSecurityRatio     = "issue_security_ratio"
	ReleaseFrequency       = "release_frequency"
	ReleaseIntervalDays    = "release_avg_interval_days"
	ReleasePrereleaseRatio = "release_prerelease_ratio"
	ReleaseSecurityRatio   = "release_security_ratio"
)

// DefaultSecurityKeywords is used when no keyword list is configured.
var DefaultSecurityKeywords = []string{
	"security", "vulnerab", "cve-", "exploit", "overflow", "xss", "csrf",
	"injection", "sanitiz", "auth bypass", "remote code",
}

// DefaultSecurityLabels is used when no label list is configured.
var DefaultSecurityLabels = []string{"security", "vulnerability", "cve"}

// Extractor computes structural features. It is stateless apart from its
// keyword configuration and safe for concurrent use.
type Extractor struct {
	keywords []string
	labels   map[string]bool
	logger   *slog.Logger
}

// NewExtractor creates an extractor. Empty keyword or label lists fall back
// to the defaults.
func NewExtractor(keywords, labels []string, logger *slog.Logger) *Extractor {
	if len(keywords) == 0 {
		keywords = DefaultSecurityKeywords
	}
	if len(labels) == 0 {
		labels = DefaultSecurityLabels
	}
	e := &Extractor{
		keywords: make([]string, 0, len(keywords)),
		labels:   make(map[string]bool, len(labels)),
		logger:   slogutil.OrDiscard(logger),
	}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			e.keywords = append(e.keywords, k)
		}
	}
	for _, l := range labels {
		e.labels[strings.ToLower(strings.TrimSpace(l))] = true
	}
	return e
}

// Extract merges commit, PR, issue and release features for a bundle.
// It fails with INSUFFICIENT_DATA when the bundle has no commits.
func (e *Extractor) Extract(b signals.Bundle) (map[string]float64, error) {
	out, err := e.ExtractCommitFeatures(b.Commits)
	if err != nil {
		return nil, err
	}
	maps.Copy(out, e.ExtractPRFeatures(b.PRs))
	maps.Copy(out, e.ExtractIssueFeatures(b.Issues))
	maps.Copy(out, e.ExtractReleaseFeatures(b.Releases))

	e.logger.Debug("Extracted features",
		"package", b.Package,
		"features", len(out),
		"records", b.Len(),
	)
	return out, nil
}

// Names returns every feature name Extract emits, in sorted order.
func Names() []string {
	names := []string{
		CommitFrequency, AvgLinesChanged, AvgFilesChanged, AuthorConcentration,
		UniqueAuthors, HourMorning, HourAfternoon, HourEvening, HourNight,
		FileLanguageRatio, FileTestRatio, FileDocRatio, FileConfigRatio,
		SecurityKeywordRate, WeekendRatio,
		PRFrequency, PRMergedRatio, PRMergeLatencyHours, PRAvgReviewers,
		PRAvgParticipants, PRSecurityRatio,
		IssueFrequency, IssueClosedRatio, IssueResolutionHours, IssueAvgComments,
		IssueSecurityRatio,
		ReleaseFrequency, ReleaseIntervalDays, ReleasePrereleaseRatio, ReleaseSecurityRatio,
	}
	slices.Sort(names)
	return names
}

// ExtractCommitFeatures computes commit features.
func (e *Extractor) ExtractCommitFeatures(commits []signals.CommitSignal) (map[string]float64, error) {
	if len(commits) == 0 {
		return nil, errors.New(errors.InsufficientData, "no commits to extract features from", nil)
	}

	n := float64(len(commits))
	var lines, files, weekend, security int
	perAuthor := make(map[string]float64)
	var hours [4]int
	var fileMix fileCounts

	for _, c := range commits {
		lines += c.LinesChanged()
		files += len(c.FilesChanged)
		perAuthor[c.Author]++
		hours[hourBucket(c.CreatedAt)]++
		if wd := c.CreatedAt.UTC().Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekend++
		}
		if e.mentionsSecurity(c.Message) {
			security++
		}
		for _, f := range c.FilesChanged {
			fileMix.add(f)
		}
	}

	counts := make([]float64, 0, len(perAuthor))
	for _, v := range perAuthor {
		counts = append(counts, v)
	}

	out := map[string]float64{
		CommitFrequency:     n / elapsedDays(signals.Span(commits)),
		AvgLinesChanged:     float64(lines) / n,
		AvgFilesChanged:     float64(files) / n,
		AuthorConcentration: Gini(counts),
		UniqueAuthors:       float64(len(perAuthor)),
		HourMorning:         float64(hours[bucketMorning]) / n,
		HourAfternoon:       float64(hours[bucketAfternoon]) / n,
		HourEvening:         float64(hours[bucketEvening]) / n,
		HourNight:           float64(hours[bucketNight]) / n,
		SecurityKeywordRate: float64(security) / n,
		WeekendRatio:        float64(weekend) / n,
	}
	maps.Copy(out, fileMix.ratios())
	return out, nil
}

// mentionsSecurity reports whether any configured keyword occurs in the
// given texts, case-insensitively.
func (e *Extractor) mentionsSecurity(texts ...string) bool {
	for _, t := range texts {
		if t == "" {
			continue
		}
		lower := strings.ToLower(t)
		for _, k := range e.keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
	}
	return false
}

// hasSecurityLabel reports whether any label is a configured security label.
func (e *Extractor) hasSecurityLabel(labels []string) bool {
	for _, l := range labels {
		if e.labels[strings.ToLower(strings.TrimSpace(l))] {
			return true
		}
	}
	return false
}

// elapsedDays is the span between the first and last record, floored to one
// day so that bursts do not blow up frequencies.
func elapsedDays(first, last time.Time, ok bool) float64 {
	if !ok {
		return 1
	}
	days := last.Sub(first).Hours() / 24
	if days < 1 {
		return 1
	}
	return days
}

const (
	bucketNight = iota
	bucketMorning
	bucketAfternoon
	bucketEvening
)

// hourBucket maps a UTC hour to night [0,6), morning [6,12),
// afternoon [12,18) or evening [18,24).
func hourBucket(t time.Time) int {
	switch h := t.UTC().Hour(); {
	case h < 6:
		return bucketNight
	case h < 12:
		return bucketMorning
	case h < 18:
		return bucketAfternoon
	default:
		return bucketEvening
	}
}

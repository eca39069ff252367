package temporal

import (
	"log/slog"
	"time"

	"precursor/internal/errors"
	"precursor/internal/signals"
	"precursor/internal/slogutil"
)

// Policy decides what happens when leaked records are found.
type Policy string

const (
	// PolicyWarn logs leaks and continues with the valid records.
	PolicyWarn Policy = "warn"
	// PolicyError fails with TEMPORAL_LEAKAGE.
	PolicyError Policy = "error"
)

// ParsePolicy maps a config string to a Policy, defaulting to error.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyWarn {
		return PolicyWarn
	}
	return PolicyError
}

// Partitioned holds records split at a cutoff.
type Partitioned[T signals.Timestamped] struct {
	Valid  []T
	Leaked []T
}

// LeakedCount is the number of records after the cutoff.
func (p Partitioned[T]) LeakedCount() int { return len(p.Leaked) }

// Partition splits records at cutoff. A record exactly at the cutoff is
// valid.
func Partition[T signals.Timestamped](records []T, cutoff time.Time) Partitioned[T] {
	p := Partitioned[T]{Valid: make([]T, 0, len(records))}
	for _, r := range records {
		if r.Timestamp().After(cutoff) {
			p.Leaked = append(p.Leaked, r)
		} else {
			p.Valid = append(p.Valid, r)
		}
	}
	return p
}

// LeakageReport summarises leakage across a bundle. Valid is the bundle
// with every leaked record removed and every merge or close after the
// cutoff cleared; Masked counts the records whose fields were cleared.
type LeakageReport struct {
	Package    string                    `json:"package"`
	Cutoff     time.Time                 `json:"cutoff"`
	Leaked     map[signals.Kind]int      `json:"leaked"`
	LeakedKeys map[signals.Kind][]string `json:"leaked_keys,omitempty"`
	Masked     map[signals.Kind]int      `json:"masked,omitempty"`
	Valid      signals.Bundle            `json:"-"`
}

// Total is the number of leaked records across kinds.
func (r LeakageReport) Total() int {
	n := 0
	for _, c := range r.Leaked {
		n += c
	}
	return n
}

// CheckBundle partitions every signal type in b at cutoff. Records that
// were open at the cutoff stay valid but lose their later merge or close
// time; masking alone is not leakage.
func CheckBundle(b signals.Bundle, cutoff time.Time) LeakageReport {
	commits := Partition(b.Commits, cutoff)
	prs := Partition(b.PRs, cutoff)
	issues := Partition(b.Issues, cutoff)
	releases := Partition(b.Releases, cutoff)

	var maskedPRs, maskedIssues int
	prs.Valid, maskedPRs = signals.PRsAsOf(prs.Valid, cutoff)
	issues.Valid, maskedIssues = signals.IssuesAsOf(issues.Valid, cutoff)

	report := LeakageReport{
		Package: b.Package,
		Cutoff:  cutoff,
		Leaked: map[signals.Kind]int{
			signals.KindCommit:  commits.LeakedCount(),
			signals.KindPR:      prs.LeakedCount(),
			signals.KindIssue:   issues.LeakedCount(),
			signals.KindRelease: releases.LeakedCount(),
		},
		LeakedKeys: make(map[signals.Kind][]string),
		Masked:     make(map[signals.Kind]int),
		Valid: signals.Bundle{
			Package:  b.Package,
			Commits:  commits.Valid,
			PRs:      prs.Valid,
			Issues:   issues.Valid,
			Releases: releases.Valid,
		},
	}
	addKeys(report.LeakedKeys, signals.KindCommit, commits.Leaked)
	addKeys(report.LeakedKeys, signals.KindPR, prs.Leaked)
	addKeys(report.LeakedKeys, signals.KindIssue, issues.Leaked)
	addKeys(report.LeakedKeys, signals.KindRelease, releases.Leaked)
	if maskedPRs > 0 {
		report.Masked[signals.KindPR] = maskedPRs
	}
	if maskedIssues > 0 {
		report.Masked[signals.KindIssue] = maskedIssues
	}
	return report
}

func addKeys[T signals.Timestamped](dst map[signals.Kind][]string, kind signals.Kind, leaked []T) {
	for _, r := range leaked {
		dst[kind] = append(dst[kind], r.Key())
	}
}

// Enforce applies policy to a report. Under PolicyWarn leaks are logged and
// nil is returned; under PolicyError any leak is a TEMPORAL_LEAKAGE error.
// Callers continue with report.Valid in either case.
func Enforce(report LeakageReport, policy Policy, logger *slog.Logger) error {
	total := report.Total()
	if total == 0 {
		return nil
	}

	if policy == PolicyWarn {
		slogutil.OrDiscard(logger).Warn("Dropped records after cutoff",
			"package", report.Package,
			"cutoff", report.Cutoff.Format(time.RFC3339),
			"leaked", total,
		)
		return nil
	}

	return errors.Newf(errors.TemporalLeakage,
		"%d records for %s are timestamped after cutoff %s",
		total, report.Package, report.Cutoff.Format(time.RFC3339)).
		WithDetails(report.Leaked)
}

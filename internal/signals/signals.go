// Package signals defines the developer-activity records the predictor consumes.
//
// Records are produced by collectors for a query window and are treated as
// read-only values afterwards: nothing in the prediction core mutates them.
package signals

import (
	"strconv"
	"time"
)

// Kind identifies a signal type.
type Kind string

const (
	KindCommit  Kind = "commit"
	KindPR      Kind = "pull_request"
	KindIssue   Kind = "issue"
	KindRelease Kind = "release"
)

// Timestamped is implemented by every signal record.
type Timestamped interface {
	// Timestamp is the creation time used for cutoff checks.
	Timestamp() time.Time
	// Key identifies the record within its kind (sha, number or version).
	Key() string
}

// CommitSignal is a single commit.
type CommitSignal struct {
	SHA          string    `json:"sha"`
	Author       string    `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
	Message      string    `json:"message"`
	FilesChanged []string  `json:"files_changed,omitempty"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
}

func (c CommitSignal) Timestamp() time.Time { return c.CreatedAt }
func (c CommitSignal) Key() string          { return c.SHA }

// LinesChanged is additions plus deletions.
func (c CommitSignal) LinesChanged() int { return c.Additions + c.Deletions }

// PRSignal is a pull request.
type PRSignal struct {
	Number    int        `json:"number"`
	Author    string     `json:"author"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	Reviewers []string   `json:"reviewers,omitempty"`
	Comments  int        `json:"comments"`
}

func (p PRSignal) Timestamp() time.Time { return p.CreatedAt }
func (p PRSignal) Key() string          { return strconv.Itoa(p.Number) }

// AsOf returns p as it looked at cutoff: a merge or close after cutoff
// had not happened yet. changed reports whether a field was cleared.
func (p PRSignal) AsOf(cutoff time.Time) (PRSignal, bool) {
	changed := false
	if p.MergedAt != nil && p.MergedAt.After(cutoff) {
		p.MergedAt = nil
		changed = true
	}
	if p.ClosedAt != nil && p.ClosedAt.After(cutoff) {
		p.ClosedAt = nil
		changed = true
	}
	return p, changed
}

// IssueSignal is an issue.
type IssueSignal struct {
	Number    int        `json:"number"`
	Author    string     `json:"author"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	Comments  int        `json:"comments"`
}

func (i IssueSignal) Timestamp() time.Time { return i.CreatedAt }
func (i IssueSignal) Key() string          { return strconv.Itoa(i.Number) }

// AsOf returns i with a close after cutoff cleared.
func (i IssueSignal) AsOf(cutoff time.Time) (IssueSignal, bool) {
	if i.ClosedAt != nil && i.ClosedAt.After(cutoff) {
		i.ClosedAt = nil
		return i, true
	}
	return i, false
}

// ReleaseSignal is a tagged release.
type ReleaseSignal struct {
	Version    string    `json:"version"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
	Name       string    `json:"name,omitempty"`
	Body       string    `json:"body,omitempty"`
	Prerelease bool      `json:"prerelease"`
	Tags       []string  `json:"tags,omitempty"`
}

func (r ReleaseSignal) Timestamp() time.Time { return r.CreatedAt }
func (r ReleaseSignal) Key() string          { return r.Version }

// Bundle groups the signals collected for one package.
type Bundle struct {
	Package  string          `json:"package"`
	Commits  []CommitSignal  `json:"commits"`
	PRs      []PRSignal      `json:"pull_requests"`
	Issues   []IssueSignal   `json:"issues"`
	Releases []ReleaseSignal `json:"releases"`
}

// Len is the total number of records across kinds.
func (b Bundle) Len() int {
	return len(b.Commits) + len(b.PRs) + len(b.Issues) + len(b.Releases)
}

// Counts reports records per kind.
func (b Bundle) Counts() map[Kind]int {
	return map[Kind]int{
		KindCommit:  len(b.Commits),
		KindPR:      len(b.PRs),
		KindIssue:   len(b.Issues),
		KindRelease: len(b.Releases),
	}
}

// Within returns a new bundle holding only records inside w. Merges and
// closes at or after w.Until are cleared.
func (b Bundle) Within(w Window) Bundle {
	out := Bundle{
		Package:  b.Package,
		Commits:  Filter(b.Commits, w.Contains),
		PRs:      Filter(b.PRs, w.Contains),
		Issues:   Filter(b.Issues, w.Contains),
		Releases: Filter(b.Releases, w.Contains),
	}
	last := w.Until.Add(-time.Nanosecond)
	out.PRs, _ = PRsAsOf(out.PRs, last)
	out.Issues, _ = IssuesAsOf(out.Issues, last)
	return out
}

// AtOrBefore returns a new bundle holding only records timestamped at or
// before cutoff, with merges and closes after cutoff cleared.
func (b Bundle) AtOrBefore(cutoff time.Time) Bundle {
	keep := func(t time.Time) bool { return !t.After(cutoff) }
	out := Bundle{
		Package:  b.Package,
		Commits:  Filter(b.Commits, keep),
		PRs:      Filter(b.PRs, keep),
		Issues:   Filter(b.Issues, keep),
		Releases: Filter(b.Releases, keep),
	}
	out.PRs, _ = PRsAsOf(out.PRs, cutoff)
	out.Issues, _ = IssuesAsOf(out.Issues, cutoff)
	return out
}

// PRsAsOf applies PRSignal.AsOf to every record in place and returns the
// number of records changed. prs must not be shared with the caller's input.
func PRsAsOf(prs []PRSignal, cutoff time.Time) ([]PRSignal, int) {
	n := 0
	for i := range prs {
		var changed bool
		if prs[i], changed = prs[i].AsOf(cutoff); changed {
			n++
		}
	}
	return prs, n
}

// IssuesAsOf is PRsAsOf for issues.
func IssuesAsOf(issues []IssueSignal, cutoff time.Time) ([]IssueSignal, int) {
	n := 0
	for i := range issues {
		var changed bool
		if issues[i], changed = issues[i].AsOf(cutoff); changed {
			n++
		}
	}
	return issues, n
}

// Filter returns the records whose timestamp satisfies keep, in input order.
func Filter[T Timestamped](records []T, keep func(time.Time) bool) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if keep(r.Timestamp()) {
			out = append(out, r)
		}
	}
	return out
}

// Span returns the earliest and latest timestamps in records.
// ok is false for an empty slice.
func Span[T Timestamped](records []T) (first, last time.Time, ok bool) {
	for i, r := range records {
		ts := r.Timestamp()
		if i == 0 || ts.Before(first) {
			first = ts
		}
		if i == 0 || ts.After(last) {
			last = ts
		}
	}
	return first, last, len(records) > 0
}

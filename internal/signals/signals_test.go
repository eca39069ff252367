package signals

import (
	"strings"
	"testing"
	"time"

	"precursor/internal/errors"
)

var base = time.Date(2021, 11, 1, 12, 0, 0, 0, time.UTC)

func sampleBundle() Bundle {
	merged := base.Add(48 * time.Hour)
	return Bundle{
		Package: "log4j-core",
		Commits: []CommitSignal{
			{SHA: "a1", Author: "alice", CreatedAt: base, Message: "fix lookup"},
			{SHA: "b2", Author: "bob", CreatedAt: base.AddDate(0, 0, 10), Message: "bump deps"},
		},
		PRs: []PRSignal{
			{Number: 7, Author: "alice", CreatedAt: base.AddDate(0, 0, 1), MergedAt: &merged, Title: "fix lookup"},
		},
		Issues: []IssueSignal{
			{Number: 12, Author: "carol", CreatedAt: base.AddDate(0, 0, 20), Title: "JNDI lookup"},
		},
		Releases: []ReleaseSignal{
			{Version: "2.15.0", Author: "bob", CreatedAt: base.AddDate(0, 0, 30)},
		},
	}
}

func TestWindow_Validate(t *testing.T) {
	tests := []struct {
		name    string
		since   time.Time
		until   time.Time
		wantErr bool
	}{
		{"ordered", base, base.Add(time.Hour), false},
		{"equal", base, base, true},
		{"reversed", base.Add(time.Hour), base, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWindow(tt.since, tt.until)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWindow() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsCode(err, errors.InvalidTimeRange) {
				t.Errorf("error code = %v, want %v", errors.CodeOf(err), errors.InvalidTimeRange)
			}
		})
	}
}

func TestWindow_ContainsIsHalfOpen(t *testing.T) {
	w := Window{Since: base, Until: base.AddDate(0, 0, 1)}

	if !w.Contains(base) {
		t.Error("window should contain its start")
	}
	if w.Contains(base.AddDate(0, 0, 1)) {
		t.Error("window should not contain its end")
	}
	if w.Days() != 1 {
		t.Errorf("Days() = %v, want 1", w.Days())
	}
}

func TestBundle_Within(t *testing.T) {
	b := sampleBundle()
	w := Window{Since: base, Until: base.AddDate(0, 0, 15)}

	got := b.Within(w)

	if len(got.Commits) != 2 || len(got.PRs) != 1 || len(got.Issues) != 0 || len(got.Releases) != 0 {
		t.Errorf("Counts() = %v", got.Counts())
	}
	if got.Package != b.Package {
		t.Errorf("Package = %q, want %q", got.Package, b.Package)
	}
	// Source bundle untouched
	if b.Len() != 5 {
		t.Errorf("source Len() = %d, want 5", b.Len())
	}
}

func TestBundle_AtOrBefore(t *testing.T) {
	b := sampleBundle()

	got := b.AtOrBefore(base.AddDate(0, 0, 20))

	if len(got.Issues) != 1 {
		t.Error("record exactly at cutoff should be kept")
	}
	if len(got.Releases) != 0 {
		t.Error("record after cutoff should be dropped")
	}
}

func TestBundle_MasksLaterMergesAndCloses(t *testing.T) {
	cutoff := base.AddDate(0, 0, 10)
	early := base.AddDate(0, 0, 2)
	late := cutoff.AddDate(0, 0, 30)
	b := Bundle{
		PRs: []PRSignal{
			{Number: 1, CreatedAt: base, MergedAt: &late, ClosedAt: &late},
			{Number: 2, CreatedAt: base, MergedAt: &early},
		},
		Issues: []IssueSignal{
			{Number: 3, CreatedAt: base, ClosedAt: &late},
			{Number: 4, CreatedAt: base, ClosedAt: &early},
		},
	}

	for name, got := range map[string]Bundle{
		"AtOrBefore": b.AtOrBefore(cutoff),
		"Within":     b.Within(Window{Since: base, Until: cutoff}),
	} {
		t.Run(name, func(t *testing.T) {
			if got.PRs[0].MergedAt != nil || got.PRs[0].ClosedAt != nil {
				t.Error("PR merged after the cutoff should look open")
			}
			if got.PRs[1].MergedAt == nil {
				t.Error("PR merged before the cutoff should keep its merge time")
			}
			if got.Issues[0].ClosedAt != nil {
				t.Error("issue closed after the cutoff should look open")
			}
			if got.Issues[1].ClosedAt == nil {
				t.Error("issue closed before the cutoff should keep its close time")
			}
		})
	}

	if b.PRs[0].MergedAt == nil || b.Issues[0].ClosedAt == nil {
		t.Error("source bundle should be untouched")
	}
}

func TestSpan(t *testing.T) {
	b := sampleBundle()

	first, last, ok := Span(b.Commits)
	if !ok {
		t.Fatal("Span() ok = false")
	}
	if !first.Equal(base) || !last.Equal(base.AddDate(0, 0, 10)) {
		t.Errorf("Span() = %v..%v", first, last)
	}

	if _, _, ok := Span([]CommitSignal{}); ok {
		t.Error("Span() of empty slice should report !ok")
	}
}

func TestKeys(t *testing.T) {
	b := sampleBundle()
	if b.PRs[0].Key() != "7" {
		t.Errorf("PR Key() = %q", b.PRs[0].Key())
	}
	if b.Releases[0].Key() != "2.15.0" {
		t.Errorf("Release Key() = %q", b.Releases[0].Key())
	}
	if b.Commits[0].Key() != "a1" {
		t.Errorf("Commit Key() = %q", b.Commits[0].Key())
	}
}

func TestDecodeCommits_SortsByTimestamp(t *testing.T) {
	input := `[
		{"sha": "late", "author": "a", "created_at": "2021-11-05T10:00:00Z", "message": "m2", "additions": 3, "deletions": 1},
		{"sha": "early", "author": "b", "created_at": "2021-11-01T10:00:00Z", "message": "m1", "files_changed": ["a.go"]}
	]`

	commits, err := DecodeCommits(strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeCommits() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("len = %d, want 2", len(commits))
	}
	if commits[0].SHA != "early" {
		t.Errorf("first = %q, want early", commits[0].SHA)
	}
	if commits[1].LinesChanged() != 4 {
		t.Errorf("LinesChanged() = %d, want 4", commits[1].LinesChanged())
	}
}

func TestDecodePRs_OptionalTimes(t *testing.T) {
	input := `[{"number": 3, "author": "a", "created_at": "2021-11-01T00:00:00Z", "merged_at": "2021-11-02T00:00:00Z", "title": "t", "labels": ["security"]}]`

	prs, err := DecodePRs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodePRs() error = %v", err)
	}
	if prs[0].MergedAt == nil {
		t.Fatal("MergedAt should be set")
	}
	if prs[0].ClosedAt != nil {
		t.Error("ClosedAt should be nil")
	}
}

func TestDecode_RejectsMissingTimestamp(t *testing.T) {
	input := `[{"number": 3, "author": "a", "title": "no time"}]`

	if _, err := DecodeIssues(strings.NewReader(input)); err == nil {
		t.Error("expected error for record without timestamp")
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := DecodeReleases(strings.NewReader(`{"not": "an array"}`)); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestReadFile_Missing(t *testing.T) {
	got, err := ReadFile(t.TempDir()+"/nope.json", DecodeCommits)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

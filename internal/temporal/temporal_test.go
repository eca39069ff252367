package temporal

import (
	"testing"
	"time"

	"precursor/internal/cases"
	"precursor/internal/errors"
	"precursor/internal/signals"
	"precursor/internal/slogutil"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewSplitter(t *testing.T) {
	tests := []struct {
		name    string
		window  int
		history int
		wantErr bool
	}{
		{"defaults", DefaultPredictionWindowDays, DefaultMinHistoryDays, false},
		{"one day", 1, 0, false},
		{"zero window", 0, 365, true},
		{"negative history", 30, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitter(tt.window, tt.history)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSplitter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsCode(err, errors.ConfigInvalid) {
				t.Errorf("error code = %v", errors.CodeOf(err))
			}
		})
	}
}

func TestCreateValidationSplit(t *testing.T) {
	s, _ := NewSplitter(30, 365)

	tests := []struct {
		name       string
		disclosure string
		wantStatus SplitStatus
		wantCutoff time.Time
	}{
		{"date only", "2021-12-09", SplitValid, date(2021, 11, 9)},
		{"rfc3339", "2021-12-09T00:00:00Z", SplitValid, date(2021, 11, 9)},
		{"rfc3339 nano", "2021-12-09T00:00:00.123456789Z", SplitValid, date(2021, 11, 9).Add(123456789)},
		{"no zone", "2021-12-09T00:00:00", SplitValid, date(2021, 11, 9)},
		{"missing", "", SplitInvalid, time.Time{}},
		{"garbage", "ninth of december", SplitInvalid, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split := s.CreateValidationSplit(cases.Case{ID: "CVE-2021-44228", DisclosureDate: tt.disclosure})

			if split.Status != tt.wantStatus {
				t.Fatalf("Status = %v, want %v (reason %q)", split.Status, tt.wantStatus, split.Reason)
			}
			if split.CaseID != "CVE-2021-44228" {
				t.Errorf("CaseID = %q", split.CaseID)
			}
			if !split.Valid() {
				if split.Reason == "" {
					t.Error("invalid split must carry a reason")
				}
				return
			}
			if !split.Cutoff.Equal(tt.wantCutoff) {
				t.Errorf("Cutoff = %v, want %v", split.Cutoff, tt.wantCutoff)
			}
			if !split.Cutoff.Before(split.Disclosure) {
				t.Error("cutoff must precede disclosure")
			}
			if !split.HistoryStart.Equal(split.Cutoff.AddDate(0, 0, -365)) {
				t.Errorf("HistoryStart = %v", split.HistoryStart)
			}
		})
	}
}

func TestParseDisclosure_Error(t *testing.T) {
	_, err := ParseDisclosure("12/09/2021")
	if !errors.IsCode(err, errors.InvalidDisclosureDate) {
		t.Errorf("error = %v, want INVALID_DISCLOSURE_DATE", err)
	}
}

func TestPartition(t *testing.T) {
	cutoff := date(2021, 11, 9)
	commits := []signals.CommitSignal{
		{SHA: "before", CreatedAt: cutoff.Add(-time.Hour)},
		{SHA: "at", CreatedAt: cutoff},
		{SHA: "after", CreatedAt: cutoff.Add(time.Second)},
	}

	p := Partition(commits, cutoff)

	if len(p.Valid) != 2 || p.Valid[0].SHA != "before" || p.Valid[1].SHA != "at" {
		t.Errorf("Valid = %v", p.Valid)
	}
	if p.LeakedCount() != 1 || p.Leaked[0].SHA != "after" {
		t.Errorf("Leaked = %v", p.Leaked)
	}
}

func TestCheckBundleAndEnforce(t *testing.T) {
	cutoff := date(2021, 11, 9)
	b := signals.Bundle{
		Package: "log4j-core",
		Commits: []signals.CommitSignal{{SHA: "a", CreatedAt: cutoff.AddDate(0, 0, -1)}},
		Issues: []signals.IssueSignal{
			{Number: 1, CreatedAt: cutoff.AddDate(0, 0, -2)},
			{Number: 2, CreatedAt: cutoff.AddDate(0, 0, 3)},
		},
		Releases: []signals.ReleaseSignal{{Version: "2.15.0", CreatedAt: cutoff.AddDate(0, 0, 1)}},
	}

	report := CheckBundle(b, cutoff)

	if report.Total() != 2 {
		t.Fatalf("Total() = %d, want 2", report.Total())
	}
	if report.Leaked[signals.KindIssue] != 1 || report.Leaked[signals.KindRelease] != 1 {
		t.Errorf("Leaked = %v", report.Leaked)
	}
	if report.LeakedKeys[signals.KindRelease][0] != "2.15.0" {
		t.Errorf("LeakedKeys = %v", report.LeakedKeys)
	}
	if report.Valid.Len() != 2 {
		t.Errorf("Valid.Len() = %d, want 2", report.Valid.Len())
	}

	if err := Enforce(report, PolicyWarn, slogutil.NewDiscardLogger()); err != nil {
		t.Errorf("warn policy: error = %v, want nil", err)
	}
	if err := Enforce(report, PolicyError, nil); !errors.IsCode(err, errors.TemporalLeakage) {
		t.Errorf("error policy: error = %v, want TEMPORAL_LEAKAGE", err)
	}

	clean := CheckBundle(report.Valid, cutoff)
	if err := Enforce(clean, PolicyError, nil); err != nil {
		t.Errorf("clean bundle: error = %v", err)
	}
}

func TestCheckBundle_MasksLaterOutcomes(t *testing.T) {
	cutoff := date(2021, 11, 9)
	merged := cutoff.AddDate(0, 0, 30)
	closed := cutoff.AddDate(0, 0, 5)
	b := signals.Bundle{
		Package: "log4j-core",
		PRs:     []signals.PRSignal{{Number: 7, CreatedAt: cutoff.AddDate(0, 0, -2), MergedAt: &merged}},
		Issues:  []signals.IssueSignal{{Number: 9, CreatedAt: cutoff.AddDate(0, 0, -1), ClosedAt: &closed}},
	}

	report := CheckBundle(b, cutoff)

	if report.Total() != 0 {
		t.Errorf("Total() = %d, want 0: records created before the cutoff do not leak", report.Total())
	}
	if report.Masked[signals.KindPR] != 1 || report.Masked[signals.KindIssue] != 1 {
		t.Errorf("Masked = %v", report.Masked)
	}
	if report.Valid.PRs[0].MergedAt != nil {
		t.Error("merge after the cutoff reached the valid bundle")
	}
	if report.Valid.Issues[0].ClosedAt != nil {
		t.Error("close after the cutoff reached the valid bundle")
	}
	if b.PRs[0].MergedAt == nil {
		t.Error("input bundle was modified")
	}
	if err := Enforce(report, PolicyError, nil); err != nil {
		t.Errorf("masking alone should pass the error policy: %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	if ParsePolicy("warn") != PolicyWarn {
		t.Error("warn should parse")
	}
	if ParsePolicy("") != PolicyError || ParsePolicy("other") != PolicyError {
		t.Error("unknown policies default to error")
	}
}

package signals

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// DecodeCommits reads a JSON array of commit records.
func DecodeCommits(r io.Reader) ([]CommitSignal, error) {
	return decodeSorted[CommitSignal](r, KindCommit)
}

// DecodePRs reads a JSON array of pull request records.
func DecodePRs(r io.Reader) ([]PRSignal, error) {
	return decodeSorted[PRSignal](r, KindPR)
}

// DecodeIssues reads a JSON array of issue records.
func DecodeIssues(r io.Reader) ([]IssueSignal, error) {
	return decodeSorted[IssueSignal](r, KindIssue)
}

// DecodeReleases reads a JSON array of release records.
func DecodeReleases(r io.Reader) ([]ReleaseSignal, error) {
	return decodeSorted[ReleaseSignal](r, KindRelease)
}

// decodeSorted decodes a JSON array and orders it by timestamp so every
// downstream consumer sees the same sequence regardless of collector order.
func decodeSorted[T Timestamped](r io.Reader, kind Kind) ([]T, error) {
	var records []T
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s records: %w", kind, err)
	}
	for i, rec := range records {
		if rec.Timestamp().IsZero() {
			return nil, fmt.Errorf("decode %s records: record %d (%q) has no timestamp", kind, i, rec.Key())
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp().Before(records[j].Timestamp())
	})
	return records, nil
}

// ReadFile decodes a JSON array file with dec. A missing file yields an
// empty slice: collectors omit files for signal types a project lacks.
func ReadFile[T any](path string, dec func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []T{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return dec(f)
}

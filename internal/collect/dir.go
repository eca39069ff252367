package collect

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"precursor/internal/errors"
	"precursor/internal/signals"
	"precursor/internal/slogutil"
)

// File names inside a repository directory. Missing files mean the
// project has no records of that kind.
const (
	CommitsFile  = "commits.json"
	PullsFile    = "pulls.json"
	IssuesFile   = "issues.json"
	ReleasesFile = "releases.json"
)

// DirSource reads pre-collected JSON exports laid out as
// <Root>/<repository>/{commits,pulls,issues,releases}.json.
type DirSource struct {
	Root   string
	Logger *slog.Logger
}

// NewDirSource creates a source rooted at root.
func NewDirSource(root string, logger *slog.Logger) *DirSource {
	return &DirSource{Root: root, Logger: slogutil.OrDiscard(logger)}
}

// Fetch loads every export of repository and keeps the records in w.
func (d *DirSource) Fetch(ctx context.Context, repository string, w signals.Window) (signals.Bundle, error) {
	if err := w.Validate(); err != nil {
		return signals.Bundle{}, err
	}
	dir, err := d.repoDir(repository)
	if err != nil {
		return signals.Bundle{}, err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return signals.Bundle{}, errors.Newf(errors.BackendUnavailable,
			"no signal export for %s under %s", repository, d.Root)
	}

	var b signals.Bundle
	b.Package = packageName(repository)

	if b.Commits, err = signals.ReadFile(filepath.Join(dir, CommitsFile), signals.DecodeCommits); err != nil {
		return signals.Bundle{}, d.decodeError(repository, CommitsFile, err)
	}
	if err := ctx.Err(); err != nil {
		return signals.Bundle{}, err
	}
	if b.PRs, err = signals.ReadFile(filepath.Join(dir, PullsFile), signals.DecodePRs); err != nil {
		return signals.Bundle{}, d.decodeError(repository, PullsFile, err)
	}
	if b.Issues, err = signals.ReadFile(filepath.Join(dir, IssuesFile), signals.DecodeIssues); err != nil {
		return signals.Bundle{}, d.decodeError(repository, IssuesFile, err)
	}
	if b.Releases, err = signals.ReadFile(filepath.Join(dir, ReleasesFile), signals.DecodeReleases); err != nil {
		return signals.Bundle{}, d.decodeError(repository, ReleasesFile, err)
	}

	total := b.Len()
	b = b.Within(w)
	slogutil.OrDiscard(d.Logger).Debug("Loaded signal export",
		"repository", repository,
		"records", total,
		"in_window", b.Len(),
	)
	return b, nil
}

// repoDir resolves repository under Root and refuses paths that escape it.
func (d *DirSource) repoDir(repository string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(repository))
	if repository == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Newf(errors.ConfigInvalid, "invalid repository name %q", repository)
	}
	return filepath.Join(d.Root, clean), nil
}

func (d *DirSource) decodeError(repository, file string, err error) error {
	return errors.Newf(errors.InsufficientData, "cannot read %s for %s", file, repository).
		WithDetails(map[string]string{"error": err.Error()})
}

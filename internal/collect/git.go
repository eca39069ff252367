package collect

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	godiff "github.com/sourcegraph/go-diff/diff"

	"precursor/internal/errors"
	"precursor/internal/signals"
	"precursor/internal/slogutil"
)

// DefaultGitTimeout bounds a single git invocation.
const DefaultGitTimeout = 60 * time.Second

// Separators for git --format output.
const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

// GitSource reads commits and release tags from local clones under Root.
// Pull requests and issues are not recorded in git and stay empty.
type GitSource struct {
	Root    string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewGitSource creates a source over clones in root.
func NewGitSource(root string, timeout time.Duration, logger *slog.Logger) *GitSource {
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	return &GitSource{Root: root, Timeout: timeout, Logger: slogutil.OrDiscard(logger)}
}

// Fetch runs git log with patches over w and lists tags created in w.
func (g *GitSource) Fetch(ctx context.Context, repository string, w signals.Window) (signals.Bundle, error) {
	if err := w.Validate(); err != nil {
		return signals.Bundle{}, err
	}
	dir := filepath.Join(g.Root, filepath.FromSlash(repository))
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return signals.Bundle{}, errors.Newf(errors.BackendUnavailable, "%s is not a git clone", dir)
	}

	logOut, err := g.run(ctx, dir,
		"log",
		"--no-merges",
		"--no-color",
		"--patch",
		"--date=iso-strict",
		"--since="+w.Since.Format(time.RFC3339),
		"--until="+w.Until.Format(time.RFC3339),
		"--format="+recordSep+"%H"+fieldSep+"%an"+fieldSep+"%aI"+fieldSep+"%B"+fieldSep,
	)
	if err != nil {
		return signals.Bundle{}, err
	}
	commits, err := parseLog(logOut)
	if err != nil {
		return signals.Bundle{}, err
	}

	tagOut, err := g.run(ctx, dir,
		"for-each-ref",
		"refs/tags",
		"--format=%(refname:short)"+fieldSep+"%(creatordate:iso-strict)"+fieldSep+"%(taggername)%(authorname)"+fieldSep+"%(subject)",
	)
	if err != nil {
		return signals.Bundle{}, err
	}
	releases := parseTags(tagOut)

	b := signals.Bundle{
		Package:  packageName(repository),
		Commits:  commits,
		PRs:      []signals.PRSignal{},
		Issues:   []signals.IssueSignal{},
		Releases: releases,
	}
	b = b.Within(w)

	slogutil.OrDiscard(g.Logger).Debug("Collected git history",
		"repository", repository,
		"commits", len(b.Commits),
		"releases", len(b.Releases),
	)
	return b, nil
}

// run executes git in dir under the source timeout.
func (g *GitSource) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slogutil.OrDiscard(g.Logger).Debug("Executing git command", "args", args[0], "dir", dir)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.Newf(errors.Timeout, "git %s timed out after %s", args[0], g.Timeout)
		}
		return "", errors.New(errors.BackendUnavailable,
			fmt.Sprintf("git %s failed: %s", args[0], strings.TrimSpace(stderr.String())), err)
	}
	return string(out), nil
}

// parseLog splits git log output into commits, oldest first. Each record is
// the header fields followed by the commit's patch.
func parseLog(out string) ([]signals.CommitSignal, error) {
	var commits []signals.CommitSignal
	for _, record := range strings.Split(out, recordSep) {
		if strings.TrimSpace(record) == "" {
			continue
		}
		fields := strings.SplitN(record, fieldSep, 5)
		if len(fields) < 4 {
			return nil, errors.Newf(errors.InternalError, "malformed git log record %.40q", record)
		}
		created, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, errors.New(errors.InternalError, "malformed commit date", err)
		}

		c := signals.CommitSignal{
			SHA:       strings.TrimSpace(fields[0]),
			Author:    fields[1],
			CreatedAt: created.UTC(),
			Message:   strings.TrimSpace(fields[3]),
		}
		if len(fields) == 5 {
			c.FilesChanged, c.Additions, c.Deletions = patchStats(fields[4])
		}
		commits = append(commits, c)
	}

	// git log lists newest first
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// patchStats counts changed files and lines in a unified diff. A patch
// go-diff cannot parse counts as empty.
func patchStats(patch string) (files []string, additions, deletions int) {
	patch = strings.TrimLeft(patch, "\n")
	if patch == "" {
		return nil, 0, 0
	}
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, 0, 0
	}

	for _, fd := range fileDiffs {
		name := cleanPath(fd.NewName)
		if name == "" || name == "/dev/null" {
			name = cleanPath(fd.OrigName)
		}
		if name != "" && name != "/dev/null" {
			files = append(files, name)
		}
		for _, h := range fd.Hunks {
			for _, line := range strings.Split(string(h.Body), "\n") {
				if line == "" {
					continue
				}
				switch line[0] {
				case '+':
					additions++
				case '-':
					deletions++
				}
			}
		}
	}
	return files, additions, deletions
}

// parseTags reads for-each-ref output into releases, oldest first.
func parseTags(out string) []signals.ReleaseSignal {
	var releases []signals.ReleaseSignal
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, fieldSep, 4)
		if len(fields) < 2 {
			continue
		}
		created, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		r := signals.ReleaseSignal{
			Version:    fields[0],
			CreatedAt:  created.UTC(),
			Prerelease: isPrerelease(fields[0]),
			Tags:       []string{fields[0]},
		}
		if len(fields) > 2 {
			r.Author = fields[2]
		}
		if len(fields) > 3 {
			r.Name = fields[3]
		}
		releases = append(releases, r)
	}
	slices.SortStableFunc(releases, func(a, b signals.ReleaseSignal) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return releases
}

// isPrerelease treats semver pre-release suffixes as pre-releases.
func isPrerelease(tag string) bool {
	v := strings.TrimPrefix(tag, "v")
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	return strings.Contains(v, "-")
}

// cleanPath removes the a/ or b/ prefix from git diff paths
func cleanPath(path string) string {
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

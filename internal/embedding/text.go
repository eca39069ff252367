package embedding

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"precursor/internal/signals"
)

// Truncate cuts s to at most maxChars runes without splitting a code
// point. maxChars <= 0 disables truncation.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

// Compose renders the text of a bundle for embedding: a package header
// followed by the most recent commit messages, pull request and issue
// titles and release names. The result is truncated to maxChars.
func Compose(b signals.Bundle, maxChars int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "package: %s\n", b.Package)

	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n%s:\n", title)
		for _, l := range lines {
			l = strings.TrimSpace(firstLine(l))
			if l == "" {
				continue
			}
			sb.WriteString("- ")
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}

	commits := make([]string, 0, len(b.Commits))
	for i := len(b.Commits) - 1; i >= 0; i-- {
		commits = append(commits, b.Commits[i].Message)
	}
	prs := make([]string, 0, len(b.PRs))
	for i := len(b.PRs) - 1; i >= 0; i-- {
		prs = append(prs, b.PRs[i].Title)
	}
	issues := make([]string, 0, len(b.Issues))
	for i := len(b.Issues) - 1; i >= 0; i-- {
		issues = append(issues, b.Issues[i].Title)
	}
	releases := make([]string, 0, len(b.Releases))
	for i := len(b.Releases) - 1; i >= 0; i-- {
		r := b.Releases[i]
		releases = append(releases, strings.TrimSpace(r.Version+" "+r.Name))
	}

	section("commits", commits)
	section("pull requests", prs)
	section("issues", issues)
	section("releases", releases)
	return Truncate(sb.String(), maxChars)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

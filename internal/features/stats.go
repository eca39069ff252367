package features

import (
	"path/filepath"
	"slices"
	"strings"
)

// Gini computes the Gini coefficient of values:
//
//	G = (2 * sum(i * v_i)) / (n * sum(v)) - (n + 1) / n
//
// over values sorted ascending with 1-based i. It is 0 for an empty or
// all-zero distribution and is clamped to [0, 1].
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum, weighted float64
	for i, v := range sorted {
		sum += v
		weighted += float64(i+1) * v
	}
	if sum == 0 {
		return 0
	}

	nf := float64(n)
	g := (2*weighted)/(nf*sum) - (nf+1)/nf
	switch {
	case g < 0:
		return 0
	case g > 1:
		return 1
	}
	return g
}

// FileKind is the category a changed path falls into.
type FileKind int

const (
	FileOther FileKind = iota
	FileLanguage
	FileTest
	FileDoc
	FileConfig
)

var languageExts = map[string]bool{
	".go": true, ".java": true, ".kt": true, ".scala": true, ".py": true,
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true,
	".c": true, ".h": true, ".cc": true, ".cpp": true, ".hpp": true,
	".rs": true, ".rb": true, ".php": true, ".cs": true, ".swift": true,
	".m": true, ".sh": true, ".pl": true, ".lua": true, ".dart": true,
}

var docExts = map[string]bool{
	".md": true, ".rst": true, ".txt": true, ".adoc": true, ".html": true,
}

var configExts = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".xml": true,
	".ini": true, ".cfg": true, ".conf": true, ".properties": true,
	".gradle": true, ".lock": true,
}

var configNames = map[string]bool{
	"makefile": true, "dockerfile": true, "go.mod": true, "go.sum": true,
	"package.json": true, "pom.xml": true, "cargo.toml": true,
	"requirements.txt": true, "setup.py": true, ".gitignore": true,
}

// ClassifyFile buckets a changed path. Tests win over language so that
// foo_test.go counts as a test file.
func ClassifyFile(path string) FileKind {
	p := strings.ToLower(filepath.ToSlash(path))
	base := filepath.Base(p)
	ext := filepath.Ext(base)

	switch {
	case isTestPath(p, base):
		return FileTest
	case configNames[base]:
		return FileConfig
	case docExts[ext] || strings.HasPrefix(p, "docs/") || strings.Contains(p, "/docs/"):
		return FileDoc
	case configExts[ext]:
		return FileConfig
	case languageExts[ext]:
		return FileLanguage
	}
	return FileOther
}

func isTestPath(p, base string) bool {
	if strings.Contains(p, "/test/") || strings.Contains(p, "/tests/") ||
		strings.HasPrefix(p, "test/") || strings.HasPrefix(p, "tests/") {
		return true
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.HasSuffix(stem, "_test") || strings.HasPrefix(stem, "test_") ||
		strings.HasSuffix(stem, ".test") || strings.HasSuffix(stem, ".spec")
}

// fileCounts tallies file-change mentions per kind.
type fileCounts struct {
	total int
	kinds [5]int
}

func (f *fileCounts) add(path string) {
	f.total++
	f.kinds[ClassifyFile(path)]++
}

// ratios returns the four file ratios, all 0 when no files were seen.
func (f *fileCounts) ratios() map[string]float64 {
	out := zeros(FileLanguageRatio, FileTestRatio, FileDocRatio, FileConfigRatio)
	if f.total == 0 {
		return out
	}
	t := float64(f.total)
	out[FileLanguageRatio] = float64(f.kinds[FileLanguage]) / t
	out[FileTestRatio] = float64(f.kinds[FileTest]) / t
	out[FileDocRatio] = float64(f.kinds[FileDoc]) / t
	out[FileConfigRatio] = float64(f.kinds[FileConfig]) / t
	return out
}

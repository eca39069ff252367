// Package watchlist reads PACKAGES.toml, the list of packages to score.
package watchlist

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"precursor/internal/errors"
)

// DefaultFile is the default watch list filename
const DefaultFile = "PACKAGES.toml"

// PackageDeclaration is one [[package]] entry.
type PackageDeclaration struct {
	// Name is the package name reported in scores (defaults to the repository base name)
	Name string `toml:"name,omitempty"`

	// Repository is the "owner/name" key the signal source understands
	Repository string `toml:"repository"`

	// Cutoff scores the package as of this date (RFC 3339 or YYYY-MM-DD); empty means now
	Cutoff string `toml:"cutoff,omitempty"`

	// Tags are free-form labels carried into reports
	Tags []string `toml:"tags,omitempty"`
}

// File is the root structure of PACKAGES.toml
type File struct {
	Version  int                  `toml:"version"`
	Packages []PackageDeclaration `toml:"package"`
}

// Entry is a validated declaration.
type Entry struct {
	Name       string
	Repository string
	Cutoff     time.Time // zero means "now"
	Tags       []string
}

// CutoffOr returns the entry's cutoff, or now when none is declared.
func (e Entry) CutoffOr(now time.Time) time.Time {
	if e.Cutoff.IsZero() {
		return now
	}
	return e.Cutoff
}

// ParseFile parses a watch list from path.
func ParseFile(filePath string) (*File, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(filePath), err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.New(errors.ConfigInvalid, fmt.Sprintf("failed to parse %s", filepath.Base(filePath)), err)
	}
	if f.Version < 1 {
		f.Version = 1
	}
	return &f, nil
}

// Load reads and validates the watch list at filePath.
func Load(filePath string) ([]Entry, error) {
	f, err := ParseFile(filePath)
	if err != nil {
		return nil, err
	}
	return f.Entries()
}

// Entries validates the declarations: each needs a repository, names must
// be unique and cutoffs must parse.
func (f *File) Entries() ([]Entry, error) {
	seen := make(map[string]bool, len(f.Packages))
	out := make([]Entry, 0, len(f.Packages))

	for i, decl := range f.Packages {
		repo := strings.Trim(strings.TrimSpace(decl.Repository), "/")
		if repo == "" {
			return nil, errors.Newf(errors.ConfigInvalid, "package %d is missing required 'repository' field", i+1)
		}

		name := decl.Name
		if name == "" {
			name = path.Base(repo)
		}
		if seen[name] {
			return nil, errors.Newf(errors.ConfigInvalid, "package %q is declared twice", name)
		}
		seen[name] = true

		e := Entry{Name: name, Repository: repo, Tags: decl.Tags}
		if decl.Cutoff != "" {
			cutoff, err := parseDate(decl.Cutoff)
			if err != nil {
				return nil, errors.Newf(errors.ConfigInvalid, "package %q has invalid cutoff %q", name, decl.Cutoff)
			}
			e.Cutoff = cutoff
		}
		out = append(out, e)
	}
	return out, nil
}

// Write saves f to filePath.
func Write(filePath string, f *File) error {
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(filePath), err)
	}
	return os.WriteFile(filePath, data, 0644)
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// Package cases loads the historical vulnerability dataset used for
// training and back-testing.
package cases

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Case is one historical vulnerability, or a control project that never
// had one.
type Case struct {
	// ID is the advisory identifier, e.g. CVE-2021-44228.
	ID string `toml:"id" json:"id"`

	// Repository is the owner/name used by signal collectors.
	Repository string `toml:"repository" json:"repository"`

	// Package is the distributed package name. Defaults to Repository.
	Package string `toml:"package,omitempty" json:"package,omitempty"`

	// Severity is the CVSS base score (0-10), when known.
	Severity *float64 `toml:"severity,omitempty" json:"severity,omitempty"`

	// DisclosureDate is kept raw; the temporal splitter parses it and
	// marks unparseable dates as invalid splits.
	DisclosureDate string `toml:"disclosure_date" json:"disclosure_date"`

	// Weaknesses are CWE identifiers.
	Weaknesses []string `toml:"weaknesses,omitempty" json:"weaknesses,omitempty"`

	// Control marks a project with no materialised vulnerability.
	Control bool `toml:"control,omitempty" json:"control,omitempty"`
}

// PackageName returns Package, falling back to Repository.
func (c Case) PackageName() string {
	if c.Package != "" {
		return c.Package
	}
	return c.Repository
}

// File is the on-disk dataset layout.
type File struct {
	Version int    `toml:"version" json:"version"`
	Cases   []Case `toml:"case" json:"cases"`
}

// Load reads a dataset from a .toml or .json file.
func Load(path string) ([]Case, error) {
	var (
		f   File
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err = toml.DecodeFile(path, &f)
	case ".json":
		f, err = loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported case file %q: want .toml or .json", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse case file %s: %w", path, err)
	}

	if err := Validate(f.Cases); err != nil {
		return nil, fmt.Errorf("invalid case file %s: %w", path, err)
	}
	return f.Cases, nil
}

// loadJSON accepts either {"cases": [...]} or a bare array.
func loadJSON(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &f.Cases)
	} else {
		err = json.Unmarshal(data, &f)
	}
	return f, err
}

// Validate checks required fields and id uniqueness. Disclosure dates are
// not checked here.
func Validate(cs []Case) error {
	seen := make(map[string]bool, len(cs))
	for i, c := range cs {
		if c.ID == "" {
			return fmt.Errorf("case %d: missing id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("case %q: duplicate id", c.ID)
		}
		seen[c.ID] = true
		if c.Repository == "" {
			return fmt.Errorf("case %q: missing repository", c.ID)
		}
		if c.Severity != nil && (*c.Severity < 0 || *c.Severity > 10) {
			return fmt.Errorf("case %q: severity %v outside 0-10", c.ID, *c.Severity)
		}
	}
	return nil
}

// Save writes cases as TOML.
func Save(path string, cs []Case) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create case file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(File{Version: 1, Cases: cs}); err != nil {
		return fmt.Errorf("failed to encode cases: %w", err)
	}
	return nil
}

// Split separates vulnerable cases from controls.
func Split(cs []Case) (vulnerable, controls []Case) {
	for _, c := range cs {
		if c.Control {
			controls = append(controls, c)
		} else {
			vulnerable = append(vulnerable, c)
		}
	}
	return vulnerable, controls
}

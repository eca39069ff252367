// Package collect fetches activity signals for a repository. Every source
// validates the window before touching disk or the network.
package collect

import (
	"context"
	"path"
	"strings"

	"precursor/internal/signals"
)

// Source fetches the signals of repository recorded in w.
type Source interface {
	Fetch(ctx context.Context, repository string, w signals.Window) (signals.Bundle, error)
}

// packageName derives a default package name from "owner/name".
func packageName(repository string) string {
	return path.Base(strings.TrimSuffix(repository, "/"))
}

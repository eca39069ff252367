// Package version holds build information for precursor binaries.
package version

// Overridable at build time:
// go build -ldflags "-X precursor/internal/version.Version=1.0.0 -X precursor/internal/version.Commit=abc123"
var (
	// Version is the semantic version of precursor
	Version = "0.4.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// SnapshotFormat is bumped whenever the persisted model snapshot layout changes.
const SnapshotFormat = 1

// Info returns a formatted version string
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// UserAgent identifies precursor to upstream APIs.
func UserAgent() string {
	return "precursor/" + Version
}

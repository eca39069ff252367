package collect

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"precursor/internal/errors"
	"precursor/internal/signals"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func window(t *testing.T, since, until string) signals.Window {
	t.Helper()
	s, _ := time.Parse(time.RFC3339, since)
	u, _ := time.Parse(time.RFC3339, until)
	w, err := signals.NewWindow(s, u)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestDirSource_Fetch(t *testing.T) {
	root := t.TempDir()
	repo := filepath.Join(root, "acme", "widget")
	writeFile(t, filepath.Join(repo, CommitsFile), `[
		{"sha": "b", "author": "ann", "created_at": "2023-03-02T10:00:00Z", "message": "second"},
		{"sha": "a", "author": "bob", "created_at": "2023-03-01T10:00:00Z", "message": "first"},
		{"sha": "z", "author": "bob", "created_at": "2023-09-01T10:00:00Z", "message": "too late"}
	]`)
	writeFile(t, filepath.Join(repo, ReleasesFile), `[
		{"version": "v1.0.0", "author": "ann", "created_at": "2023-03-05T00:00:00Z"}
	]`)

	src := NewDirSource(root, nil)
	b, err := src.Fetch(context.Background(), "acme/widget", window(t, "2023-01-01T00:00:00Z", "2023-06-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if b.Package != "widget" {
		t.Errorf("Package = %q, want widget", b.Package)
	}
	if len(b.Commits) != 2 {
		t.Fatalf("len(Commits) = %d, want 2", len(b.Commits))
	}
	if b.Commits[0].SHA != "a" {
		t.Errorf("Commits[0] = %q, want oldest first", b.Commits[0].SHA)
	}
	if len(b.Releases) != 1 || len(b.PRs) != 0 || len(b.Issues) != 0 {
		t.Errorf("counts = %v", b.Counts())
	}
}

func TestDirSource_Errors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "broken", CommitsFile), `{"not": "an array"}`)
	src := NewDirSource(root, nil)
	w := window(t, "2023-01-01T00:00:00Z", "2023-06-01T00:00:00Z")

	tests := []struct {
		name string
		repo string
		w    signals.Window
		want errors.ErrorCode
	}{
		{"inverted window", "broken", signals.Window{Since: w.Until, Until: w.Since}, errors.InvalidTimeRange},
		{"missing repository", "nobody/nothing", w, errors.BackendUnavailable},
		{"escaping path", "../etc", w, errors.ConfigInvalid},
		{"empty name", "", w, errors.ConfigInvalid},
		{"malformed export", "broken", w, errors.InsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := src.Fetch(context.Background(), tt.repo, tt.w)
			if !errors.IsCode(err, tt.want) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDirSource_ValidatesWindowBeforeIO(t *testing.T) {
	// The root does not exist: only the window check can produce this code.
	src := NewDirSource(filepath.Join(t.TempDir(), "absent"), nil)
	now := time.Now()
	_, err := src.Fetch(context.Background(), "x/y", signals.Window{Since: now, Until: now})
	if !errors.IsCode(err, errors.InvalidTimeRange) {
		t.Errorf("Fetch() error = %v, want INVALID_TIME_RANGE", err)
	}
}

const sampleLog = "\x1e" + "bbb" + "\x1f" + "Ann" + "\x1f" + "2023-03-02T10:00:00+02:00" + "\x1f" + "Fix overflow\n\nDetails here.\n" + "\x1f" + `
diff --git a/src/parse.c b/src/parse.c
index 1111111..2222222 100644
--- a/src/parse.c
+++ b/src/parse.c
@@ -1,3 +1,4 @@
 int parse() {
-  return 0;
+  check();
+  return 1;
 }
` + "\x1e" + "aaa" + "\x1f" + "Bob" + "\x1f" + "2023-03-01T09:00:00Z" + "\x1f" + "Add docs\n" + "\x1f" + `
diff --git a/README.md b/README.md
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/README.md
@@ -0,0 +1,2 @@
+# Widget
+Usage.
`

func TestParseLog(t *testing.T) {
	commits, err := parseLog(sampleLog)
	if err != nil {
		t.Fatalf("parseLog() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("len(commits) = %d, want 2", len(commits))
	}

	first, second := commits[0], commits[1]
	if first.SHA != "aaa" || second.SHA != "bbb" {
		t.Errorf("order = %s, %s; want oldest first", first.SHA, second.SHA)
	}
	if first.Additions != 2 || first.Deletions != 0 {
		t.Errorf("first stats = +%d -%d, want +2 -0", first.Additions, first.Deletions)
	}
	if len(first.FilesChanged) != 1 || first.FilesChanged[0] != "README.md" {
		t.Errorf("first files = %v", first.FilesChanged)
	}
	if second.Additions != 2 || second.Deletions != 1 {
		t.Errorf("second stats = +%d -%d, want +2 -1", second.Additions, second.Deletions)
	}
	if !strings.HasPrefix(second.Message, "Fix overflow") {
		t.Errorf("Message = %q", second.Message)
	}
	if second.CreatedAt.Hour() != 8 || second.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want 08:00 UTC", second.CreatedAt)
	}
}

func TestParseLog_Malformed(t *testing.T) {
	if _, err := parseLog("\x1eonly-a-hash"); err == nil {
		t.Error("expected error for truncated record")
	}
	if _, err := parseLog("\x1ea\x1fb\x1fnot-a-date\x1fmsg\x1f"); err == nil {
		t.Error("expected error for bad date")
	}
}

func TestParseTags(t *testing.T) {
	out := "v1.1.0-rc1\x1f2023-05-01T00:00:00Z\x1fAnn\x1fRelease candidate\n" +
		"v1.0.0\x1f2023-04-01T00:00:00Z\x1fAnn\x1fFirst release\n" +
		"broken\x1fyesterday\n"

	rs := parseTags(out)
	if len(rs) != 2 {
		t.Fatalf("len = %d, want 2", len(rs))
	}
	if rs[0].Version != "v1.0.0" || rs[0].Prerelease {
		t.Errorf("rs[0] = %+v", rs[0])
	}
	if !rs[1].Prerelease || rs[1].Name != "Release candidate" {
		t.Errorf("rs[1] = %+v", rs[1])
	}
}

func TestIsPrerelease(t *testing.T) {
	tests := map[string]bool{
		"v1.0.0":        false,
		"1.2.3-beta.1":  true,
		"v2.0.0+build5": false,
		"v2.0.0-rc1+b":  true,
	}
	for tag, want := range tests {
		if got := isPrerelease(tag); got != want {
			t.Errorf("isPrerelease(%q) = %v, want %v", tag, got, want)
		}
	}
}

func TestGitSource_Fetch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := t.TempDir()
	repo := filepath.Join(root, "acme", "lib")
	if err := os.MkdirAll(repo, 0755); err != nil {
		t.Fatal(err)
	}
	git := func(env []string, args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=Ann", "-c", "user.email=ann@example.com", "-c", "commit.gpgsign=false", "-c", "tag.gpgsign=false"}, args...)...)
		cmd.Dir = repo
		cmd.Env = append(os.Environ(), env...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	dated := func(ts string) []string {
		return []string{"GIT_AUTHOR_DATE=" + ts, "GIT_COMMITTER_DATE=" + ts}
	}

	git(nil, "init", "-q")
	writeFile(t, filepath.Join(repo, "main.go"), "package main\n")
	git(nil, "add", ".")
	git(dated("2023-02-01T12:00:00Z"), "commit", "-q", "-m", "initial")
	writeFile(t, filepath.Join(repo, "main.go"), "package main\n\nfunc main() {}\n")
	git(nil, "add", ".")
	git(dated("2023-03-01T12:00:00Z"), "commit", "-q", "-m", "add main")
	git(dated("2023-03-01T12:00:00Z"), "tag", "-a", "v0.1.0", "-m", "first")

	src := NewGitSource(root, 0, nil)
	b, err := src.Fetch(context.Background(), "acme/lib", window(t, "2023-01-01T00:00:00Z", "2023-06-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(b.Commits) != 2 {
		t.Fatalf("len(Commits) = %d, want 2", len(b.Commits))
	}
	if b.Commits[1].Message != "add main" || b.Commits[1].Additions != 2 {
		t.Errorf("Commits[1] = %+v", b.Commits[1])
	}
	if len(b.Releases) != 1 || b.Releases[0].Version != "v0.1.0" {
		t.Errorf("Releases = %+v", b.Releases)
	}

	_, err = src.Fetch(context.Background(), "acme/missing", window(t, "2023-01-01T00:00:00Z", "2023-06-01T00:00:00Z"))
	if !errors.IsCode(err, errors.BackendUnavailable) {
		t.Errorf("missing clone error = %v, want BACKEND_UNAVAILABLE", err)
	}
}

package rosebuild

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeScript writes an executable shell script.
func writeScript(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// fakeBoost creates a boost prefix with include/ and the given lib dirs.
func fakeBoost(t *testing.T, libDirs ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "boost")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "include", "boost"), 0o755))
	for _, l := range libDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, l), 0o755))
	}
	return dir
}

// fakeJDK creates a JDK with lib/server/libjvm.so.
func fakeJDK(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "jdk")
	server := filepath.Join(home, "lib", "server")
	require.NoError(t, os.MkdirAll(server, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(server, "libjvm.so"), nil, 0o644))
	return home
}

// fakeConfigure is a configure script that records its arguments and
// writes a Makefile naming the install prefix.
const fakeConfigure = `for a in "$@"; do
  case "$a" in --prefix=*) prefix="${a#--prefix=}";; esac
done
echo "PREFIX=$prefix" > Makefile
echo "$@" > configure.args
`

// fakeMakeBody builds by writing built.txt and installs bin/rose-tool.
const fakeMakeBody = `prefix=$(sed -n 's/^PREFIX=//p' Makefile)
case "$1" in
  install)
    mkdir -p "$prefix/bin" && cp built.txt "$prefix/bin/rose-tool" ;;
  *)
    echo "built $1" > built.txt ;;
esac
`

func fakeMake(t *testing.T) string {
	t.Helper()
	return writeScript(t, filepath.Join(t.TempDir(), "bin", "make"), fakeMakeBody)
}

func testEnv(t *testing.T) *ResolvedEnv {
	t.Helper()
	boost := fakeBoost(t, "lib")
	jdk := fakeJDK(t)
	return &ResolvedEnv{
		Boost:          boost,
		BoostLib:       filepath.Join(boost, "lib"),
		JavaHome:       jdk,
		LibraryPathVar: "LD_LIBRARY_PATH",
		LibraryPath:    filepath.Join(jdk, "lib", "server"),
	}
}

func testConfig(root string) *Config {
	cfg := &Config{Root: root}
	applyDefaults(cfg)
	return cfg
}

// fakeGit replaces the git binary with a script printing a fixed revision.
func fakeGit(t *testing.T, rev string) {
	t.Helper()
	bin := writeScript(t, filepath.Join(t.TempDir(), "git"), "echo "+rev+"\n")
	old := gitBin
	gitBin = bin
	t.Cleanup(func() { gitBin = old })
}

// fakeCheckout creates src/<name> with a .git dir and a configure script.
func fakeCheckout(t *testing.T, ws Workspace, name string) string {
	t.Helper()
	dir := filepath.Join(ws.SrcRoot(), name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	writeScript(t, filepath.Join(dir, "configure"), fakeConfigure)
	return dir
}

// newTestRunner wires a runner over a fresh VCS workspace with a fake
// checkout at revision rev.
func newTestRunner(t *testing.T, rev string) (*Runner, *bytes.Buffer) {
	t.Helper()
	fakeGit(t, rev)
	ws := NewWorkspace(filepath.Join(t.TempDir(), "vcs-rose"))
	require.NoError(t, ws.Ensure())
	fakeCheckout(t, ws, "rose")

	cfg := testConfig(filepath.Dir(ws.Root))
	cfg.MakeCommand = fakeMake(t)

	var out bytes.Buffer
	return &Runner{
		Layout: NewLayout(ws, VersionControlled("rose", "unused")),
		Env:    testEnv(t),
		Exec:   NewExecutor(context.Background(), nil, &out, &out),
		Policy: autoAccept{},
		Config: cfg,
		Jobs:   2,
	}, &out
}

// setMTime sets the modification time of path.
func setMTime(t *testing.T, path string, mt time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mt, mt))
}

// requireGit skips tests that need a real git binary.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// runGit runs a real git command in dir.
func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	base := []string{"-c", "user.name=rosebuild", "-c", "user.email=rosebuild@example.com",
		"-c", "init.defaultBranch=main", "-c", "commit.gpgsign=false"}
	cmd := exec.Command("git", append(base, args...)...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

// newLineReader feeds the given answers, one per line.
func newLineReader(answers ...string) *strings.Reader {
	return strings.NewReader(strings.Join(answers, "\n") + "\n")
}

package rosebuild

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliFixture struct {
	app    *App
	cfg    *Config
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newCLIFixture(t *testing.T, stdin string) *cliFixture {
	t.Helper()
	cfg := testConfig(filepath.Join(t.TempDir(), "root"))
	cfg.Boost = fakeBoost(t, "lib64")
	cfg.JavaHome = fakeJDK(t)
	cfg.MakeCommand = fakeMake(t)

	f := &cliFixture{cfg: cfg, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	f.app = &App{
		Stdin:       strings.NewReader(stdin),
		Stdout:      f.stdout,
		Stderr:      f.stderr,
		Config:      cfg,
		NewResolver: NewEnvResolver,
		Now:         time.Now,
	}
	return f
}

func (f *cliFixture) run(args ...string) int {
	return execute(context.Background(), f.app, args)
}

func TestCLIHelp(t *testing.T) {
	f := newCLIFixture(t, "")
	assert.Equal(t, 0, f.run("-h"))
	assert.Contains(t, f.stdout.String(), "--unattended")
	assert.NoDirExists(t, f.cfg.Root)
}

func TestCLIUnknownFlag(t *testing.T) {
	f := newCLIFixture(t, "")
	assert.Equal(t, 1, f.run("--frobnicate"))
	assert.Contains(t, f.stdout.String(), "Usage:")
	assert.Contains(t, f.stderr.String(), "unknown flag")
	assert.NoDirExists(t, f.cfg.Root)
}

func TestCLIInvalidSelection(t *testing.T) {
	for _, sel := range []string{"0", "9"} {
		t.Run(sel, func(t *testing.T) {
			f := newCLIFixture(t, "")
			assert.Equal(t, 1, f.run("-u", "-s", sel))
			assert.Contains(t, f.stderr.String(), "invalid selection")
			assert.NoDirExists(t, f.cfg.Root)
		})
	}

	f := newCLIFixture(t, "7\n")
	assert.Equal(t, 1, f.run())
	assert.Contains(t, f.stderr.String(), "invalid selection")
	assert.NoDirExists(t, f.cfg.Root)
}

func TestCLISelectionCheckedBeforeResolve(t *testing.T) {
	f := newCLIFixture(t, "y\n")
	f.cfg.JavaHome = ""
	resolverBuilt := false
	f.app.NewResolver = func(p ConfirmationPolicy) *EnvResolver {
		resolverBuilt = true
		r := NewEnvResolver(p)
		r.Getenv = func(string) string { return "" }
		r.Candidates = []string{fakeJDK(t)}
		return r
	}

	assert.Equal(t, 1, f.run("-s", "9"))
	assert.Contains(t, f.stderr.String(), "invalid selection")
	assert.False(t, resolverBuilt, "environment resolved for an invalid selection")
	assert.NoDirExists(t, f.cfg.Root)
}

// pipedStdin returns the read end of a pipe holding input.
func pipedStdin(t *testing.T, input string) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	_, err = w.WriteString(input)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return r
}

func TestCLIPipedSelection(t *testing.T) {
	f := newCLIFixture(t, "")
	f.cfg.Repository = filepath.Join(t.TempDir(), "missing", "rose")
	f.app.Stdin = pipedStdin(t, "3\n")

	assert.Equal(t, 1, f.run())
	assert.Contains(t, f.stderr.String(), "build: no source")
	assert.NotContains(t, f.stderr.String(), "acquire:")
}

func TestCLIPipedEOFRunsAll(t *testing.T) {
	f := newCLIFixture(t, "")
	f.cfg.Repository = filepath.Join(t.TempDir(), "missing", "rose")
	f.app.Stdin = pipedStdin(t, "")

	assert.Equal(t, 1, f.run())
	assert.Contains(t, f.stderr.String(), "acquire:")
}

func TestCLIMissingBoost(t *testing.T) {
	f := newCLIFixture(t, "")
	assert.Equal(t, 1, f.run("-u", "-b", filepath.Join(t.TempDir(), "no-boost")))
	assert.Contains(t, f.stderr.String(), "missing dependency")
	assert.Contains(t, f.stderr.String(), "hint:")
	assert.NoDirExists(t, f.cfg.Root)
}

func TestCLIStageWithoutSource(t *testing.T) {
	f := newCLIFixture(t, "")
	assert.Equal(t, 1, f.run("-u", "-s", "configure"))
	assert.Contains(t, f.stderr.String(), "no source")

	ws := NewWorkspace(filepath.Join(f.cfg.Root, "vcs-rose"))
	logs, err := os.ReadDir(ws.LogsDir())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	data, err := os.ReadFile(filepath.Join(ws.LogsDir(), logs[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "session failed")
}

func TestCLIArchiveModeWorkspace(t *testing.T) {
	f := newCLIFixture(t, "")
	srv := archiveServer(t, map[string]string{})
	f.cfg.ArchiveIndex = srv.URL + "/frs/"

	assert.Equal(t, 1, f.run("-t", "-u", "-s", "1"))
	assert.Contains(t, f.stderr.String(), "acquire failed")
	assert.DirExists(t, filepath.Join(f.cfg.Root, "archive", "logs"))
	assert.NoDirExists(t, filepath.Join(f.cfg.Root, "vcs-rose"))
}

func TestCLIEmptyGitSelectsArchive(t *testing.T) {
	f := newCLIFixture(t, "")
	srv := archiveServer(t, map[string]string{})
	f.cfg.ArchiveIndex = srv.URL + "/frs/"

	assert.Equal(t, 1, f.run("-g", "", "-u", "-s", "acquire"))
	assert.DirExists(t, filepath.Join(f.cfg.Root, "archive"))
}

// remoteRepo creates a git repository holding a package with a bootstrap
// script that generates configure.
func remoteRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote", "rose")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	runGit(t, dir, "init")
	writeScript(t, filepath.Join(dir, "build"),
		"printf '#!/bin/sh\\n' > configure\ncat configure.in >> configure\nchmod +x configure\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configure.in"), []byte(fakeConfigure), 0o644))
	runGit(t, dir, "add", "build", "configure.in")
	runGit(t, dir, "commit", "-m", "rose")
	return dir
}

func TestCLIRunAllFromGit(t *testing.T) {
	requireGit(t)
	f := newCLIFixture(t, "")
	f.cfg.Repository = remoteRepo(t)

	require.Equal(t, 0, f.run("-u"), f.stderr.String())

	origin := VersionControlled(f.cfg.Repository, f.cfg.Repository)
	ws := NewWorkspace(filepath.Join(f.cfg.Root, origin.WorkspaceName()))
	layout := NewLayout(ws, origin)
	commit, err := layout.Identity(context.Background())
	require.NoError(t, err)
	assert.Len(t, commit, 40)

	assert.FileExists(t, filepath.Join(ws.SrcRoot(), "rose", "configure"))
	assert.FileExists(t, filepath.Join(ws.BuildRoot(), commit, "Makefile"))
	assert.FileExists(t, filepath.Join(ws.BuildRoot(), commit, "built.txt"))
	assert.FileExists(t, filepath.Join(ws.InstallRoot(), commit, "bin", "rose-tool"))

	target, err := layout.LatestTarget()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.InstallRoot(), commit), target)
	assert.FileExists(t, filepath.Join(ws.LatestLink(), "bin", "rose-tool"))

	logs, err := os.ReadDir(ws.LogsDir())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	data, err := os.ReadFile(filepath.Join(ws.LogsDir(), logs[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "session completed")
	assert.Contains(t, string(data), "Configuring "+commit)

	// A second run pulls, rebuilds the same identity and keeps latest valid.
	require.Equal(t, 0, f.run("-u", "-s", "6"), f.stderr.String())
	assert.FileExists(t, filepath.Join(ws.LatestLink(), "bin", "rose-tool"))
}

func TestCLIViewLog(t *testing.T) {
	f := newCLIFixture(t, "")
	ws := NewWorkspace(filepath.Join(f.cfg.Root, "vcs-rose"))
	require.NoError(t, ws.Ensure())
	require.NoError(t, os.WriteFile(filepath.Join(ws.LogsDir(), "session-20240101-000000.log"),
		[]byte("configure done\n"), 0o644))

	// Test output is not a terminal, so the log is printed.
	assert.Equal(t, 0, f.run("-l"))
}

package rosebuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureRecreatesBuildDir(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	ctx := context.Background()

	require.NoError(t, r.Configure(ctx))
	buildDir, err := r.Layout.BuildDir(ctx)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(buildDir, "Makefile"))

	stale := filepath.Join(buildDir, "stale.o")
	require.NoError(t, os.WriteFile(stale, nil, 0o644))

	require.NoError(t, r.Configure(ctx))
	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(buildDir, "Makefile"))

	args, err := os.ReadFile(filepath.Join(buildDir, "configure.args"))
	require.NoError(t, err)
	prefix, _ := r.Layout.InstallPrefix(ctx)
	assert.Contains(t, string(args), "--prefix="+prefix)
	assert.Contains(t, string(args), "--with-boost="+r.Env.Boost)
	assert.Contains(t, string(args), "--with-boost-libdir="+r.Env.BoostLib)
	assert.Contains(t, string(args), "--with-java="+r.Env.JavaHome)
	assert.Contains(t, string(args), "--with-CXX_DEBUG=-g")
}

func TestConfigureExtraArgs(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	r.Config.ConfigureArgs = []string{"--enable-languages=c,c++"}
	require.NoError(t, r.Configure(context.Background()))

	buildDir, _ := r.Layout.BuildDir(context.Background())
	args, err := os.ReadFile(filepath.Join(buildDir, "configure.args"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(args)), "--enable-languages=c,c++"))
}

func TestConfigureDeclined(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	require.NoError(t, r.Configure(context.Background()))
	buildDir, err := r.Layout.BuildDir(context.Background())
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(buildDir, "Makefile"))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "objects.o"), []byte("obj"), 0o644))

	r.Policy = NewConfirmationPolicy(false, strings.NewReader("n\n"))
	err = r.Configure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigureFailed))

	// Declining leaves the previous build tree untouched.
	assert.FileExists(t, filepath.Join(buildDir, "Makefile"))
	assert.FileExists(t, filepath.Join(buildDir, "objects.o"))
}

func TestConfigureFailure(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	src, err := r.Layout.SourceDir(context.Background())
	require.NoError(t, err)
	writeScript(t, filepath.Join(src, "configure"), "echo boom >&2\nexit 3\n")

	err = r.Configure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigureFailed))
	assert.Contains(t, hintOf(err), "config.log")
}

func TestConfigureWithoutSource(t *testing.T) {
	fakeGit(t, "c0ffee")
	ws := NewWorkspace(t.TempDir())
	require.NoError(t, ws.Ensure())
	r := &Runner{
		Layout: NewLayout(ws, VersionControlled("rose", "")),
		Env:    testEnv(t),
		Exec:   NewExecutor(context.Background(), nil, nil, nil),
		Policy: autoAccept{},
		Config: testConfig(ws.Root),
	}

	err := r.Configure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSource))

	entries, err := os.ReadDir(ws.BuildRoot())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildWithoutMakefile(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	err := r.Build(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuildReported))
}

func TestBuildUsesJobs(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	r.Jobs = 3
	ctx := context.Background()
	require.NoError(t, r.Configure(ctx))
	require.NoError(t, r.Build(ctx))

	buildDir, _ := r.Layout.BuildDir(ctx)
	built, err := os.ReadFile(filepath.Join(buildDir, "built.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built -j3\n", string(built))
}

func TestInstallTwiceKeepsLatestValid(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	ctx := context.Background()
	require.NoError(t, r.Configure(ctx))
	require.NoError(t, r.Build(ctx))

	require.NoError(t, r.Install(ctx))
	prefix, _ := r.Layout.InstallPrefix(ctx)
	stale := filepath.Join(prefix, "stale")
	require.NoError(t, os.WriteFile(stale, nil, 0o644))

	require.NoError(t, r.Install(ctx))
	assert.NoFileExists(t, stale)

	target, err := r.Layout.LatestTarget()
	require.NoError(t, err)
	assert.Equal(t, prefix, target)
	assert.FileExists(t, filepath.Join(r.Layout.Workspace.LatestLink(), "bin", "rose-tool"))
}

func TestInstallWithoutBuildDir(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	err := r.Install(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInstallFailed))
	_, statErr := os.Lstat(r.Layout.Workspace.LatestLink())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunAllContinuesAfterBuildFailure(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	// The checkout exists, so acquire is a pull answered by the fake git.
	failingMake := writeScript(t, filepath.Join(t.TempDir(), "make"),
		`case "$1" in
  install) prefix=$(sed -n 's/^PREFIX=//p' Makefile); mkdir -p "$prefix" ;;
  *) exit 2 ;;
esac
`)
	r.Config.MakeCommand = failingMake

	require.NoError(t, r.RunAll(context.Background()))
	target, err := r.Layout.LatestTarget()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Layout.Workspace.InstallRoot(), "c0ffee"), target)

	r.Config.StrictBuild = true
	err = r.RunAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuildReported))
}

func TestRunAllStopsOnConfigureFailure(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	src, _ := r.Layout.SourceDir(context.Background())
	writeScript(t, filepath.Join(src, "configure"), "exit 1\n")

	err := r.RunAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigureFailed))
	entries, _ := os.ReadDir(r.Layout.Workspace.InstallRoot())
	assert.Empty(t, entries)
}

func TestRunAllCancelled(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.RunAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunInvalidStage(t *testing.T) {
	r, _ := newTestRunner(t, "c0ffee")
	err := r.Run(context.Background(), Stage(0))
	assert.True(t, errors.Is(err, ErrInvalidSelection))
}

func TestMakeCommand(t *testing.T) {
	r := &Runner{Config: &Config{MakeCommand: "gmake -s"}}
	name, args := r.makeCommand("-j4")
	assert.Equal(t, "gmake", name)
	assert.Equal(t, []string{"-s", "-j4"}, args)

	r.Config.MakeCommand = ""
	name, args = r.makeCommand("install")
	assert.Equal(t, "make", name)
	assert.Equal(t, []string{"install"}, args)
}

package rosebuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Runner implements the pipeline stages. Every stage asks the layout for
// its paths, so a stage always targets whatever source is on disk now.
type Runner struct {
	Layout *Layout
	Env    *ResolvedEnv
	Exec   *Executor
	Policy ConfirmationPolicy
	Config *Config

	// Index is the remote archive listing; built from Config on first use
	// when nil.
	Index ArchiveIndex
	// Jobs is the make parallelism.
	Jobs int
	// SessionLog is the log file of the current run, spared by retention.
	SessionLog string
}

// configureArgs are the flags passed to the package's configure script.
func (r *Runner) configureArgs(prefix string) []string {
	args := []string{
		"--prefix=" + prefix,
		"--with-boost=" + r.Env.Boost,
		"--with-boost-libdir=" + r.Env.BoostLib,
		"--with-java=" + r.Env.JavaHome,
		"--with-CXX_DEBUG=-g",
		"--with-C_DEBUG=-g",
		"--with-CXX_WARNINGS=-Wall",
	}
	return append(args, r.Config.ConfigureArgs...)
}

// makeCommand splits the configured make command into program and args.
func (r *Runner) makeCommand(args ...string) (string, []string) {
	fields := strings.Fields(r.Config.MakeCommand)
	if len(fields) == 0 {
		fields = []string{defaultMakeCommand}
	}
	return fields[0], append(fields[1:], args...)
}

// Run executes one menu selection.
func (r *Runner) Run(ctx context.Context, stage Stage) error {
	switch stage {
	case StageAcquire:
		return r.Acquire(ctx)
	case StageConfigure:
		return r.Configure(ctx)
	case StageBuild:
		return r.Build(ctx)
	case StageInstall:
		return r.Install(ctx)
	case StageRetention:
		return r.Retain(ctx)
	case StageAll:
		return r.RunAll(ctx)
	}
	return fmt.Errorf("%w: %v", ErrInvalidSelection, stage)
}

// RunAll runs acquire, configure, build, install and retention in order.
// A failed build is reported and the sequence continues unless strict_build
// is set.
func (r *Runner) RunAll(ctx context.Context) error {
	for _, stage := range []Stage{StageAcquire, StageConfigure, StageBuild, StageInstall, StageRetention} {
		if err := ctx.Err(); err != nil {
			return err
		}
		colInfo.Printf("\n==> Stage %d/%d: %s\n", int(stage), int(StageRetention), stage)
		err := r.Run(ctx, stage)
		if err == nil {
			continue
		}
		if isFatal(err, r.Config.StrictBuild) {
			return err
		}
		cPrintf(colWarn, "Warning: %v (continuing)\n", err)
	}
	return nil
}

// sourceSnapshot rewraps a missing-source error under the calling stage.
func (r *Runner) sourceSnapshot(ctx context.Context, stage string) (Snapshot, error) {
	snap, err := r.Layout.snapshot(ctx)
	if err != nil {
		return Snapshot{}, stageErr(stage, ErrNoSource, err, hintOf(err))
	}
	return snap, nil
}

// Acquire fetches or updates the source and checks that the identity
// computed afterwards points at it.
func (r *Runner) Acquire(ctx context.Context) error {
	if r.Layout.Origin.Kind == OriginArchive {
		return r.acquireArchive(ctx)
	}
	return r.acquireCheckout(ctx)
}

func (r *Runner) acquireCheckout(ctx context.Context) error {
	dir := r.Layout.checkoutDir()
	if err := syncCheckout(r.Exec, r.Layout.Origin.RemoteURL, dir); err != nil {
		return stageErr("acquire", ErrAcquireFailed, err, "check network access and the repository name (-g)")
	}
	if err := bootstrapCheckout(r.Exec, dir); err != nil {
		return stageErr("acquire", ErrAcquireFailed, err, "")
	}
	id, err := r.Layout.Identity(ctx)
	if err != nil {
		return stageErr("acquire", ErrAcquireFailed, err, "")
	}
	arrowf("Source at revision %s\n", id)
	return nil
}

func (r *Runner) acquireArchive(ctx context.Context) error {
	pat := r.Layout.Origin.pattern()
	if r.Index == nil {
		idx, err := newArchiveIndex(ctx, r.Config, pat)
		if err != nil {
			return stageErr("acquire", ErrAcquireFailed, err, "set archive_index in the config file")
		}
		r.Index = idx
	}

	names, err := r.Index.List(ctx)
	if err != nil {
		return stageErr("acquire", ErrAcquireFailed, err, "")
	}
	newest, ok := newestArchive(names, pat)
	if !ok {
		return stageErr("acquire", ErrAcquireFailed,
			fmt.Errorf("index lists no %s archive", r.Layout.Origin.Package), "")
	}
	arrowf("Newest archive: %s\n", newest)

	srcRoot := r.Layout.Workspace.SrcRoot()
	archive := filepath.Join(srcRoot, newest)
	if err := r.ensureArchive(ctx, newest, archive); err != nil {
		return stageErr("acquire", ErrAcquireFailed, err, "")
	}
	// The archive just acquired must be the newest local one.
	now := time.Now()
	if err := os.Chtimes(archive, now, now); err != nil {
		return stageErr("acquire", ErrAcquireFailed, err, "")
	}

	tree := filepath.Join(srcRoot, pat.Stem(newest))
	if isDir(tree) {
		debugf("%s already unpacked\n", tree)
	} else {
		arrowf("Unpacking %s\n", newest)
		if err := unpackArchive(ctx, archive, tree); err != nil {
			return stageErr("acquire", ErrAcquireFailed, err, "")
		}
	}

	id, err := r.Layout.Identity(ctx)
	if err != nil {
		return stageErr("acquire", ErrAcquireFailed, err, "")
	}
	if want := pat.Identity(newest); id != want {
		return stageErr("acquire", ErrAcquireFailed,
			fmt.Errorf("identity %s does not match acquired archive %s", id, want), "")
	}
	arrowf("Source identity %s\n", id)
	return nil
}

// ensureArchive downloads name unless an intact copy is already present.
func (r *Runner) ensureArchive(ctx context.Context, name, archive string) error {
	if _, err := os.Stat(archive); err == nil {
		ok, err := verifyChecksum(archive)
		if err != nil {
			return err
		}
		if ok {
			debugf("%s already downloaded\n", name)
			return nil
		}
		cPrintf(colWarn, "Checksum mismatch for %s, downloading again\n", name)
		if err := os.Remove(archive); err != nil {
			return err
		}
	}

	arrowf("Downloading %s\n", name)
	if err := r.Index.Fetch(ctx, name, archive); err != nil {
		return err
	}
	return writeChecksum(archive)
}

// Configure recreates the build directory and runs configure in it.
func (r *Runner) Configure(ctx context.Context) error {
	snap, err := r.sourceSnapshot(ctx, "configure")
	if err != nil {
		return err
	}
	script := filepath.Join(snap.SourceDir, "configure")
	if _, err := os.Stat(script); err != nil {
		return stageErr("configure", ErrNoSource,
			fmt.Errorf("no configure script in %s", snap.SourceDir), "run the acquire stage first")
	}

	buildDir, err := r.Layout.BuildDir(ctx)
	if err != nil {
		return stageErr("configure", ErrNoSource, err, "")
	}
	prefix, err := r.Layout.InstallPrefix(ctx)
	if err != nil {
		return stageErr("configure", ErrNoSource, err, "")
	}

	if !r.Policy.Confirm("Run configure for %s in %s?", snap.ID, buildDir) {
		return stageErr("configure", ErrConfigureFailed, errors.New("declined by operator"), "")
	}

	if err := recreateDir(buildDir); err != nil {
		return stageErr("configure", ErrConfigureFailed, err, "")
	}

	arrowf("Configuring %s\n", snap.ID)
	if err := r.Exec.Run(r.Exec.Command(buildDir, script, r.configureArgs(prefix)...)); err != nil {
		return stageErr("configure", ErrConfigureFailed, err,
			"see config.log in "+buildDir)
	}
	return nil
}

// Build runs the parallel make in the build directory.
func (r *Runner) Build(ctx context.Context) error {
	buildDir, err := r.Layout.BuildDir(ctx)
	if err != nil {
		return stageErr("build", ErrNoSource, err, hintOf(err))
	}
	if !hasMakefile(buildDir) {
		return stageErr("build", ErrBuildReported,
			fmt.Errorf("no Makefile in %s", buildDir), "run the configure stage first")
	}

	jobs := r.Jobs
	if jobs < 1 {
		jobs = buildJobs(detectCores())
	}
	arrowf("Building with %d jobs\n", jobs)
	name, args := r.makeCommand(fmt.Sprintf("-j%d", jobs))
	if err := r.Exec.Run(r.Exec.Command(buildDir, name, args...)); err != nil {
		return stageErr("build", ErrBuildReported, err, "")
	}
	return nil
}

// Install recreates the install prefix, runs make install and points the
// latest link at the result.
func (r *Runner) Install(ctx context.Context) error {
	buildDir, err := r.Layout.BuildDir(ctx)
	if err != nil {
		return stageErr("install", ErrNoSource, err, hintOf(err))
	}
	if !hasMakefile(buildDir) {
		return stageErr("install", ErrInstallFailed,
			fmt.Errorf("no Makefile in %s", buildDir), "run the configure and build stages first")
	}
	prefix, err := r.Layout.InstallPrefix(ctx)
	if err != nil {
		return stageErr("install", ErrNoSource, err, "")
	}

	if err := recreateDir(prefix); err != nil {
		return stageErr("install", ErrInstallFailed, err, "")
	}

	arrowf("Installing into %s\n", prefix)
	name, args := r.makeCommand("install")
	if err := r.Exec.Run(r.Exec.Command(buildDir, name, args...)); err != nil {
		return stageErr("install", ErrInstallFailed, err, "")
	}
	if err := r.Layout.UpdateLatest(prefix); err != nil {
		return stageErr("install", ErrInstallFailed, err, "")
	}
	arrowf("latest -> %s\n", prefix)
	return nil
}

// recreateDir removes dir with everything below it and creates it empty.
func recreateDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func hasMakefile(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "Makefile"))
	return err == nil && !info.IsDir()
}

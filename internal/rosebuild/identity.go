package rosebuild

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// gitBin is the git executable used for every repository operation.
var gitBin = "git"

// Snapshot is the current on-disk source: its identity and where it lives.
type Snapshot struct {
	ID        string
	SourceDir string
	// Archive is the archive file the tree came from (archive origin only).
	Archive string
}

// currentSnapshot inspects the source root and derives the identity of the
// source found there. Nothing is cached: every call reads the disk again.
func currentSnapshot(ctx context.Context, origin SourceOrigin, srcRoot string) (Snapshot, error) {
	if origin.Kind == OriginArchive {
		return archiveSnapshot(origin, srcRoot)
	}
	return vcsSnapshot(ctx, origin, srcRoot)
}

// CurrentIdentity returns the identity of the source currently on disk.
func CurrentIdentity(ctx context.Context, origin SourceOrigin, srcRoot string) (string, error) {
	snap, err := currentSnapshot(ctx, origin, srcRoot)
	if err != nil {
		return "", err
	}
	return snap.ID, nil
}

func vcsSnapshot(ctx context.Context, origin SourceOrigin, srcRoot string) (Snapshot, error) {
	dir := filepath.Join(srcRoot, origin.checkoutName())
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return Snapshot{}, stageErr("identity", ErrNoSource,
			fmt.Errorf("no checkout at %s", dir), "run the acquire stage first")
	}
	rev, err := gitRevision(ctx, dir)
	if err != nil {
		return Snapshot{}, stageErr("identity", ErrNoSource, err, "")
	}
	return Snapshot{ID: rev, SourceDir: dir}, nil
}

// gitRevision returns the commit hash HEAD points at.
func gitRevision(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, gitBin, "-C", dir, "rev-parse", "HEAD")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git rev-parse: %s", msg)
		}
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	rev := strings.TrimSpace(stdout.String())
	if rev == "" {
		return "", fmt.Errorf("git rev-parse: empty output in %s", dir)
	}
	return rev, nil
}

type archiveFile struct {
	name    string
	modTime time.Time
}

// newestFirst orders by modification time, newest first, and breaks ties
// with the lexicographically greatest name.
func newestFirst(a, b archiveFile) bool {
	if !a.modTime.Equal(b.modTime) {
		return a.modTime.After(b.modTime)
	}
	return a.name > b.name
}

// localArchives lists archives in srcRoot matching the origin pattern,
// newest first.
func localArchives(origin SourceOrigin, srcRoot string) ([]archiveFile, error) {
	entries, err := os.ReadDir(srcRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	pat := origin.pattern()
	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() || !pat.Match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, archiveFile{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return newestFirst(files[i], files[j]) })
	return files, nil
}

func archiveSnapshot(origin SourceOrigin, srcRoot string) (Snapshot, error) {
	files, err := localArchives(origin, srcRoot)
	if err != nil {
		return Snapshot{}, stageErr("identity", ErrNoSource, err, "")
	}
	if len(files) == 0 {
		return Snapshot{}, stageErr("identity", ErrNoSource,
			fmt.Errorf("no %s archive in %s", origin.Package, srcRoot), "run the acquire stage first")
	}
	pat := origin.pattern()
	newest := files[0].name
	return Snapshot{
		ID:        pat.Identity(newest),
		SourceDir: filepath.Join(srcRoot, pat.Stem(newest)),
		Archive:   filepath.Join(srcRoot, newest),
	}, nil
}

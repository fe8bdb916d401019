package rosebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Workspace is the fixed directory tree for one origin configuration:
//
//	<root>/src/
//	<root>/build/<identity>/
//	<root>/install/<identity>/
//	<root>/logs/
//	<root>/latest -> install/<identity>
type Workspace struct {
	Root string
}

func NewWorkspace(root string) Workspace {
	return Workspace{Root: filepath.Clean(root)}
}

func (w Workspace) SrcRoot() string     { return filepath.Join(w.Root, "src") }
func (w Workspace) BuildRoot() string   { return filepath.Join(w.Root, "build") }
func (w Workspace) InstallRoot() string { return filepath.Join(w.Root, "install") }
func (w Workspace) LogsDir() string     { return filepath.Join(w.Root, "logs") }
func (w Workspace) LatestLink() string  { return filepath.Join(w.Root, "latest") }

// Ensure creates the base layout. It is a no-op when already present.
func (w Workspace) Ensure() error {
	for _, dir := range []string{w.SrcRoot(), w.BuildRoot(), w.InstallRoot(), w.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace directory %s: %w", dir, err)
		}
	}
	return nil
}

// Layout maps the current source identity onto workspace paths. Every call
// recomputes the identity, so paths follow whatever the acquire stage left
// on disk.
type Layout struct {
	Workspace Workspace
	Origin    SourceOrigin
}

func NewLayout(ws Workspace, origin SourceOrigin) *Layout {
	return &Layout{Workspace: ws, Origin: origin}
}

func (l *Layout) snapshot(ctx context.Context) (Snapshot, error) {
	return currentSnapshot(ctx, l.Origin, l.Workspace.SrcRoot())
}

// Identity returns the identity of the source currently on disk.
func (l *Layout) Identity(ctx context.Context) (string, error) {
	snap, err := l.snapshot(ctx)
	if err != nil {
		return "", err
	}
	return snap.ID, nil
}

func (l *Layout) SourceDir(ctx context.Context) (string, error) {
	snap, err := l.snapshot(ctx)
	if err != nil {
		return "", err
	}
	return snap.SourceDir, nil
}

func (l *Layout) BuildDir(ctx context.Context) (string, error) {
	id, err := l.Identity(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.Workspace.BuildRoot(), id), nil
}

func (l *Layout) InstallPrefix(ctx context.Context) (string, error) {
	id, err := l.Identity(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.Workspace.InstallRoot(), id), nil
}

// checkoutDir is where the git checkout lives, whether or not it exists yet.
func (l *Layout) checkoutDir() string {
	return filepath.Join(l.Workspace.SrcRoot(), l.Origin.checkoutName())
}

// LatestTarget returns the absolute directory the latest link points at,
// or "" when there is no link.
func (l *Layout) LatestTarget() (string, error) {
	link := l.Workspace.LatestLink()
	target, err := os.Readlink(link)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	return filepath.Clean(target), nil
}

// UpdateLatest points the latest link at target. The new link is created
// under a temporary name and renamed over the old one, so readers never see
// a missing link.
func (l *Layout) UpdateLatest(target string) error {
	link := l.Workspace.LatestLink()
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("latest link target: %w", err)
	}
	rel, err := filepath.Rel(filepath.Dir(link), target)
	if err != nil {
		rel = target
	}

	tmpLink := fmt.Sprintf("%s.tmp.%d", link, time.Now().UnixNano())
	if err := os.Symlink(rel, tmpLink); err != nil {
		return fmt.Errorf("create latest link: %w", err)
	}
	if err := os.Rename(tmpLink, link); err != nil {
		os.Remove(tmpLink)
		return fmt.Errorf("replace latest link: %w", err)
	}
	debugf("Linked %s -> %s\n", link, rel)
	return nil
}

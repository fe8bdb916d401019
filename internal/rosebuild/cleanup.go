package rosebuild

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// retainedSet is one retention category: the entries found and those that
// must survive whatever their age.
type retainedSet struct {
	name      string
	dir       string
	entries   []archiveFile
	protected map[string]bool
}

// victims returns the paths retention deletes: everything except the newest
// entry and the protected ones.
func (s retainedSet) victims() []string {
	sort.Slice(s.entries, func(i, j int) bool { return newestFirst(s.entries[i], s.entries[j]) })
	var out []string
	for i, e := range s.entries {
		p := filepath.Join(s.dir, e.name)
		if i == 0 || s.protected[p] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// scanDir collects the entries of dir accepted by keep.
func scanDir(dir string, keep func(os.DirEntry) bool) ([]archiveFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []archiveFile
	for _, e := range entries {
		if !keep(e) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, archiveFile{name: e.Name(), modTime: info.ModTime()})
	}
	return files, nil
}

// retainedSets gathers the four retention categories of the workspace.
func (r *Runner) retainedSets(ctx context.Context) ([]retainedSet, error) {
	ws := r.Layout.Workspace
	protected := make(map[string]bool)
	if target, err := r.Layout.LatestTarget(); err == nil && target != "" {
		protected[target] = true
	}
	// The source, build and install of the current identity stay.
	if snap, err := r.Layout.snapshot(ctx); err == nil {
		protected[snap.SourceDir] = true
		if snap.Archive != "" {
			protected[snap.Archive] = true
		}
		protected[filepath.Join(ws.BuildRoot(), snap.ID)] = true
		protected[filepath.Join(ws.InstallRoot(), snap.ID)] = true
	}

	isDirEntry := func(e os.DirEntry) bool { return e.IsDir() }
	var sets []retainedSet

	if r.Layout.Origin.Kind == OriginArchive {
		pat := r.Layout.Origin.pattern()
		archives, err := scanDir(ws.SrcRoot(), func(e os.DirEntry) bool {
			return !e.IsDir() && pat.Match(e.Name())
		})
		if err != nil {
			return nil, err
		}
		trees, err := scanDir(ws.SrcRoot(), func(e os.DirEntry) bool {
			return e.IsDir() && pat.IsStemDir(e.Name())
		})
		if err != nil {
			return nil, err
		}
		sets = append(sets,
			retainedSet{name: "archives", dir: ws.SrcRoot(), entries: archives, protected: protected},
			retainedSet{name: "source trees", dir: ws.SrcRoot(), entries: trees, protected: protected})
	}

	builds, err := scanDir(ws.BuildRoot(), isDirEntry)
	if err != nil {
		return nil, err
	}
	installs, err := scanDir(ws.InstallRoot(), isDirEntry)
	if err != nil {
		return nil, err
	}
	sets = append(sets,
		retainedSet{name: "builds", dir: ws.BuildRoot(), entries: builds, protected: protected},
		retainedSet{name: "installs", dir: ws.InstallRoot(), entries: installs, protected: protected})
	return sets, nil
}

// Retain deletes all but the newest entry of every category and compresses
// old session logs. Individual failures are reported and skipped.
func (r *Runner) Retain(ctx context.Context) error {
	sets, err := r.retainedSets(ctx)
	if err != nil {
		cPrintf(colWarn, "Warning: retention scan failed: %v\n", err)
		return nil
	}

	var victims []string
	for _, set := range sets {
		v := set.victims()
		debugf("retention: %s: %d entries, %d to delete\n", set.name, len(set.entries), len(v))
		victims = append(victims, v...)
	}

	if len(victims) == 0 {
		arrowf("Nothing to clean up\n")
	} else {
		if r.Policy.Interactive() {
			for _, v := range victims {
				cPrintf(colInfo, "  %s\n", v)
			}
		}
		if r.Policy.Confirm("Delete %d old entries?", len(victims)) {
			removed := 0
			for _, v := range victims {
				if err := removeEntry(v); err != nil {
					cPrintf(colWarn, "Warning: failed to remove %s: %v\n", v, err)
					continue
				}
				removed++
			}
			arrowf("Removed %d of %d old entries\n", removed, len(victims))
		} else {
			cPrintln(colNote, "Retention skipped")
		}
	}

	r.compressOldLogs()
	return nil
}

// removeEntry deletes path; archives take their sidecar files along.
func removeEntry(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	for _, suffix := range []string{".b3", ".lock"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// compressOldLogs turns every plain session log except the current one into
// a .log.xz file.
func (r *Runner) compressOldLogs() {
	dir := r.Layout.Workspace.LogsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if path == r.SessionLog {
			continue
		}
		if err := compressXZ(path, path+".xz"); err != nil {
			cPrintf(colWarn, "Warning: failed to compress %s: %v\n", e.Name(), err)
			continue
		}
		if err := os.Remove(path); err != nil {
			cPrintf(colWarn, "Warning: %v\n", err)
			continue
		}
		debugf("Compressed %s.xz\n", e.Name())
	}
}

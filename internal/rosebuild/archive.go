package rosebuild

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// unpackArchive extracts archive so that its contents end up directly in
// destDir. Extraction happens in destDir.partial, which is renamed into place
// only once everything was written; a single top-level directory inside the
// archive is hoisted out.
func unpackArchive(ctx context.Context, archive, destDir string) error {
	partial := destDir + ".partial"
	if err := os.RemoveAll(partial); err != nil {
		return fmt.Errorf("failed to clear %s: %w", partial, err)
	}
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", partial, err)
	}

	if err := extractInto(ctx, archive, partial); err != nil {
		os.RemoveAll(partial)
		return err
	}

	root, err := singleTopDir(partial)
	if err != nil {
		os.RemoveAll(partial)
		return err
	}
	if err := os.RemoveAll(destDir); err != nil {
		os.RemoveAll(partial)
		return err
	}
	if err := os.Rename(root, destDir); err != nil {
		os.RemoveAll(partial)
		return fmt.Errorf("failed to move unpacked tree into place: %w", err)
	}
	// After hoisting, the now empty staging directory is left behind.
	if root != partial {
		os.RemoveAll(partial)
	}
	return nil
}

// singleTopDir returns dir/<name> when dir holds exactly one directory and
// nothing else, otherwise dir itself.
func singleTopDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		debugf("Hoisting top-level directory %s\n", entries[0].Name())
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

func extractInto(ctx context.Context, archive, dest string) error {
	if strings.HasSuffix(archive, ".zip") {
		return unzipGo(archive, dest)
	}

	// Try system tar first
	if _, err := exec.LookPath("tar"); err == nil {
		cmd := exec.CommandContext(ctx, "tar", "xf", archive, "-C", dest)
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			debugf("Used system tar\n")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		debugf("system tar failed on %s, using built-in extractor\n", archive)
		// tar may have written part of the tree.
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
	}
	return extractTar(archive, dest)
}

func unzipGo(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)

		// Close inside the loop; source trees have tens of thousands of files.
		outFile.Close()
		rc.Close()

		if err != nil {
			return err
		}
	}
	return nil
}

// safeJoin joins name onto dest and rejects entries escaping dest.
func safeJoin(dest, name string) (string, error) {
	p := filepath.Join(dest, name)
	if p != dest && !strings.HasPrefix(p, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return p, nil
}

// decompressor picks the stream decoder from the archive extension.
func decompressor(path string, f io.Reader) (io.Reader, func(), error) {
	nop := func() {}
	switch {
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create gzip reader for %s: %w", path, err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(path, ".tar.bz2"):
		return bzip2.NewReader(f), nop, nil
	case strings.HasSuffix(path, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create xz reader for %s: %w", path, err)
		}
		return xr, nop, nil
	case strings.HasSuffix(path, ".tar.zst"):
		zst, err := zstd.NewReader(f)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create zstd reader for %s: %w", path, err)
		}
		return zst, zst.Close, nil
	case strings.HasSuffix(path, ".tar"):
		return f, nop, nil
	}
	return nil, nop, fmt.Errorf("unsupported archive format: %s", path)
}

// extractTar unpacks a (possibly compressed) tarball into dest, keeping
// modes and timestamps.
func extractTar(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archive, err)
	}
	defer f.Close()

	r, closeFn, err := decompressor(archive, f)
	if err != nil {
		return err
	}
	defer closeFn()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", archive, err)
		}

		// Skip PAX headers (global or per-file)
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		targetPath, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", targetPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)|0o700); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", targetPath, err)
			}
		case tar.TypeReg:
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", targetPath, err)
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file %s: %w", targetPath, err)
			}
			outFile.Close()
			if err := os.Chtimes(targetPath, hdr.AccessTime, hdr.ModTime); err != nil {
				return fmt.Errorf("failed to set times for file %s: %w", targetPath, err)
			}
		case tar.TypeSymlink:
			_ = os.Remove(targetPath)
			if err := os.Symlink(hdr.Linkname, targetPath); err != nil {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", targetPath, hdr.Linkname, err)
			}
			mtime := unix.NsecToTimeval(hdr.ModTime.UnixNano())
			if err := unix.Lutimes(targetPath, []unix.Timeval{mtime, mtime}); err != nil {
				debugf("Warning: failed to set times for symlink %s: %v (continuing)\n", targetPath, err)
			}
		default:
			debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}
	return nil
}

// compressXZ writes an xz-compressed copy of srcPath to destPath.
func compressXZ(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}

	xzWriter, err := xz.NewWriter(dest)
	if err != nil {
		dest.Close()
		os.Remove(destPath)
		return err
	}
	if _, err := io.Copy(xzWriter, src); err != nil {
		xzWriter.Close()
		dest.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to compress %s: %w", srcPath, err)
	}
	if err := xzWriter.Close(); err != nil {
		dest.Close()
		os.Remove(destPath)
		return err
	}
	return dest.Close()
}

// openLog opens a session log, decompressing .xz logs on the fly.
func openLog(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".xz") {
		return f, nil
	}
	xr, err := xz.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{xr, f}, nil
}

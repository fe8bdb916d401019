package rosebuild

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

func newHttpClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Archive hosts are slow to handshake; the default 10s is not enough.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Minute, // source archives run to hundreds of MB
	}
}

type downloadOptions struct {
	Quiet      bool // Quiet suppresses all progress output
	NativeOnly bool // NativeOnly skips curl and wget
}

// downloadFile fetches url into destFile. It holds an exclusive lock on
// destFile.lock for the whole transfer and leaves no partial file behind.
func downloadFile(ctx context.Context, url, destFile string, opt downloadOptions) error {
	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", destFile, err)
	}

	unlock, err := lockFile(destFile + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	// Another process may have finished the same download while we waited.
	if _, err := os.Stat(destFile); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", destFile)
		return nil
	}

	partial := destFile + ".part"
	defer os.Remove(partial)

	if err := fetchTo(ctx, url, partial, opt); err != nil {
		return err
	}
	if err := os.Rename(partial, destFile); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

// lockFile takes an exclusive flock on path and returns the release func.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		_ = os.Remove(path)
	}, nil
}

func fetchTo(ctx context.Context, url, absPath string, opt downloadOptions) error {
	debugf("Downloading %s -> %s\n", url, absPath)

	if !opt.NativeOnly {
		// --- Primary Choice: curl ---
		if _, err := exec.LookPath("curl"); err == nil {
			args := []string{"-L", "--fail", "-o", absPath}
			if opt.Quiet {
				args = append(args, "-sS")
			} else {
				args = append(args, "-#")
			}
			cmd := exec.CommandContext(ctx, "curl", append(args, url)...)
			if opt.Quiet {
				cmd.Stdout = io.Discard
				cmd.Stderr = io.Discard
			} else {
				cmd.Stdout = console
				cmd.Stderr = console
			}
			if err := cmd.Run(); err == nil {
				debugf("Download successful with curl.\n")
				return nil
			}
			debugf("curl failed, falling back to wget\n")
		} else {
			debugf("curl not found, trying wget\n")
		}

		// --- Fallback 1: wget ---
		if _, err := exec.LookPath("wget"); err == nil {
			args := []string{"-nv", "-O", absPath}
			if opt.Quiet {
				args = []string{"-q", "-O", absPath}
			}
			cmd := exec.CommandContext(ctx, "wget", append(args, url)...)
			if opt.Quiet {
				cmd.Stdout = io.Discard
				cmd.Stderr = io.Discard
			} else {
				cmd.Stdout = console
				cmd.Stderr = console
			}
			if err := cmd.Run(); err == nil {
				debugf("Download successful with wget.\n")
				return nil
			}
			debugf("wget failed, falling back to native Go HTTP client\n")
		} else {
			debugf("wget not found, using native Go HTTP client\n")
		}
	}

	// --- Fallback 2: Native Go HTTP Client ---
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := newHttpClient().Do(req)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(absPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", absPath, err)
	}
	defer out.Close()

	if err := copyWithProgress(out, resp.Body, resp.ContentLength, filepath.Base(absPath), opt.Quiet); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}
	debugf("Download successful with native Go HTTP client.\n")
	return nil
}

// copyWithProgress copies r to w, drawing a byte progress bar unless quiet.
// size may be -1 when the length is unknown.
func copyWithProgress(w io.Writer, r io.Reader, size int64, label string, quiet bool) error {
	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(console),
		progressbar.OptionSetDescription(strings.TrimSuffix(label, ".part")),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetVisibility(!quiet),
		progressbar.OptionClearOnFinish(),
	)
	_, err := io.Copy(io.MultiWriter(w, bar), r)
	_ = bar.Finish()
	return err
}

// checksumPath is the blake3 sidecar of an archive.
func checksumPath(archive string) string {
	return archive + ".b3"
}

func b3sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeChecksum records the blake3 sum of archive next to it.
func writeChecksum(archive string) error {
	sum, err := b3sum(archive)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", archive, err)
	}
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(archive))
	return os.WriteFile(checksumPath(archive), []byte(line), 0o644)
}

// verifyChecksum compares archive against its sidecar. A missing sidecar
// counts as verified and is created from the file on disk.
func verifyChecksum(archive string) (bool, error) {
	f, err := os.Open(checksumPath(archive))
	if os.IsNotExist(err) {
		return true, writeChecksum(archive)
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return false, nil
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return false, nil
	}
	sum, err := b3sum(archive)
	if err != nil {
		return false, err
	}
	return fields[0] == sum, nil
}

package rosebuild

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const sessionTimeLayout = "20060102-150405"

// Session captures everything printed during one run in a timestamped log
// under the workspace logs directory.
type Session struct {
	Path   string
	Stdout io.Writer
	Stderr io.Writer

	file  *os.File
	start time.Time
}

// sessionLogName names the log of a run started at t.
func sessionLogName(t time.Time) string {
	return "session-" + t.Format(sessionTimeLayout) + ".log"
}

// openSession opens (or appends to) the log for a run starting at now and
// routes all console output through it.
func openSession(logsDir string, now time.Time, stdout, stderr io.Writer) (*Session, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	path := filepath.Join(logsDir, sessionLogName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	s := &Session{
		Path:   path,
		Stdout: io.MultiWriter(stdout, f),
		Stderr: io.MultiWriter(stderr, f),
		file:   f,
		start:  now,
	}
	setConsole(s.Stdout)

	fmt.Fprintf(f, "=== rosebuild %s session started %s ===\n", version, now.Format(time.RFC3339))
	fmt.Fprintf(f, "host: %s, %d cores, %s\n", cpuModel(), detectCores(), arch)
	return s, nil
}

// Close records the outcome and restores the console.
func (s *Session) Close(outcome error) error {
	resetConsole()
	status := "completed"
	if outcome != nil {
		status = "failed: " + outcome.Error()
	}
	fmt.Fprintf(s.file, "=== session %s after %s ===\n", status, time.Since(s.start).Round(time.Second))
	return s.file.Close()
}

// newestLog returns the most recent session log (plain or .xz) in dir.
// Timestamped names sort chronologically.
func newestLog(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var logs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session-") {
			continue
		}
		if strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".log.xz") {
			logs = append(logs, name)
		}
	}
	if len(logs) == 0 {
		return "", fmt.Errorf("no session logs in %s", dir)
	}
	sort.Slice(logs, func(i, j int) bool {
		return strings.TrimSuffix(logs[i], ".xz") > strings.TrimSuffix(logs[j], ".xz")
	})
	return filepath.Join(dir, logs[0]), nil
}

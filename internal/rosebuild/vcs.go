package rosebuild

import (
	"fmt"
	"os"
	"path/filepath"
)

// syncCheckout clones remote into dir when absent, otherwise pulls.
func syncCheckout(ex *Executor, remote, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return fmt.Errorf("create source root: %w", err)
		}
		arrowf("Cloning %s into %s\n", remote, dir)
		cmd := ex.Command(filepath.Dir(dir), gitBin, "clone", remote, dir)
		cmd.Env = append(ex.environ(), "GIT_TERMINAL_PROMPT=0")
		if err := ex.Run(cmd); err != nil {
			return fmt.Errorf("git clone failed: %w", err)
		}
		return nil
	}

	arrowf("Updating %s\n", dir)
	cmd := ex.Command(dir, gitBin, "pull", "--ff-only")
	cmd.Env = append(ex.environ(), "GIT_TERMINAL_PROMPT=0")
	if err := ex.Run(cmd); err != nil {
		return fmt.Errorf("git pull failed: %w", err)
	}
	return nil
}

// bootstrapCheckout runs the package's own ./build script, which generates
// configure from the autotools sources.
func bootstrapCheckout(ex *Executor, dir string) error {
	script := filepath.Join(dir, "build")
	info, err := os.Stat(script)
	if err != nil || info.IsDir() {
		debugf("No bootstrap script in %s, skipping\n", dir)
		return nil
	}
	arrowf("Bootstrapping %s\n", dir)
	if err := ex.Run(ex.Command(dir, script)); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	return nil
}

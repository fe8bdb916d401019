package rosebuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Executor runs child processes with the resolved build environment and
// the session output streams.
type Executor struct {
	Context context.Context // The context to use for cancellation
	Env     []string        // Full environment handed to every child
	Stdout  io.Writer
	Stderr  io.Writer
}

func NewExecutor(ctx context.Context, env []string, stdout, stderr io.Writer) *Executor {
	return &Executor{Context: ctx, Env: env, Stdout: stdout, Stderr: stderr}
}

// Command builds a command that runs name in dir.
func (e *Executor) Command(dir, name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd
}

// Run executes the given command.
// It wires up stdio, isolates the child in its own process group and kills
// the whole group when the context is cancelled.
func (e *Executor) Run(cmd *exec.Cmd) error {
	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}

	// --- Phase 0: wire up stdio ---
	// Children never share the operator's stdin; answers go through the
	// confirmation policy only.
	if cmd.Stdout == nil {
		cmd.Stdout = e.Stdout
		if cmd.Stdout == nil {
			cmd.Stdout = os.Stdout
		}
	}
	if cmd.Stderr == nil {
		cmd.Stderr = e.Stderr
		if cmd.Stderr == nil {
			cmd.Stderr = os.Stderr
		}
	}

	// --- Phase 1: build the final command ---
	finalCmd := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	finalCmd.Dir = cmd.Dir

	// preserve or inherit the environment
	switch {
	case len(cmd.Env) > 0:
		finalCmd.Env = cmd.Env
	case len(e.Env) > 0:
		finalCmd.Env = e.Env
	default:
		finalCmd.Env = os.Environ()
	}

	finalCmd.Stdin = cmd.Stdin
	finalCmd.Stdout = cmd.Stdout
	finalCmd.Stderr = cmd.Stderr

	// --- Phase 2: isolate process group for context-based cleanup ---
	finalCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	debugf("Running %s (in %s)\n", strings.Join(cmd.Args, " "), cmd.Dir)

	// --- Phase 3: start and watch for cancel ---
	if err := finalCmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Args[0], err)
	}

	pgid := finalCmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = unix.Kill(-pgid, unix.SIGKILL)
		case <-done:
		}
	}()

	// --- Phase 4: wait and return ---
	if waitErr := finalCmd.Wait(); waitErr != nil {
		if ctx.Err() != nil {
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("command aborted: %v", ctx.Err())
		}
		return waitErr
	}
	return nil
}

// environ returns the environment children inherit when cmd.Env is unset.
func (e *Executor) environ() []string {
	if len(e.Env) > 0 {
		return append([]string(nil), e.Env...)
	}
	return os.Environ()
}

package rosebuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// options are the command line flags of one invocation.
type options struct {
	boost      string
	git        string
	tarball    bool
	unattended bool
	stage      string
	viewLog    bool
	debug      bool
}

// App carries the streams and hooks of one run. Main uses the process
// streams; tests substitute their own.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Config is loaded from configPath() when nil.
	Config *Config
	// NewResolver builds the environment resolver for the chosen policy.
	NewResolver func(ConfirmationPolicy) *EnvResolver
	// Index replaces the configured archive index when set.
	Index ArchiveIndex
	Now   func() time.Time
}

func defaultApp() *App {
	return &App{
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		NewResolver: NewEnvResolver,
		Now:         time.Now,
	}
}

func newRootCmd(ctx context.Context, app *App) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "rosebuild",
		Short: "rosebuild acquires, configures, builds and installs ROSE",
		Long: `rosebuild drives the ROSE compiler infrastructure through acquire, configure,
build and install stages inside a per-origin workspace, keeping one build and
install directory per source identity and a "latest" link to the newest install.`,
		Version:       fmt.Sprintf("%s (%s, %s)", version, buildDate, arch),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(ctx, cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.boost, "boost", "b", defaultBoostDir, "boost installation directory")
	flags.StringVarP(&opts.git, "git", "g", defaultRepository, "git repository name or URL; empty disables git mode")
	flags.BoolVarP(&opts.tarball, "tarball", "t", false, "build from the newest published source archive")
	flags.BoolVarP(&opts.unattended, "unattended", "u", false, "never prompt; run every stage unless -s is given")
	flags.StringVarP(&opts.stage, "stage", "s", "", "stage to run (1-6 or a stage name)")
	flags.BoolVarP(&opts.viewLog, "log", "l", false, "show the newest session log and exit")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "print debug output")

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		_ = c.Usage()
		return err
	})
	cmd.SetIn(app.Stdin)
	cmd.SetOut(app.Stdout)
	cmd.SetErr(app.Stderr)
	return cmd
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, app *App, args []string) int {
	cmd := newRootCmd(ctx, app)
	// cobra falls back to os.Args on a nil slice.
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(app.Stderr, "%s %v\n", colError.Sprint("Error:"), err)
		if hint := hintOf(err); hint != "" {
			fmt.Fprintf(app.Stderr, "  hint: %s\n", hint)
		}
		return 1
	}
	return 0
}

// origin picks git or archive mode. An empty repository forces archive mode.
func (o *options) origin(cfg *Config) SourceOrigin {
	if o.tarball || cfg.Repository == "" {
		return Archive(cfg.Package, cfg.ArchiveMarker)
	}
	return VersionControlled(cfg.Repository, cfg.repositoryURL(cfg.Repository))
}

// policy returns the confirmation policy for this run. Only -u makes the
// run unattended; a piped stdin still supplies the stage selection.
func (a *App) policy(unattended bool) ConfirmationPolicy {
	if unattended {
		return NewConfirmationPolicy(true, a.Stdin)
	}
	if f, ok := a.Stdin.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return newPipedPolicy(f)
	}
	return NewConfirmationPolicy(false, a.Stdin)
}

func (a *App) run(ctx context.Context, cmd *cobra.Command, opts *options) error {
	cfg := a.Config
	if cfg == nil {
		var err error
		if cfg, err = loadConfig(configPath()); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("boost") || cfg.Boost == "" {
		cfg.Boost = opts.boost
	}
	if flags.Changed("git") {
		cfg.Repository = opts.git
	}
	if opts.debug || cfg.Debug {
		Debug = true
	}

	origin := opts.origin(cfg)
	ws := NewWorkspace(filepath.Join(cfg.Root, origin.WorkspaceName()))
	if opts.viewLog {
		return viewLatestLog(ws.LogsDir())
	}

	// The selection is settled before the environment is resolved so a bad
	// -s never triggers JDK prompts.
	policy := a.policy(opts.unattended)
	var (
		stage Stage
		err   error
	)
	switch {
	case opts.stage != "":
		stage, err = ParseStageSelection(opts.stage)
	case opts.unattended:
		stage = StageAll
	default:
		stage, err = AskForStage(policy)
	}
	if err != nil {
		return err
	}

	resolver := a.NewResolver(policy)
	env, err := resolver.Resolve(cfg.Boost, cfg.JavaHome)
	if err != nil {
		return err
	}

	if err := ws.Ensure(); err != nil {
		return err
	}
	sess, err := openSession(ws.LogsDir(), a.Now(), a.Stdout, a.Stderr)
	if err != nil {
		return err
	}
	outcome := a.runStage(ctx, cfg, origin, ws, env, policy, sess, stage)
	if cerr := sess.Close(outcome); cerr != nil && outcome == nil {
		outcome = cerr
	}
	return outcome
}

func (a *App) runStage(ctx context.Context, cfg *Config, origin SourceOrigin, ws Workspace,
	env *ResolvedEnv, policy ConfirmationPolicy, sess *Session, stage Stage) error {
	arrowf("rosebuild %s: %s workspace %s\n", version, origin.Kind, ws.Root)
	debugf("JAVA_HOME=%s %s=%s\n", env.JavaHome, env.LibraryPathVar, env.LibraryPath)

	runner := &Runner{
		Layout:     NewLayout(ws, origin),
		Env:        env,
		Exec:       NewExecutor(ctx, env.Environ(os.Environ()), sess.Stdout, sess.Stderr),
		Policy:     policy,
		Config:     cfg,
		Index:      a.Index,
		Jobs:       buildJobs(detectCores()),
		SessionLog: sess.Path,
	}

	err := runner.Run(ctx, stage)
	if err != nil && !isFatal(err, cfg.StrictBuild) {
		cPrintf(colWarn, "Warning: %v\n", err)
		err = nil
	}
	if err != nil {
		return err
	}
	colSuccess.Printf("Stage %s finished. Log: %s\n", stage, sess.Path)
	return nil
}

// Main is the CLI entrypoint for cmd/rosebuild.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	// First signal cancels the context, which kills the running child's
	// process group; a second one exits immediately.
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
			cancel()

			select {
			case <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Println("Second interrupt received. Forcing immediate exit.")
				os.Exit(130)
			case <-time.After(10 * time.Second):
				colArrow.Print("\n-> ")
				color.Danger.Println("Graceful shutdown timeout. Exiting.")
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	code := execute(ctx, defaultApp(), os.Args[1:])
	if code == 0 && errors.Is(ctx.Err(), context.Canceled) {
		code = 130
	}
	cancel()
	os.Exit(code)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/buildinfo"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/git"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/manifest"
	"github.com/droverhq/drover/internal/rundir"
	"github.com/droverhq/drover/internal/scheduler"
	"github.com/droverhq/drover/internal/scratch"
	"github.com/droverhq/drover/internal/state"
	"github.com/droverhq/drover/internal/tui"
	"github.com/droverhq/drover/internal/workspace"
)

// runFlags holds the flag values for the run command.
type runFlags struct {
	Manifest string // --manifest stories.json
	Parallel int    // --parallel N worker slots
	Resume   string // --resume <run-dir> ("latest" resolves the newest run)
	Build    bool   // --build forces an agent image rebuild
	Watch    bool   // --watch launches the live dashboard
}

// newRunCmd creates the "drover run" command.
func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Run stories through the agent workflow",
		Long: `Execute user stories with coding agents. Stories come from a manifest
file (--manifest) or from a free-form one-shot request given as the single
positional argument. Each story runs its step workflow in an isolated git
worktree; completed stories are rebased and squash-merged into the base
branch.

A previous run can be picked up where it left off with --resume: pass the
run directory, or "latest" for the most recent one. Orphaned stories are
reconciled before scheduling resumes.`,
		Example: `  # One-shot request
  drover run "add a health check endpoint"

  # Manifest-driven run with 4 workers and the live dashboard
  drover run --manifest stories.json --parallel 4 --watch

  # Resume the most recent run
  drover run --resume latest`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Manifest, "manifest", "", "Path to the story manifest (JSON)")
	cmd.Flags().IntVar(&flags.Parallel, "parallel", 0, "Number of parallel worker slots (default from config)")
	cmd.Flags().StringVar(&flags.Resume, "resume", "", `Resume an existing run directory ("latest" picks the newest)`)
	cmd.Flags().BoolVar(&flags.Build, "build", false, "Rebuild the agent image before starting")
	cmd.Flags().BoolVar(&flags.Watch, "watch", false, "Show the live dashboard while the run executes")

	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func runRun(cmd *cobra.Command, args []string, flags runFlags) error {
	log := logging.New("run")

	overrides := &config.CLIOverrides{}
	if flags.Parallel > 0 {
		overrides.Parallelism = &flags.Parallel
	}
	resolved, err := loadAndResolveConfig(overrides)
	if err != nil {
		return err
	}
	cfg := resolved.Config

	if err := config.LoadEnvFile(cfg.Agent.EnvFile); err != nil {
		return err
	}

	gitClient, err := git.NewClient(".")
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	run, store, err := openRun(ctx, flags, args, cfg.Project.RunsDir)
	if err != nil {
		return err
	}
	log.Info("run directory ready", "path", run.Path())

	branch, _ := gitClient.CurrentBranch(ctx)
	sha, _ := gitClient.CurrentRevision(ctx)
	if err := run.WriteMetadata(rundir.Metadata{
		GitBranch:  branch,
		GitSHA:     sha,
		Image:      cfg.Agent.Image,
		Parallel:   cfg.Project.Parallelism,
		BaseBranch: cfg.Project.BaseBranch,
	}); err != nil {
		return err
	}

	claude := agent.NewClaudeAgent(cfg.Agent)
	if err := claude.CheckPrerequisites(); err != nil {
		return err
	}
	if flags.Build && cfg.Agent.Containerized {
		if err := agent.BuildImage(ctx, cfg.Agent.Image); err != nil {
			return err
		}
	}

	authorName, authorEmail := config.ResolveGitIdentity(cfg.Agent, func(key string) string {
		return gitClient.ConfigValue(ctx, key)
	})

	worktreesDir, err := filepath.Abs(cfg.Project.WorktreesDir)
	if err != nil {
		return err
	}

	sched := &scheduler.Scheduler{
		Store:   store,
		Scratch: scratch.New(run.Path()),
		RunDir:  run,
		Workspaces: &workspace.Manager{
			Git:         gitClient,
			Dir:         worktreesDir,
			BaseBranch:  cfg.Project.BaseBranch,
			AuthorName:  authorName,
			AuthorEmail: authorEmail,
		},
		Agent:       claude,
		Parallelism: cfg.Project.Parallelism,
	}

	var summary *scheduler.Summary
	if flags.Watch {
		summary, err = runWithDashboard(ctx, cancel, sched, store, cfg.Project.Name)
	} else {
		summary, err = sched.Run(ctx)
	}
	if err != nil {
		var cycleErr *state.CycleError
		if errors.As(err, &cycleErr) {
			return exitWithCode(2, err)
		}
		return err
	}

	if summary.Failed > 0 || summary.Blocked > 0 {
		return exitWithCode(1, fmt.Errorf("run finished with %d failed and %d blocked stories (artifacts: %s)",
			summary.Failed, summary.Blocked, run.Path()))
	}
	if !summary.Done() {
		return exitWithCode(1, fmt.Errorf("run ended with %d stories not in a terminal state (artifacts: %s)",
			summary.Unclaimed, run.Path()))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "All %d stories completed. Run artifacts: %s\n", summary.Completed, run.Path())
	return nil
}

// openRun prepares the run directory and state store: a fresh run seeds the
// state from the manifest, a resumed run reuses the existing state file.
func openRun(ctx context.Context, flags runFlags, args []string, runsDir string) (*rundir.Dir, *state.Store, error) {
	if flags.Resume != "" {
		var (
			run *rundir.Dir
			err error
		)
		if flags.Resume == "latest" {
			run, err = rundir.Latest(runsDir)
		} else {
			run, err = rundir.Open(flags.Resume)
		}
		if err != nil {
			return nil, nil, err
		}
		store := state.NewStore(run.StatePath())
		if _, err := store.Load(); err != nil {
			return nil, nil, err
		}
		return run, store, nil
	}

	m, manifestPath, err := resolveManifest(args, flags.Manifest)
	if err != nil {
		return nil, nil, exitWithCode(2, err)
	}
	if errs := m.Validate(); len(errs) > 0 {
		return nil, nil, exitWithCode(2, fmt.Errorf("invalid manifest: %s", joinErrors(errs)))
	}

	run, err := rundir.Create(runsDir)
	if err != nil {
		return nil, nil, err
	}
	store := state.NewStore(run.StatePath())
	if err := store.Initialize(ctx, m.ToState(manifestPath)); err != nil {
		return nil, nil, err
	}
	return run, store, nil
}

// resolveManifest picks the story source: a one-shot request builds a
// synthetic single-story manifest, otherwise --manifest names a file.
func resolveManifest(args []string, manifestPath string) (*manifest.Manifest, string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		if manifestPath != "" {
			return nil, "", errors.New("provide either a one-shot request or --manifest, not both")
		}
		return manifest.FromRequest(args[0]), "", nil
	}
	if manifestPath == "" {
		return nil, "", errors.New("nothing to run: pass a one-shot request or --manifest stories.json")
	}
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, "", err
	}
	return m, manifestPath, nil
}

// runWithDashboard executes the scheduler in the background while the
// dashboard owns the terminal. Quitting the dashboard mid-run cancels the
// scheduler; the run's outcome is still reported after the UI closes.
func runWithDashboard(ctx context.Context, cancel context.CancelFunc, sched *scheduler.Scheduler,
	store *state.Store, project string) (*scheduler.Summary, error) {

	events := make(chan agent.StreamEvent, 256)
	progress := make(chan string, 64)
	done := make(chan tui.DoneResult, 1)
	finished := make(chan struct{})

	sched.Events = events
	sched.Progress = func(line string) {
		select {
		case progress <- line:
		default:
		}
	}

	var (
		summary *scheduler.Summary
		runErr  error
	)
	go func() {
		defer close(finished)
		summary, runErr = sched.Run(ctx)
		done <- tui.DoneResult{Summary: summary, Err: runErr}
	}()

	uiErr := tui.Run(tui.Config{
		Version:  buildinfo.Version,
		Project:  project,
		Store:    store,
		Events:   events,
		Progress: progress,
		Done:     done,
		Ctx:      ctx,
		Cancel:   cancel,
	})

	cancel()
	<-finished
	if uiErr != nil {
		return nil, uiErr
	}
	return summary, runErr
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Package scheduler owns the orchestration loop: it validates the story
// dependency DAG, reconciles state left by a previous run, assigns stories
// to up to N worker slots, and integrates completed work back into the base
// branch. Each assigned story runs in its own goroutine against its own git
// worktree; all coordination happens through the shared state document.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/executor"
	"github.com/droverhq/drover/internal/git"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/rundir"
	"github.com/droverhq/drover/internal/runner"
	"github.com/droverhq/drover/internal/scratch"
	"github.com/droverhq/drover/internal/state"
	"github.com/droverhq/drover/internal/workflow"
	"github.com/droverhq/drover/internal/workspace"
)

// maxIntegrationAttempts caps how many conflict-resolution rounds one story
// gets before its integration is declared failed.
const maxIntegrationAttempts = 3

// Scheduler runs the orchestration loop.
type Scheduler struct {
	Store       *state.Store
	Scratch     *scratch.Files
	RunDir      *rundir.Dir
	Workspaces  *workspace.Manager
	Agent       agent.Agent
	Parallelism int

	// Events receives agent stream events for the live dashboard when
	// non-nil.
	Events chan<- agent.StreamEvent
	// Progress receives one-line progress messages when non-nil, in
	// addition to the summary log.
	Progress func(string)
}

// Summary is the terminal tally of a scheduler run.
type Summary struct {
	Completed int
	Failed    int
	Blocked   int
	Unclaimed int
}

// Done reports whether every story reached a terminal or blocked state.
func (s Summary) Done() bool { return s.Unclaimed == 0 }

type slotResult struct {
	workerID int
	storyID  string
	err      error
}

// Run validates the graph, reconciles orphaned state, and drives the
// assignment loop until no story can make further progress. A cycle in the
// dependency graph is returned as *state.CycleError.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	log := logging.New("scheduler")

	st, err := s.Store.Load()
	if err != nil {
		return nil, err
	}
	if err := state.ValidateGraph(st); err != nil {
		return nil, err
	}

	s.salvageOrphans(ctx, st)
	repaired, err := s.Store.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range repaired {
		s.progress(fmt.Sprintf("Reconciled orphaned story [%s]", id))
	}

	group, groupCtx := errgroup.WithContext(ctx)
	results := make(chan slotResult, s.Parallelism)
	free := make([]int, 0, s.Parallelism)
	for i := 1; i <= s.Parallelism; i++ {
		free = append(free, i)
	}
	active := 0

	s.progress(fmt.Sprintf("Parallel mode: %d worker slots", s.Parallelism))

	for {
		if err := ctx.Err(); err != nil {
			break
		}

		// Fill free slots with assignable stories.
		for len(free) > 0 {
			workerID := free[0]
			storyID, title, ok, err := s.claimNext(ctx, workerID)
			if err != nil {
				log.Error("claiming story failed", "err", err)
				break
			}
			if !ok {
				break
			}
			free = free[1:]
			active++
			s.progress(fmt.Sprintf("Worker %d: starting story [%s] %s", workerID, storyID, title))

			group.Go(func() error {
				err := s.runStory(groupCtx, workerID, storyID)
				results <- slotResult{workerID: workerID, storyID: storyID, err: err}
				return nil
			})
		}

		if active == 0 {
			break
		}

		res := <-results
		active--
		free = append(free, res.workerID)
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) {
				break
			}
			log.Error("story run failed", "story", res.storyID, "err", res.err)
		}
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return s.finish(ctx)
}

// salvageOrphans preserves whatever a crashed run left behind in its
// worktrees before Reconcile repairs the state document: each orphaned
// in_progress story with a surviving worktree gets its uncommitted work
// saved as a diagnostic diff against the step's pre-start revision, then
// the worktree is reset. Salvage failures are logged and skipped; a second
// pass over already-reset worktrees writes an empty diff and changes
// nothing.
func (s *Scheduler) salvageOrphans(ctx context.Context, st *workflow.State) {
	log := logging.New("scheduler")
	for _, story := range st.Stories {
		if story.Status != workflow.StoryInProgress || story.WorkerID == nil {
			continue
		}
		step := story.InProgressStep()
		if step == nil || step.RevisionAtStart == nil {
			continue
		}
		path := s.Workspaces.WorktreePath(*story.WorkerID)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		diffPath, err := s.RunDir.DiffPath(story.ID, step.ID)
		if err != nil {
			log.Warn("salvaging orphaned worktree failed", "story", story.ID, "err", err)
			continue
		}
		wsGit := s.Workspaces.Git.InDir(path)
		if err := wsGit.SaveDiff(ctx, *step.RevisionAtStart, diffPath); err != nil {
			log.Warn("saving orphaned diff failed", "story", story.ID, "err", err)
			continue
		}
		if err := wsGit.ResetHard(ctx, *step.RevisionAtStart); err != nil {
			log.Warn("resetting orphaned worktree failed", "story", story.ID, "err", err)
			continue
		}
		s.progress(fmt.Sprintf("Salvaged uncommitted work from [%s] to %s", story.ID, diffPath))
	}
}

// claimNext re-evaluates blocked stories and claims the first assignable
// one for the worker, all in a single state update. Unclaimed stories get
// the default workflow if they carry no steps yet; orphaned in_progress
// stories are simply re-assigned.
func (s *Scheduler) claimNext(ctx context.Context, workerID int) (storyID, title string, ok bool, err error) {
	_, err = s.Store.Update(ctx, func(st *workflow.State) error {
		for _, id := range state.ReevaluateBlocked(st) {
			s.progress(fmt.Sprintf("Story [%s] unblocked", id))
		}

		assignable := state.FindAssignable(st)
		if len(assignable) == 0 {
			return nil
		}
		story := assignable[0]
		story.Status = workflow.StoryInProgress
		story.WorkerID = workflow.IntPtr(workerID)
		if story.ClaimedAt == nil {
			story.ClaimedAt = workflow.TimePtr(time.Now().UTC())
		}
		if len(story.Steps) == 0 {
			story.Steps = workflow.DefaultWorkflow()
		}
		story.AddHistory(workflow.ActionStoryClaimed, workflow.IntPtr(workerID), nil, nil)
		storyID = story.ID
		title = story.Title
		ok = true
		return nil
	})
	return storyID, title, ok, err
}

// runStory executes one claimed story in its own worktree and, on
// completion, integrates the result into the base branch. Rebase conflicts
// schedule a conflict-resolution step and re-run the story.
func (s *Scheduler) runStory(ctx context.Context, workerID int, storyID string) error {
	ws, err := s.Workspaces.Acquire(ctx, workerID, storyID)
	if err != nil {
		return s.failStory(ctx, workerID, storyID, fmt.Sprintf("acquiring workspace: %v", err))
	}
	defer s.Workspaces.Dispose(context.WithoutCancel(ctx), ws)

	r := &runner.Runner{
		Store:   s.Store,
		Scratch: s.Scratch,
		Exec: &executor.Executor{
			Store:    s.Store,
			Scratch:  s.Scratch,
			Run:      s.RunDir,
			Agent:    s.Agent,
			Git:      ws.Git,
			WorkerID: workerID,
			Events:   s.Events,
		},
		WorkerID: workerID,
	}

	for attempt := 1; ; attempt++ {
		status, err := r.Run(ctx, storyID)
		if err != nil {
			return err
		}
		if status != workflow.StoryCompleted {
			s.progress(fmt.Sprintf("Worker %d: story [%s] failed", workerID, storyID))
			return nil
		}

		title := s.storyTitle(storyID)
		err = s.Workspaces.Integrate(ctx, ws, title)
		if err == nil {
			s.progress(fmt.Sprintf("Worker %d: merged [%s] into %s", workerID, storyID, s.Workspaces.BaseBranch))
			return nil
		}
		if !errors.Is(err, git.ErrRebaseConflict) {
			return s.failStory(ctx, workerID, storyID, fmt.Sprintf("integration failed: %v", err))
		}
		if attempt >= maxIntegrationAttempts {
			return s.failStory(ctx, workerID, storyID,
				fmt.Sprintf("rebase conflicts persisted after %d attempts", attempt))
		}

		s.progress(fmt.Sprintf("Worker %d: rebase conflict on [%s], scheduling resolution step", workerID, storyID))
		if err := s.scheduleConflictResolution(ctx, workerID, storyID); err != nil {
			return err
		}
	}
}

// scheduleConflictResolution re-opens a completed story after a rebase
// conflict: a coding step describing the conflict is inserted immediately
// before final_review, final_review is reset to pending, and the story
// returns to in_progress under the same worker.
func (s *Scheduler) scheduleConflictResolution(ctx context.Context, workerID int, storyID string) error {
	base := s.Workspaces.BaseBranch
	_, err := s.Store.Update(ctx, func(st *workflow.State) error {
		story, ok := st.Stories[storyID]
		if !ok {
			return fmt.Errorf("story %s not found in state", storyID)
		}

		frIdx := -1
		for i, step := range story.Steps {
			if step.Kind == workflow.KindFinalReview {
				frIdx = i
			}
		}
		if frIdx < 0 {
			return fmt.Errorf("story %s has no final_review step", storyID)
		}

		conflict := &workflow.Step{
			ID:     story.NewStepID(),
			Kind:   workflow.KindCoding,
			Status: workflow.StepPending,
			Description: fmt.Sprintf(
				"Resolve rebase conflicts with %s: rebase this branch onto %s, resolve all conflicts, and commit the result",
				base, base),
		}
		tail := make([]*workflow.Step, len(story.Steps[frIdx:]))
		copy(tail, story.Steps[frIdx:])
		story.Steps = append(story.Steps[:frIdx], append([]*workflow.Step{conflict}, tail...)...)

		fr := story.Steps[frIdx+1]
		fr.Status = workflow.StepPending
		fr.StartedAt = nil
		fr.CompletedAt = nil
		fr.Notes = nil
		fr.Error = nil

		story.Status = workflow.StoryInProgress
		story.WorkerID = workflow.IntPtr(workerID)
		story.CompletedAt = nil
		story.AddHistory(workflow.ActionWorkflowEdit, workflow.IntPtr(workerID), &conflict.ID, map[string]any{
			"operation": "conflict_resolution",
			"reason":    "rebase conflict during integration",
		})
		return nil
	})
	return err
}

// failStory marks a story failed for an orchestration-level reason (lost
// workspace, unrecoverable integration failure) and blocks its dependents.
func (s *Scheduler) failStory(ctx context.Context, workerID int, storyID, reason string) error {
	_, err := s.Store.Update(ctx, func(st *workflow.State) error {
		story, ok := st.Stories[storyID]
		if !ok {
			return fmt.Errorf("story %s not found in state", storyID)
		}
		story.Status = workflow.StoryFailed
		story.WorkerID = nil
		story.AddHistory(workflow.ActionStoryFailed, workflow.IntPtr(workerID), nil, map[string]any{
			"reason": reason,
		})
		state.BlockDependents(st, storyID)
		return nil
	})
	if err != nil {
		return err
	}
	s.progress(fmt.Sprintf("Story [%s] failed: %s", storyID, reason))
	return nil
}

func (s *Scheduler) storyTitle(storyID string) string {
	st, err := s.Store.Load()
	if err != nil {
		return storyID
	}
	if story, ok := st.Stories[storyID]; ok && story.Title != "" {
		return story.Title
	}
	return storyID
}

// finish stamps finished_at when every story is terminal and returns the
// final tally.
func (s *Scheduler) finish(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	_, err := s.Store.Update(ctx, func(st *workflow.State) error {
		*summary = Summary{}
		for _, story := range st.Stories {
			switch story.Status {
			case workflow.StoryCompleted:
				summary.Completed++
			case workflow.StoryFailed:
				summary.Failed++
			case workflow.StoryBlocked:
				summary.Blocked++
			default:
				summary.Unclaimed++
			}
		}
		if summary.Unclaimed == 0 && st.FinishedAt == nil {
			st.FinishedAt = workflow.TimePtr(time.Now().UTC())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if summary.Done() {
		s.progress(fmt.Sprintf("All stories finished: %d completed, %d failed, %d blocked",
			summary.Completed, summary.Failed, summary.Blocked))
	} else {
		s.progress(fmt.Sprintf("No assignable stories remain; %d stories still unclaimed or in progress",
			summary.Unclaimed))
	}
	return summary, nil
}

// progress writes a one-line message to the summary log and the optional
// progress sink.
func (s *Scheduler) progress(message string) {
	logging.New("scheduler").Info(message)
	if s.RunDir != nil {
		if err := s.RunDir.AppendSummary(message); err != nil {
			logging.New("scheduler").Warn("appending to summary log failed", "err", err)
		}
	}
	if s.Progress != nil {
		s.Progress(message)
	}
}

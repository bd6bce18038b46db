// Package runner drives one claimed story's step sequence to completion or
// failure. It owns no git or agent machinery itself; each step is delegated
// to the executor, and the loop re-reads state every iteration so workflow
// edits applied by the previous step take effect immediately.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/droverhq/drover/internal/executor"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/scratch"
	"github.com/droverhq/drover/internal/state"
	"github.com/droverhq/drover/internal/workflow"
)

// Runner executes a single story on behalf of one worker.
type Runner struct {
	Store    *state.Store
	Scratch  *scratch.Files
	Exec     *executor.Executor
	WorkerID int
}

// Run loops over the story's pending steps until none remain, then settles
// the story: completed when the last completed step is final_review, failed
// otherwise. A failed or cancelled step fails the story immediately (there
// is no automatic retry); failure propagates to dependent stories in the
// same state update.
func (r *Runner) Run(ctx context.Context, storyID string) (workflow.StoryStatus, error) {
	log := logging.New("runner").With("story", storyID, "worker", r.WorkerID)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		st, err := r.Store.Load()
		if err != nil {
			return "", err
		}
		story, ok := st.Stories[storyID]
		if !ok {
			return "", fmt.Errorf("story %s not found in state", storyID)
		}

		step := story.NextPendingStep()
		if step == nil {
			return r.settle(ctx, storyID, story)
		}

		res, err := r.Exec.ExecuteStep(ctx, storyID, step.ID)
		if err != nil {
			return "", err
		}
		if res.Restarted {
			log.Info("step restarted, re-running", "step", step.ID)
			continue
		}

		switch res.Step.Status {
		case workflow.StepCompleted:
			continue
		case workflow.StepFailed, workflow.StepCancelled:
			return r.fail(ctx, storyID, res.Step)
		default:
			return "", fmt.Errorf("step %s finished in unexpected status %s", step.ID, res.Step.Status)
		}
	}
}

// settle decides the terminal status of a story with no pending steps left.
func (r *Runner) settle(ctx context.Context, storyID string, story *workflow.Story) (workflow.StoryStatus, error) {
	last := story.LastCompletedStep()
	if last != nil && last.Kind == workflow.KindFinalReview {
		_, err := r.Store.Update(ctx, func(st *workflow.State) error {
			s, ok := st.Stories[storyID]
			if !ok {
				return fmt.Errorf("story %s not found in state", storyID)
			}
			s.Status = workflow.StoryCompleted
			s.CompletedAt = workflow.TimePtr(time.Now().UTC())
			s.WorkerID = nil
			s.AddHistory(workflow.ActionStoryCompleted, workflow.IntPtr(r.WorkerID), nil, nil)
			return nil
		})
		if err != nil {
			return "", err
		}
		if err := r.Scratch.ArchiveStory(storyID); err != nil {
			logging.New("runner").Warn("archiving story scratch failed", "story", storyID, "err", err)
		}
		logging.New("runner").Info("story completed", "story", storyID)
		return workflow.StoryCompleted, nil
	}

	reason := "no pending steps remain and final_review did not complete"
	_, err := r.Store.Update(ctx, func(st *workflow.State) error {
		s, ok := st.Stories[storyID]
		if !ok {
			return fmt.Errorf("story %s not found in state", storyID)
		}
		s.Status = workflow.StoryFailed
		s.WorkerID = nil
		s.AddHistory(workflow.ActionStoryFailed, workflow.IntPtr(r.WorkerID), nil, map[string]any{
			"reason": reason,
		})
		state.BlockDependents(st, storyID)
		return nil
	})
	if err != nil {
		return "", err
	}
	logging.New("runner").Error("story failed", "story", storyID, "reason", reason)
	return workflow.StoryFailed, nil
}

// fail marks the story failed after a failed or cancelled step and blocks
// its dependents.
func (r *Runner) fail(ctx context.Context, storyID string, step *workflow.Step) (workflow.StoryStatus, error) {
	details := map[string]any{"step_id": step.ID}
	if step.Error != nil {
		details["error"] = *step.Error
	}
	_, err := r.Store.Update(ctx, func(st *workflow.State) error {
		s, ok := st.Stories[storyID]
		if !ok {
			return fmt.Errorf("story %s not found in state", storyID)
		}
		s.Status = workflow.StoryFailed
		s.WorkerID = nil
		s.AddHistory(workflow.ActionStoryFailed, workflow.IntPtr(r.WorkerID), &step.ID, details)
		state.BlockDependents(st, storyID)
		return nil
	})
	if err != nil {
		return "", err
	}
	logging.New("runner").Error("story failed", "story", storyID, "step", step.ID)
	return workflow.StoryFailed, nil
}

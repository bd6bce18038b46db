// Package executor runs a single workflow step end-to-end: it captures the
// pre-start revision, transitions the step to in_progress under the state
// lock, composes the prompt, launches the agent with the kind's timeout,
// and writes the outcome (completed, failed, or cancelled) back in one
// atomic state update. Workflow edits the agent requested are validated and
// applied as part of the same update.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/git"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/rundir"
	"github.com/droverhq/drover/internal/scratch"
	"github.com/droverhq/drover/internal/state"
	"github.com/droverhq/drover/internal/workflow"
)

// ErrStepNotPending is returned when the requested step is not in the
// pending state (another process advanced it, or an edit removed it).
var ErrStepNotPending = errors.New("step is not pending")

// Executor binds one worker's step execution to its worktree and run
// directory. Git operations never run while the state lock is held.
type Executor struct {
	Store    *state.Store
	Scratch  *scratch.Files
	Run      *rundir.Dir
	Agent    agent.Agent
	Git      *git.Client
	WorkerID int

	// Events receives decoded agent stream events when non-nil, for the
	// live dashboard.
	Events chan<- agent.StreamEvent
}

// Result describes what ExecuteStep did with one step.
type Result struct {
	Step *workflow.Step
	// Restarted is true when the agent's edits returned the step to
	// pending for re-execution.
	Restarted bool
}

// ExecuteStep runs the given pending step of the worker's claimed story.
func (e *Executor) ExecuteStep(ctx context.Context, storyID, stepID string) (*Result, error) {
	log := logging.New("executor").With("story", storyID, "step", stepID, "worker", e.WorkerID)

	// Pre-start revision, captured before any lock is taken.
	revision, err := e.Git.CurrentRevision(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing pre-start revision: %w", err)
	}

	logPath, err := e.Run.LogPath(storyID, stepID)
	if err != nil {
		return nil, err
	}

	// Transition pending -> in_progress.
	var (
		storySnapshot *workflow.Story
		stepSnapshot  *workflow.Step
	)
	_, err = e.Store.Update(ctx, func(st *workflow.State) error {
		story, step, err := findStoryStep(st, storyID, stepID)
		if err != nil {
			return err
		}
		if step.Status != workflow.StepPending {
			return fmt.Errorf("%w: %s is %s", ErrStepNotPending, stepID, step.Status)
		}
		step.Status = workflow.StepInProgress
		step.StartedAt = workflow.TimePtr(time.Now().UTC())
		step.RevisionAtStart = workflow.StrPtr(revision)
		step.LogFile = workflow.StrPtr(logPath)
		story.AddHistory(workflow.ActionStepStarted, workflow.IntPtr(e.WorkerID), &stepID, nil)
		storySnapshot = story
		stepSnapshot = step
		return nil
	})
	if err != nil {
		return nil, err
	}

	globalScratch, err := e.Scratch.ReadGlobal()
	if err != nil {
		return nil, err
	}
	storyScratch, err := e.Scratch.ReadStory(storyID)
	if err != nil {
		return nil, err
	}

	prompt := ComposePrompt(storySnapshot, stepSnapshot, globalScratch, storyScratch, e.Run.EditPath(storyID))

	timeout := workflow.Timeout(stepSnapshot.Kind)
	log.Info("launching agent", "kind", stepSnapshot.Kind, "timeout", timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, runErr := e.Agent.Run(runCtx, agent.RunOpts{
		Prompt:       prompt,
		WorkDir:      e.Git.WorkDir,
		WorkerID:     e.WorkerID,
		StreamEvents: e.Events,
	})
	if runErr != nil {
		if ctx.Err() != nil {
			// Shutdown raced the launch; the cleanup writes below must
			// still complete.
			return e.finishCancelled(context.WithoutCancel(ctx), storyID, stepID, revision, nil,
				"step cancelled by orchestrator shutdown", shutdownDetails())
		}
		// The agent never ran; record the launch failure as a step failure.
		return e.finishFailed(ctx, storyID, stepID, revision, nil,
			fmt.Sprintf("launching agent: %v", runErr))
	}

	if err := os.WriteFile(logPath, []byte(res.Stdout), 0o644); err != nil {
		log.Warn("writing agent log failed", "err", err)
	}

	outcome := agent.ParseOutcome(res.Stdout)
	notes := ExtractSummary(outcome.Notes())
	if notes == "" {
		notes = outcome.Notes()
	}

	if res.TimedOut {
		return e.finishCancelled(ctx, storyID, stepID, revision, outcome,
			fmt.Sprintf("step timed out after %s", timeout), map[string]any{
				"reason":          "timeout",
				"timeout_seconds": int(timeout.Seconds()),
			})
	}
	if ctx.Err() != nil {
		// Orchestrator shutdown killed the agent, not a step-level fault.
		return e.finishCancelled(context.WithoutCancel(ctx), storyID, stepID, revision, outcome,
			"step cancelled by orchestrator shutdown", shutdownDetails())
	}
	if !res.Success() {
		return e.finishFailed(ctx, storyID, stepID, revision, outcome,
			fmt.Sprintf("agent exited with code %d (status=%s)", res.ExitCode, outcome.CompletionStatus))
	}
	return e.finishCompleted(ctx, storyID, stepID, revision, outcome, notes)
}

func shutdownDetails() map[string]any {
	return map[string]any{"reason": "shutdown"}
}

// finishCompleted processes workflow edits and marks the step completed in
// a single state update. When a restart edit returned the step to pending,
// the workspace is reset to the pre-start revision afterwards.
func (e *Executor) finishCompleted(ctx context.Context, storyID, stepID, revision string, outcome *agent.Outcome, notes string) (*Result, error) {
	log := logging.New("executor").With("story", storyID, "step", stepID)

	ops, parseErr := e.readEdits(storyID)

	var (
		result       Result
		rejection    error
		appliedEdits bool
	)
	_, err := e.Store.Update(ctx, func(st *workflow.State) error {
		story, step, err := findStoryStep(st, storyID, stepID)
		if err != nil {
			return err
		}

		if len(ops) > 0 {
			if vErr := workflow.ValidateEdits(story, ops, e.WorkerID); vErr != nil {
				rejection = vErr
			} else {
				workflow.ApplyEdits(story, ops, e.WorkerID)
				appliedEdits = true
			}
		}

		// A restart edit targeting this step returns it to pending; the
		// step does not complete on this invocation.
		if step.Status == workflow.StepPending {
			result = Result{Step: step, Restarted: true}
			return nil
		}

		step.Status = workflow.StepCompleted
		step.CompletedAt = workflow.TimePtr(time.Now().UTC())
		step.Notes = workflow.StrPtr(notes)
		applyMetrics(step, outcome)
		story.AddHistory(workflow.ActionStepCompleted, workflow.IntPtr(e.WorkerID), &stepID, map[string]any{
			"cost_usd":      outcome.CostUSD,
			"num_turns":     outcome.NumTurns,
			"input_tokens":  outcome.InputTokens,
			"output_tokens": outcome.OutputTokens,
		})
		result = Result{Step: step}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case parseErr != nil:
		e.rejectEdits(storyID, parseErr)
	case rejection != nil:
		e.rejectEdits(storyID, rejection)
	case appliedEdits:
		if err := e.Run.RemoveEdit(storyID); err != nil {
			log.Warn("removing applied edit file failed", "err", err)
		}
		log.Info("applied workflow edits", "count", len(ops))
	}

	if result.Restarted {
		// Discard this invocation's work so the revised step starts from
		// the same point.
		if err := e.saveDiffAndReset(ctx, storyID, stepID, revision); err != nil {
			return nil, err
		}
		log.Info("step restarted by workflow edit")
		return &result, nil
	}

	if notes != "" {
		header := fmt.Sprintf("\n### %s (%s)\n%s\n", result.Step.Kind, stepID, notes)
		if err := e.Scratch.AppendStory(storyID, header); err != nil {
			log.Warn("appending step notes to story scratch failed", "err", err)
		}
	}

	log.Info("step completed", "cost_usd", outcome.CostUSD, "turns", outcome.NumTurns)
	return &result, nil
}

// finishFailed discards any requested edits, preserves the diff, resets
// the workspace, and marks the step failed.
func (e *Executor) finishFailed(ctx context.Context, storyID, stepID, revision string, outcome *agent.Outcome, errMsg string) (*Result, error) {
	if _, err := e.Run.QuarantineEdit(storyID); err != nil {
		logging.New("executor").Warn("quarantining edit file failed", "err", err)
	}
	if err := e.saveDiffAndReset(ctx, storyID, stepID, revision); err != nil {
		return nil, err
	}

	var result Result
	_, err := e.Store.Update(ctx, func(st *workflow.State) error {
		story, step, err := findStoryStep(st, storyID, stepID)
		if err != nil {
			return err
		}
		step.Status = workflow.StepFailed
		step.CompletedAt = workflow.TimePtr(time.Now().UTC())
		step.Error = workflow.StrPtr(errMsg)
		applyMetrics(step, outcome)
		details := map[string]any{"error": errMsg}
		if outcome != nil {
			details["completion_status"] = outcome.CompletionStatus
			details["cost_usd"] = outcome.CostUSD
		}
		story.AddHistory(workflow.ActionStepFailed, workflow.IntPtr(e.WorkerID), &stepID, details)
		result = Result{Step: step}
		return nil
	})
	if err != nil {
		return nil, err
	}

	line := fmt.Sprintf("- [%s/%s] step failed: %s", storyID, stepID, errMsg)
	if err := e.Scratch.AppendGlobal(ctx, line); err != nil {
		logging.New("executor").Warn("appending failure to global scratch failed", "err", err)
	}

	logging.New("executor").Error("step failed", "story", storyID, "step", stepID, "error", errMsg)
	return &result, nil
}

// finishCancelled handles timeout and orchestrator shutdown: same cleanup
// as failure, but the step status is cancelled and its edit request is
// never applied. Shutdown callers pass an uncancellable context so the
// cleanup writes complete.
func (e *Executor) finishCancelled(ctx context.Context, storyID, stepID, revision string, outcome *agent.Outcome, errMsg string, details map[string]any) (*Result, error) {
	if _, err := e.Run.QuarantineEdit(storyID); err != nil {
		logging.New("executor").Warn("quarantining edit file failed", "err", err)
	}
	if err := e.saveDiffAndReset(ctx, storyID, stepID, revision); err != nil {
		return nil, err
	}

	var result Result
	_, err := e.Store.Update(ctx, func(st *workflow.State) error {
		story, step, err := findStoryStep(st, storyID, stepID)
		if err != nil {
			return err
		}
		step.Status = workflow.StepCancelled
		step.CompletedAt = workflow.TimePtr(time.Now().UTC())
		step.Error = workflow.StrPtr(errMsg)
		applyMetrics(step, outcome)
		story.AddHistory(workflow.ActionStepCancelled, workflow.IntPtr(e.WorkerID), &stepID, details)
		result = Result{Step: step}
		return nil
	})
	if err != nil {
		return nil, err
	}

	line := fmt.Sprintf("- [%s/%s] %s", storyID, stepID, errMsg)
	if err := e.Scratch.AppendGlobal(ctx, line); err != nil {
		logging.New("executor").Warn("appending cancellation to global scratch failed", "err", err)
	}

	logging.New("executor").Warn("step cancelled", "story", storyID, "step", stepID, "error", errMsg)
	return &result, nil
}

// readEdits loads and parses the story's edit file. A missing file yields
// (nil, nil); a structurally invalid file yields the parse error.
func (e *Executor) readEdits(storyID string) ([]workflow.EditOp, error) {
	data, err := os.ReadFile(e.Run.EditPath(storyID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return workflow.ParseEdits(string(data))
}

// rejectEdits quarantines the edit file and records the rejection reason
// in the story scratch so the next agent invocation sees it.
func (e *Executor) rejectEdits(storyID string, reason error) {
	log := logging.New("executor").With("story", storyID)
	log.Warn("workflow edits rejected", "reason", reason)
	if _, err := e.Run.QuarantineEdit(storyID); err != nil {
		log.Warn("quarantining edit file failed", "err", err)
	}
	line := fmt.Sprintf("\n**Workflow edit rejected:** %v\n", reason)
	if err := e.Scratch.AppendStory(storyID, line); err != nil {
		log.Warn("recording rejection in story scratch failed", "err", err)
	}
}

// saveDiffAndReset preserves whatever the agent changed since revision to
// the step's diagnostic diff path, then hard-resets the worktree.
func (e *Executor) saveDiffAndReset(ctx context.Context, storyID, stepID, revision string) error {
	diffPath, err := e.Run.DiffPath(storyID, stepID)
	if err != nil {
		return err
	}
	if err := e.Git.SaveDiff(ctx, revision, diffPath); err != nil {
		return fmt.Errorf("saving diagnostic diff: %w", err)
	}
	if err := e.Git.ResetHard(ctx, revision); err != nil {
		return fmt.Errorf("resetting workspace: %w", err)
	}
	return nil
}

func applyMetrics(step *workflow.Step, outcome *agent.Outcome) {
	if outcome == nil {
		return
	}
	step.CostUSD = workflow.Float64Ptr(outcome.CostUSD)
	step.InputTokens = workflow.IntPtr(outcome.InputTokens)
	step.OutputTokens = workflow.IntPtr(outcome.OutputTokens)
}

func findStoryStep(st *workflow.State, storyID, stepID string) (*workflow.Story, *workflow.Step, error) {
	story, ok := st.Stories[storyID]
	if !ok {
		return nil, nil, fmt.Errorf("story %s not found in state", storyID)
	}
	step := story.FindStep(stepID)
	if step == nil {
		return nil, nil, fmt.Errorf("step %s not found in story %s", stepID, storyID)
	}
	return story, step, nil
}

package workflow

import (
	"fmt"
	"strings"
)

// ValidationError reports why an edit request was rejected. Every failed
// guardrail is listed; the whole edit file is rejected as a unit.
type ValidationError struct {
	StoryID string
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow edits for %s rejected: %s", e.StoryID, strings.Join(e.Reasons, "; "))
}

// ValidateEdits checks every operation in ops against the guardrails,
// without mutating story. Validation is atomic: if any operation fails,
// the returned error lists all failures and none of the operations may be
// applied.
//
// requester is the worker ID asking for the edit; only the story's
// assigned worker may edit its workflow.
func ValidateEdits(story *Story, ops []EditOp, requester int) error {
	var reasons []string
	fail := func(format string, args ...any) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	if story.WorkerID == nil || *story.WorkerID != requester {
		fail("worker %d is not the assigned worker for story %s", requester, story.ID)
	}

	// Simulated total step count across all operations in the file.
	count := len(story.Steps)

	for _, op := range ops {
		switch op.Operation {
		case OpAddAfter:
			target := story.FindStep(op.TargetStepID)
			if target == nil {
				fail("add_after: target step %q not found", op.TargetStepID)
				continue
			}
			if target.Kind == KindFinalReview {
				fail("add_after: no step may be inserted after final_review")
			}
			count += len(op.NewSteps)

		case OpSplit:
			target := story.FindStep(op.TargetStepID)
			if target == nil {
				fail("split: target step %q not found", op.TargetStepID)
				continue
			}
			if target.Status != StepPending {
				fail("split: can only split pending steps, %q is %s", op.TargetStepID, target.Status)
			}
			if Mandatory(target.Kind) {
				fail("split: cannot replace mandatory step kind %q", target.Kind)
			}
			count += len(op.ReplacementSteps) - 1

		case OpSkip:
			target := story.FindStep(op.TargetStepID)
			if target == nil {
				fail("skip: target step %q not found", op.TargetStepID)
				continue
			}
			if target.Status != StepPending {
				fail("skip: can only skip pending steps, %q is %s", op.TargetStepID, target.Status)
			}
			if Mandatory(target.Kind) {
				fail("skip: cannot skip mandatory step kind %q", target.Kind)
			}

		case OpReorder:
			validateReorder(story, op, fail)

		case OpEditDescription:
			target := story.FindStep(op.TargetStepID)
			if target == nil {
				fail("edit_description: target step %q not found", op.TargetStepID)
				continue
			}
			if target.Status != StepPending {
				fail("edit_description: can only edit pending steps, %q is %s", op.TargetStepID, target.Status)
			}

		case OpRestart:
			target := story.FindStep(op.TargetStepID)
			if target == nil {
				fail("restart: target step %q not found", op.TargetStepID)
				continue
			}
			if target.Status != StepInProgress {
				fail("restart: can only restart the in_progress step, %q is %s", op.TargetStepID, target.Status)
			}
			if target.RestartCount >= MaxRestarts {
				fail("restart: step %q has reached the maximum of %d restarts", op.TargetStepID, MaxRestarts)
			}

		default:
			fail("unknown operation %q", op.Operation)
		}
	}

	if count > MaxSteps {
		fail("total steps would be %d, exceeding the maximum of %d", count, MaxSteps)
	}

	if len(reasons) > 0 {
		return &ValidationError{StoryID: story.ID, Reasons: reasons}
	}
	return nil
}

// validateReorder checks guardrail 7: the new ordering must be a
// permutation of exactly the current pending-step IDs, with final_review
// last when it is part of the pending suffix.
func validateReorder(story *Story, op EditOp, fail func(string, ...any)) {
	pending := story.PendingStepIDs()

	pendingSet := make(map[string]bool, len(pending))
	for _, id := range pending {
		pendingSet[id] = true
	}
	orderSet := make(map[string]bool, len(op.NewOrder))
	for _, id := range op.NewOrder {
		if orderSet[id] {
			fail("reorder: duplicate step ID %q in new_order", id)
			return
		}
		orderSet[id] = true
	}

	if len(op.NewOrder) != len(pending) || !sameSet(pendingSet, orderSet) {
		fail("reorder: new_order must contain exactly the pending step IDs %v, got %v", pending, op.NewOrder)
		return
	}

	for _, id := range pending {
		step := story.FindStep(id)
		if step != nil && step.Kind == KindFinalReview {
			if op.NewOrder[len(op.NewOrder)-1] != id {
				fail("reorder: final_review must remain the last step")
			}
			return
		}
	}
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

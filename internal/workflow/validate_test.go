package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorker = 1

func validateOne(t *testing.T, s *Story, op EditOp) error {
	t.Helper()
	return ValidateEdits(s, []EditOp{op}, testWorker)
}

func TestValidateEdits_WrongWorkerRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	op := EditOp{Operation: OpSkip, TargetStepID: "step-004", Reason: "x"}
	err := ValidateEdits(s, []EditOp{op}, 99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not the assigned worker")
}

func TestValidateEdits_UnassignedStoryRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	s.WorkerID = nil
	err := validateOne(t, s, EditOp{Operation: OpSkip, TargetStepID: "step-004", Reason: "x"})
	assert.Error(t, err)
}

func TestValidateEdits_SkipMandatoryRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	// step-006 is linting, step-010 is final_review.
	for _, id := range []string{"step-006", "step-010"} {
		err := validateOne(t, s, EditOp{Operation: OpSkip, TargetStepID: id, Reason: "x"})
		require.Error(t, err, "skip of %s must be rejected", id)
		assert.Contains(t, err.Error(), "mandatory")
	}
}

func TestValidateEdits_SkipNonPendingRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	s.Steps[2].Status = StepCompleted
	err := validateOne(t, s, EditOp{Operation: OpSkip, TargetStepID: "step-003", Reason: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending")
}

func TestValidateEdits_AddAfterFinalReviewRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	err := validateOne(t, s, EditOp{
		Operation:    OpAddAfter,
		TargetStepID: "step-010",
		Reason:       "x",
		NewSteps:     []NewStepSpec{{Kind: KindCoding, Description: "more work"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final_review")
}

func TestValidateEdits_AddAfterUnknownTargetRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	err := validateOne(t, s, EditOp{
		Operation:    OpAddAfter,
		TargetStepID: "step-099",
		Reason:       "x",
		NewSteps:     []NewStepSpec{{Kind: KindCoding, Description: "a"}},
	})
	assert.Error(t, err)
}

func TestValidateEdits_ThirtyFirstStepRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	// Grow to exactly MaxSteps.
	for len(s.Steps) < MaxSteps {
		s.Steps = append(s.Steps[:len(s.Steps)-1], &Step{
			ID:     s.NewStepID(),
			Kind:   KindCoding,
			Status: StepPending,
		}, s.Steps[len(s.Steps)-1])
	}
	require.Len(t, s.Steps, MaxSteps)

	err := validateOne(t, s, EditOp{
		Operation:    OpAddAfter,
		TargetStepID: "step-005",
		Reason:       "x",
		NewSteps:     []NewStepSpec{{Kind: KindCoding, Description: "one too many"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeding the maximum")
}

func TestValidateEdits_StepCountSimulatedAcrossOps(t *testing.T) {
	t.Parallel()

	s := testStory() // 10 steps
	ops := []EditOp{
		{
			Operation:    OpAddAfter,
			TargetStepID: "step-005",
			Reason:       "x",
			NewSteps:     make([]NewStepSpec, 15),
		},
		{
			Operation:    OpAddAfter,
			TargetStepID: "step-005",
			Reason:       "x",
			NewSteps:     make([]NewStepSpec, 10),
		},
	}
	for i := range ops {
		for j := range ops[i].NewSteps {
			ops[i].NewSteps[j] = NewStepSpec{Kind: KindCoding, Description: "fill"}
		}
	}
	// 10 + 15 + 10 = 35 > 30: the whole file is rejected.
	err := ValidateEdits(s, ops, testWorker)
	assert.Error(t, err)
}

func TestValidateEdits_SplitPendingAccepted(t *testing.T) {
	t.Parallel()

	s := testStory()
	err := validateOne(t, s, EditOp{
		Operation:    OpSplit,
		TargetStepID: "step-005",
		Reason:       "story spans two layers",
		ReplacementSteps: []NewStepSpec{
			{Kind: KindCoding, Description: "backend"},
			{Kind: KindCoding, Description: "frontend"},
		},
	})
	assert.NoError(t, err)
}

func TestValidateEdits_SplitMandatoryRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	err := validateOne(t, s, EditOp{
		Operation:    OpSplit,
		TargetStepID: "step-006", // linting
		Reason:       "x",
		ReplacementSteps: []NewStepSpec{
			{Kind: KindCoding, Description: "a"},
			{Kind: KindCoding, Description: "b"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mandatory")
}

func TestValidateEdits_SplitInProgressRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	s.Steps[4].Status = StepInProgress
	err := validateOne(t, s, EditOp{
		Operation:    OpSplit,
		TargetStepID: "step-005",
		Reason:       "x",
		ReplacementSteps: []NewStepSpec{
			{Kind: KindCoding, Description: "a"},
			{Kind: KindCoding, Description: "b"},
		},
	})
	assert.Error(t, err)
}

func TestValidateEdits_RestartInProgressAccepted(t *testing.T) {
	t.Parallel()

	s := testStory()
	s.Steps[4].Status = StepInProgress
	err := validateOne(t, s, EditOp{
		Operation:      OpRestart,
		TargetStepID:   "step-005",
		Reason:         "wrong approach",
		NewDescription: "Use the existing serializer instead",
	})
	assert.NoError(t, err)
}

func TestValidateEdits_RestartPendingRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	err := validateOne(t, s, EditOp{
		Operation:      OpRestart,
		TargetStepID:   "step-005",
		Reason:         "x",
		NewDescription: "y",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in_progress")
}

func TestValidateEdits_FourthRestartRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	s.Steps[4].Status = StepInProgress
	s.Steps[4].RestartCount = MaxRestarts
	err := validateOne(t, s, EditOp{
		Operation:      OpRestart,
		TargetStepID:   "step-005",
		Reason:         "x",
		NewDescription: "y",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum")
}

func TestValidateEdits_RestartFinalReviewAllowed(t *testing.T) {
	t.Parallel()

	// final_review may be restarted; restart does not remove it from the
	// sequence, so the mandatory-step rule does not apply.
	s := testStory()
	for i := 0; i < 9; i++ {
		s.Steps[i].Status = StepCompleted
	}
	s.Steps[9].Status = StepInProgress
	err := validateOne(t, s, EditOp{
		Operation:      OpRestart,
		TargetStepID:   "step-010",
		Reason:         "criteria 3 unverified",
		NewDescription: "Re-verify criterion 3 before committing",
	})
	assert.NoError(t, err)
}

func TestValidateEdits_ReorderValidPermutation(t *testing.T) {
	t.Parallel()

	s := testStory()
	for i := 0; i < 4; i++ {
		s.Steps[i].Status = StepCompleted
	}
	// Pending: 005..010. Swap 007 and 008, keep 010 (final_review) last.
	err := validateOne(t, s, EditOp{
		Operation: OpReorder,
		Reason:    "lint after testing round",
		NewOrder:  []string{"step-005", "step-006", "step-008", "step-007", "step-009", "step-010"},
	})
	assert.NoError(t, err)
}

func TestValidateEdits_ReorderOmittedIDRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	for i := 0; i < 4; i++ {
		s.Steps[i].Status = StepCompleted
	}
	err := validateOne(t, s, EditOp{
		Operation: OpReorder,
		Reason:    "x",
		NewOrder:  []string{"step-005", "step-006", "step-007", "step-008", "step-010"}, // 009 missing
	})
	assert.Error(t, err)
}

func TestValidateEdits_ReorderForeignIDRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	for i := 0; i < 4; i++ {
		s.Steps[i].Status = StepCompleted
	}
	err := validateOne(t, s, EditOp{
		Operation: OpReorder,
		Reason:    "x",
		NewOrder:  []string{"step-005", "step-006", "step-007", "step-008", "step-009", "step-042"},
	})
	assert.Error(t, err)
}

func TestValidateEdits_ReorderFinalReviewNotLastRejected(t *testing.T) {
	t.Parallel()

	s := testStory()
	for i := 0; i < 4; i++ {
		s.Steps[i].Status = StepCompleted
	}
	err := validateOne(t, s, EditOp{
		Operation: OpReorder,
		Reason:    "x",
		NewOrder:  []string{"step-005", "step-006", "step-010", "step-007", "step-008", "step-009"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final_review")
}

func TestValidateEdits_AllFailuresReported(t *testing.T) {
	t.Parallel()

	s := testStory()
	ops := []EditOp{
		{Operation: OpSkip, TargetStepID: "step-006", Reason: "x"},  // mandatory
		{Operation: OpSkip, TargetStepID: "step-099", Reason: "x"},  // unknown
	}
	err := ValidateEdits(s, ops, testWorker)
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Reasons, 2)
}

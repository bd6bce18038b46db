package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepIDs(s *Story) []string {
	ids := make([]string, 0, len(s.Steps))
	for _, st := range s.Steps {
		ids = append(ids, st.ID)
	}
	return ids
}

func TestApplyEdits_AddAfterInsertsInOrder(t *testing.T) {
	t.Parallel()

	s := testStory()
	ApplyEdits(s, []EditOp{{
		Operation:    OpAddAfter,
		TargetStepID: "step-007",
		Reason:       "tests failed",
		NewSteps: []NewStepSpec{
			{Kind: KindCoding, Description: "Fix failing tests"},
			{Kind: KindInitialTesting, Description: "Re-run tests"},
		},
	}}, 1)

	require.Len(t, s.Steps, 12)
	assert.Equal(t, []string{
		"step-001", "step-002", "step-003", "step-004", "step-005",
		"step-006", "step-007", "step-011", "step-012",
		"step-008", "step-009", "step-010",
	}, stepIDs(s))

	inserted := s.FindStep("step-011")
	require.NotNil(t, inserted)
	assert.Equal(t, KindCoding, inserted.Kind)
	assert.Equal(t, StepPending, inserted.Status)
	assert.Equal(t, "Fix failing tests", inserted.Description)
}

func TestApplyEdits_SplitReplacesTarget(t *testing.T) {
	t.Parallel()

	s := testStory()
	ApplyEdits(s, []EditOp{{
		Operation:    OpSplit,
		TargetStepID: "step-005",
		Reason:       "two layers",
		ReplacementSteps: []NewStepSpec{
			{Kind: KindCoding, Description: "backend"},
			{Kind: KindCoding, Description: "frontend"},
		},
	}}, 1)

	require.Len(t, s.Steps, 11)
	assert.Nil(t, s.FindStep("step-005"))
	assert.Equal(t, []string{
		"step-001", "step-002", "step-003", "step-004",
		"step-011", "step-012",
		"step-006", "step-007", "step-008", "step-009", "step-010",
	}, stepIDs(s))
}

func TestApplyEdits_SkipRecordsReason(t *testing.T) {
	t.Parallel()

	s := testStory()
	ApplyEdits(s, []EditOp{{
		Operation:    OpSkip,
		TargetStepID: "step-004",
		Reason:       "no new tests needed",
	}}, 1)

	step := s.FindStep("step-004")
	require.NotNil(t, step)
	assert.Equal(t, StepSkipped, step.Status)
	require.NotNil(t, step.SkipReason)
	assert.Equal(t, "no new tests needed", *step.SkipReason)
}

func TestApplyEdits_ReorderKeepsSettledPrefix(t *testing.T) {
	t.Parallel()

	s := testStory()
	for i := 0; i < 4; i++ {
		s.Steps[i].Status = StepCompleted
	}
	ApplyEdits(s, []EditOp{{
		Operation: OpReorder,
		Reason:    "lint after the testing round",
		NewOrder:  []string{"step-005", "step-007", "step-006", "step-008", "step-009", "step-010"},
	}}, 1)

	assert.Equal(t, []string{
		"step-001", "step-002", "step-003", "step-004",
		"step-005", "step-007", "step-006", "step-008", "step-009", "step-010",
	}, stepIDs(s))
}

func TestApplyEdits_EditDescription(t *testing.T) {
	t.Parallel()

	s := testStory()
	ApplyEdits(s, []EditOp{{
		Operation:      OpEditDescription,
		TargetStepID:   "step-005",
		Reason:         "narrow scope",
		NewDescription: "Only touch the session handler",
	}}, 1)

	assert.Equal(t, "Only touch the session handler", s.FindStep("step-005").Description)
}

func TestApplyEdits_RestartResetsExecutionState(t *testing.T) {
	t.Parallel()

	s := testStory()
	step := s.FindStep("step-005")
	step.Status = StepInProgress
	step.StartedAt = TimePtr(time.Now().UTC())
	step.RevisionAtStart = StrPtr("abc1234")
	step.Notes = StrPtr("partial notes")
	step.CostUSD = Float64Ptr(0.42)
	step.InputTokens = IntPtr(1000)
	step.OutputTokens = IntPtr(500)
	step.LogFile = StrPtr("logs/US-001_step-005.jsonl")

	ApplyEdits(s, []EditOp{{
		Operation:      OpRestart,
		TargetStepID:   "step-005",
		Reason:         "wrong approach",
		NewDescription: "Use the existing serializer",
	}}, 1)

	assert.Equal(t, StepPending, step.Status)
	assert.Equal(t, "Use the existing serializer", step.Description)
	assert.Equal(t, 1, step.RestartCount)
	assert.Nil(t, step.StartedAt)
	assert.Nil(t, step.CompletedAt)
	assert.Nil(t, step.Notes)
	assert.Nil(t, step.Error)
	assert.Nil(t, step.CostUSD)
	assert.Nil(t, step.InputTokens)
	assert.Nil(t, step.OutputTokens)
	assert.Nil(t, step.LogFile)

	// The pre-start revision survives so the workspace can be reset to it.
	require.NotNil(t, step.RevisionAtStart)
	assert.Equal(t, "abc1234", *step.RevisionAtStart)
}

func TestApplyEdits_OneHistoryEntryPerOp(t *testing.T) {
	t.Parallel()

	s := testStory()
	ops := []EditOp{
		{Operation: OpSkip, TargetStepID: "step-004", Reason: "a"},
		{Operation: OpEditDescription, TargetStepID: "step-005", Reason: "b", NewDescription: "x"},
	}
	ApplyEdits(s, ops, 3)

	require.Len(t, s.History, 2)
	for i, entry := range s.History {
		assert.Equal(t, ActionWorkflowEdit, entry.Action)
		require.NotNil(t, entry.WorkerID)
		assert.Equal(t, 3, *entry.WorkerID)
		assert.Equal(t, string(ops[i].Operation), entry.Details["operation"])
	}
}

func TestValidateThenApply_RejectionLeavesStoryUnchanged(t *testing.T) {
	t.Parallel()

	s := testStory()
	beforeIDs := stepIDs(s)
	ops := []EditOp{
		{Operation: OpSkip, TargetStepID: "step-004", Reason: "fine on its own"},
		{Operation: OpSkip, TargetStepID: "step-006", Reason: "mandatory, rejects the file"},
	}

	err := ValidateEdits(s, ops, 1)
	require.Error(t, err)

	// The caller never applies a rejected file. The validation pass itself
	// must not have touched the story either.
	assert.Equal(t, beforeIDs, stepIDs(s))
	assert.Equal(t, StepPending, s.FindStep("step-004").Status)
	assert.Empty(t, s.History)
}

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEdits_Array(t *testing.T) {
	t.Parallel()

	ops, err := ParseEdits(`[
		{"operation": "skip", "target_step_id": "step-004", "reason": "no new tests needed"},
		{"operation": "edit_description", "target_step_id": "step-005", "reason": "narrow scope", "new_description": "Only touch the handler"}
	]`)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, OpSkip, ops[0].Operation)
	assert.Equal(t, OpEditDescription, ops[1].Operation)
}

func TestParseEdits_SingleObject(t *testing.T) {
	t.Parallel()

	ops, err := ParseEdits(`{"operation": "skip", "target_step_id": "step-004", "reason": "migration-only story"}`)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "step-004", ops[0].TargetStepID)
}

func TestParseEdits_CodeFenced(t *testing.T) {
	t.Parallel()

	text := "I will add a fix cycle.\n```json\n" +
		`[{"operation": "add_after", "target_step_id": "step-007", "reason": "tests failed",
		   "new_steps": [{"kind": "coding", "description": "Fix failing tests"}]}]` +
		"\n```"
	ops, err := ParseEdits(text)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Len(t, ops[0].NewSteps, 1)
	assert.Equal(t, KindCoding, ops[0].NewSteps[0].Kind)
}

func TestParseEdits_StructuralErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
	}{
		{"unknown operation", `{"operation": "merge", "reason": "x"}`},
		{"missing reason", `{"operation": "skip", "target_step_id": "step-004"}`},
		{"skip without target", `{"operation": "skip", "reason": "x"}`},
		{"add_after without steps", `{"operation": "add_after", "target_step_id": "step-003", "reason": "x"}`},
		{"split with one replacement", `{"operation": "split", "target_step_id": "step-005", "reason": "x", "replacement_steps": [{"kind": "coding", "description": "a"}]}`},
		{"reorder without order", `{"operation": "reorder", "reason": "x"}`},
		{"restart without description", `{"operation": "restart", "target_step_id": "step-005", "reason": "x"}`},
		{"bad step kind", `{"operation": "add_after", "target_step_id": "step-003", "reason": "x", "new_steps": [{"kind": "deploy", "description": "a"}]}`},
		{"not json", "just some prose"},
		{"empty array", `[]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseEdits(tc.text)
			assert.Error(t, err)
		})
	}
}

func TestEditOp_Details(t *testing.T) {
	t.Parallel()

	op := EditOp{
		Operation:    OpAddAfter,
		TargetStepID: "step-007",
		Reason:       "tests failed",
		NewSteps: []NewStepSpec{
			{Kind: KindCoding, Description: "fix"},
			{Kind: KindInitialTesting, Description: "retest"},
		},
	}
	d := op.Details()
	assert.Equal(t, "add_after", d["operation"])
	assert.Equal(t, "tests failed", d["reason"])
	assert.Equal(t, "step-007", d["target_step_id"])
	assert.Equal(t, 2, d["new_steps"])
}

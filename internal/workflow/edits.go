package workflow

import (
	"fmt"

	"github.com/droverhq/drover/internal/jsonutil"
)

// EditOperation tags one requested mutation of a story's workflow.
type EditOperation string

const (
	OpAddAfter        EditOperation = "add_after"
	OpSplit           EditOperation = "split"
	OpSkip            EditOperation = "skip"
	OpReorder         EditOperation = "reorder"
	OpEditDescription EditOperation = "edit_description"
	OpRestart         EditOperation = "restart"
)

// NewStepSpec describes a step to be created by add_after or split.
type NewStepSpec struct {
	Kind        StepKind `json:"kind"`
	Description string   `json:"description"`
}

// EditOp is a single edit operation from an agent's edit-request file. The
// Operation field determines which payload fields are meaningful:
//
//	add_after:        TargetStepID, NewSteps
//	split:            TargetStepID, ReplacementSteps
//	skip:             TargetStepID
//	reorder:          NewOrder
//	edit_description: TargetStepID, NewDescription
//	restart:          TargetStepID, NewDescription
//
// Reason is required on every operation.
type EditOp struct {
	Operation        EditOperation `json:"operation"`
	TargetStepID     string        `json:"target_step_id,omitempty"`
	Reason           string        `json:"reason"`
	NewSteps         []NewStepSpec `json:"new_steps,omitempty"`
	ReplacementSteps []NewStepSpec `json:"replacement_steps,omitempty"`
	NewOrder         []string      `json:"new_order,omitempty"`
	NewDescription   string        `json:"new_description,omitempty"`
}

// ParseEdits decodes an edit-request document. The payload may be a single
// operation object or an array of operations, optionally wrapped in a
// markdown code fence. Structural problems (unknown operation tag, missing
// reason, missing operation payload) are errors; guardrail checks against a
// concrete story happen separately in ValidateEdits.
func ParseEdits(text string) ([]EditOp, error) {
	var ops []EditOp
	if err := jsonutil.ExtractInto(text, &ops); err != nil {
		// Retry as a single operation object.
		var one EditOp
		if singleErr := jsonutil.ExtractInto(text, &one); singleErr != nil {
			return nil, fmt.Errorf("parsing edit request: %w", err)
		}
		ops = []EditOp{one}
	}

	if len(ops) == 0 {
		return nil, fmt.Errorf("parsing edit request: no operations present")
	}

	for i := range ops {
		if err := checkShape(&ops[i]); err != nil {
			return nil, fmt.Errorf("parsing edit request: operation %d: %w", i, err)
		}
	}
	return ops, nil
}

// checkShape validates that op carries the payload its operation requires.
func checkShape(op *EditOp) error {
	if op.Reason == "" {
		return fmt.Errorf("%s: reason is required", op.Operation)
	}

	switch op.Operation {
	case OpAddAfter:
		if op.TargetStepID == "" {
			return fmt.Errorf("add_after: target_step_id is required")
		}
		if len(op.NewSteps) == 0 {
			return fmt.Errorf("add_after: new_steps must not be empty")
		}
		return checkStepSpecs(op.NewSteps)
	case OpSplit:
		if op.TargetStepID == "" {
			return fmt.Errorf("split: target_step_id is required")
		}
		if len(op.ReplacementSteps) < 2 {
			return fmt.Errorf("split: replacement_steps must contain at least two steps")
		}
		return checkStepSpecs(op.ReplacementSteps)
	case OpSkip:
		if op.TargetStepID == "" {
			return fmt.Errorf("skip: target_step_id is required")
		}
	case OpReorder:
		if len(op.NewOrder) == 0 {
			return fmt.Errorf("reorder: new_order must not be empty")
		}
	case OpEditDescription:
		if op.TargetStepID == "" {
			return fmt.Errorf("edit_description: target_step_id is required")
		}
		if op.NewDescription == "" {
			return fmt.Errorf("edit_description: new_description is required")
		}
	case OpRestart:
		if op.TargetStepID == "" {
			return fmt.Errorf("restart: target_step_id is required")
		}
		if op.NewDescription == "" {
			return fmt.Errorf("restart: new_description is required")
		}
	default:
		return fmt.Errorf("unknown operation %q", op.Operation)
	}
	return nil
}

func checkStepSpecs(specs []NewStepSpec) error {
	for _, spec := range specs {
		if !ValidKind(spec.Kind) {
			return fmt.Errorf("unknown step kind %q", spec.Kind)
		}
	}
	return nil
}

// Details renders the operation as a history-entry details map.
func (op EditOp) Details() map[string]any {
	d := map[string]any{
		"operation": string(op.Operation),
		"reason":    op.Reason,
	}
	if op.TargetStepID != "" {
		d["target_step_id"] = op.TargetStepID
	}
	if len(op.NewOrder) > 0 {
		d["new_order"] = op.NewOrder
	}
	if op.NewDescription != "" {
		d["new_description"] = op.NewDescription
	}
	if n := len(op.NewSteps); n > 0 {
		d["new_steps"] = n
	}
	if n := len(op.ReplacementSteps); n > 0 {
		d["replacement_steps"] = n
	}
	return d
}

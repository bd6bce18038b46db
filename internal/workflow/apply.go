package workflow

// ApplyEdits mutates story according to ops, in order. Callers must run
// ValidateEdits first on the same story snapshot; ApplyEdits assumes the
// operations passed validation and appends one workflow_edit history entry
// per operation on behalf of workerID.
func ApplyEdits(story *Story, ops []EditOp, workerID int) {
	for _, op := range ops {
		switch op.Operation {
		case OpAddAfter:
			applyAddAfter(story, op)
		case OpSplit:
			applySplit(story, op)
		case OpSkip:
			applySkip(story, op)
		case OpReorder:
			applyReorder(story, op)
		case OpEditDescription:
			applyEditDescription(story, op)
		case OpRestart:
			applyRestart(story, op)
		}
		story.AddHistory(ActionWorkflowEdit, IntPtr(workerID), strPtrOrNil(op.TargetStepID), op.Details())
	}
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// newSteps materializes step specs with freshly allocated IDs.
func newSteps(story *Story, specs []NewStepSpec) []*Step {
	steps := make([]*Step, 0, len(specs))
	for _, spec := range specs {
		steps = append(steps, &Step{
			ID:          story.NewStepID(),
			Kind:        spec.Kind,
			Status:      StepPending,
			Description: spec.Description,
		})
	}
	return steps
}

func stepIndex(story *Story, stepID string) int {
	for i, st := range story.Steps {
		if st.ID == stepID {
			return i
		}
	}
	return -1
}

func applyAddAfter(story *Story, op EditOp) {
	idx := stepIndex(story, op.TargetStepID)
	if idx < 0 {
		return
	}
	inserted := newSteps(story, op.NewSteps)
	tail := make([]*Step, len(story.Steps[idx+1:]))
	copy(tail, story.Steps[idx+1:])
	story.Steps = append(append(story.Steps[:idx+1], inserted...), tail...)
}

func applySplit(story *Story, op EditOp) {
	idx := stepIndex(story, op.TargetStepID)
	if idx < 0 {
		return
	}
	replacement := newSteps(story, op.ReplacementSteps)
	tail := make([]*Step, len(story.Steps[idx+1:]))
	copy(tail, story.Steps[idx+1:])
	story.Steps = append(append(story.Steps[:idx], replacement...), tail...)
}

func applySkip(story *Story, op EditOp) {
	if step := story.FindStep(op.TargetStepID); step != nil {
		step.Status = StepSkipped
		step.SkipReason = StrPtr(op.Reason)
	}
}

// applyReorder permutes the pending suffix. Non-pending steps keep their
// positions; the reordered pending steps follow them.
func applyReorder(story *Story, op EditOp) {
	var settled []*Step
	pendingByID := make(map[string]*Step)
	for _, st := range story.Steps {
		if st.Status == StepPending {
			pendingByID[st.ID] = st
		} else {
			settled = append(settled, st)
		}
	}
	for _, id := range op.NewOrder {
		if st, ok := pendingByID[id]; ok {
			settled = append(settled, st)
		}
	}
	story.Steps = settled
}

func applyEditDescription(story *Story, op EditOp) {
	if step := story.FindStep(op.TargetStepID); step != nil {
		step.Description = op.NewDescription
	}
}

// applyRestart revises the in_progress step's description and returns it
// to pending for re-execution. Execution artifacts are cleared; the
// pre-start revision is kept so the executor can reset the workspace to
// the same point before re-invoking.
func applyRestart(story *Story, op EditOp) {
	step := story.FindStep(op.TargetStepID)
	if step == nil {
		return
	}
	step.Description = op.NewDescription
	step.Status = StepPending
	step.RestartCount++
	step.StartedAt = nil
	step.CompletedAt = nil
	step.Notes = nil
	step.Error = nil
	step.CostUSD = nil
	step.InputTokens = nil
	step.OutputTokens = nil
	step.LogFile = nil
}

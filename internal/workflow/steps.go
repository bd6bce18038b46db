package workflow

import "time"

// KindSpec carries the fixed metadata for one step kind: its default agent
// timeout, whether an agent executing a step of that kind may request
// workflow edits, and whether the kind is mandatory (cannot be skipped or
// removed from any workflow).
type KindSpec struct {
	Timeout       time.Duration
	AllowsEditing bool
	Mandatory     bool
}

// kindSpecs is the authoritative table for the ten step kinds.
var kindSpecs = map[StepKind]KindSpec{
	KindContextGathering: {Timeout: 15 * time.Minute, AllowsEditing: false},
	KindPlanning:         {Timeout: 10 * time.Minute, AllowsEditing: true},
	KindArchitecture:     {Timeout: 10 * time.Minute, AllowsEditing: true},
	KindTestArchitecture: {Timeout: 10 * time.Minute, AllowsEditing: true},
	KindCoding:           {Timeout: 30 * time.Minute, AllowsEditing: true},
	KindLinting:          {Timeout: 5 * time.Minute, AllowsEditing: false, Mandatory: true},
	KindInitialTesting:   {Timeout: 20 * time.Minute, AllowsEditing: true},
	KindReview:           {Timeout: 10 * time.Minute, AllowsEditing: true},
	KindPruneTests:       {Timeout: 10 * time.Minute, AllowsEditing: false},
	KindFinalReview:      {Timeout: 15 * time.Minute, AllowsEditing: true, Mandatory: true},
}

// defaultTimeout applies to steps whose kind is somehow absent from the
// table (defensive only; ValidKind gates all inputs).
const defaultTimeout = 15 * time.Minute

// Workflow limits.
const (
	// MaxSteps is the cap on total steps per story.
	MaxSteps = 30
	// MaxRestarts is the cap on per-step restarts.
	MaxRestarts = 3
	// DefaultStepCount is the size of the default workflow; new step IDs
	// start after it.
	DefaultStepCount = 10
)

// ValidKind reports whether k is one of the ten known step kinds.
func ValidKind(k StepKind) bool {
	_, ok := kindSpecs[k]
	return ok
}

// Timeout returns the default timeout for a step kind.
func Timeout(k StepKind) time.Duration {
	if spec, ok := kindSpecs[k]; ok {
		return spec.Timeout
	}
	return defaultTimeout
}

// AllowsEditing reports whether agents executing steps of kind k may
// request workflow edits.
func AllowsEditing(k StepKind) bool {
	return kindSpecs[k].AllowsEditing
}

// Mandatory reports whether kind k must remain present in every workflow
// and can never be skipped.
func Mandatory(k StepKind) bool {
	return kindSpecs[k].Mandatory
}

// Kinds returns the ten step kinds in default-workflow order.
func Kinds() []StepKind {
	return []StepKind{
		KindContextGathering,
		KindPlanning,
		KindArchitecture,
		KindTestArchitecture,
		KindCoding,
		KindLinting,
		KindInitialTesting,
		KindReview,
		KindPruneTests,
		KindFinalReview,
	}
}

// defaultDescriptions holds the step descriptions for the default workflow.
var defaultDescriptions = map[StepKind]string{
	KindContextGathering: "Explore codebase, schemas, docs, and related code",
	KindPlanning:         "Produce implementation plan based on gathered context",
	KindArchitecture:     "Design code structure and identify files to modify",
	KindTestArchitecture: "Design test strategy and identify test files",
	KindCoding:           "Implement the changes",
	KindLinting:          "Run formatters and lint checks",
	KindInitialTesting:   "Run tests and identify failures",
	KindReview:           "Self-review against acceptance criteria",
	KindPruneTests:       "Remove redundant tests",
	KindFinalReview:      "Final verification and commit",
}

// DefaultWorkflow returns the 10-step default sequence with all steps
// pending. Step IDs are step-001 through step-010; final_review is last.
func DefaultWorkflow() []*Step {
	kinds := Kinds()
	steps := make([]*Step, 0, len(kinds))
	for i, k := range kinds {
		steps = append(steps, &Step{
			ID:          formatStepID(i + 1),
			Kind:        k,
			Status:      StepPending,
			Description: defaultDescriptions[k],
		})
	}
	return steps
}

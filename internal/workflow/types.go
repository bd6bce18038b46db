// Package workflow defines the pure data model for drover's per-story step
// workflows: stories, steps, history entries, and the edit operations agents
// may request against the remaining step sequence. The package performs no
// I/O; persistence lives in internal/state.
package workflow

import (
	"strconv"
	"strings"
	"time"
)

// StepKind tags a step with the kind of agent work it performs. The set is
// fixed at initialization; edits may add steps of any kind but cannot invent
// new kinds.
type StepKind string

const (
	KindContextGathering StepKind = "context_gathering"
	KindPlanning         StepKind = "planning"
	KindArchitecture     StepKind = "architecture"
	KindTestArchitecture StepKind = "test_architecture"
	KindCoding           StepKind = "coding"
	KindLinting          StepKind = "linting"
	KindInitialTesting   StepKind = "initial_testing"
	KindReview           StepKind = "review"
	KindPruneTests       StepKind = "prune_tests"
	KindFinalReview      StepKind = "final_review"
)

// StepStatus is the lifecycle status of a single step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
	StepCancelled  StepStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
// in_progress is not terminal (a restart edit can return it to pending).
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepSkipped, StepFailed, StepCancelled:
		return true
	}
	return false
}

// StoryStatus is the lifecycle status of a story.
type StoryStatus string

const (
	StoryUnclaimed  StoryStatus = "unclaimed"
	StoryInProgress StoryStatus = "in_progress"
	StoryCompleted  StoryStatus = "completed"
	StoryFailed     StoryStatus = "failed"
	StoryBlocked    StoryStatus = "blocked"
)

// Terminal reports whether the story can make no further progress on its
// own. Blocked is not terminal: a dependency completing returns the story
// to the unclaimed pool.
func (s StoryStatus) Terminal() bool {
	return s == StoryCompleted || s == StoryFailed
}

// HistoryAction enumerates the audit-log event tags.
type HistoryAction string

const (
	ActionStoryClaimed   HistoryAction = "story_claimed"
	ActionStoryCompleted HistoryAction = "story_completed"
	ActionStoryFailed    HistoryAction = "story_failed"
	ActionStepStarted    HistoryAction = "step_started"
	ActionStepCompleted  HistoryAction = "step_completed"
	ActionStepFailed     HistoryAction = "step_failed"
	ActionStepCancelled  HistoryAction = "step_cancelled"
	ActionStepSkipped    HistoryAction = "step_skipped"
	ActionWorkflowEdit   HistoryAction = "workflow_edit"
)

// Step is a single scheduled unit of agent work within a story. Nullable
// fields are pointers so the persisted document carries them explicitly.
type Step struct {
	ID              string     `json:"id"`
	Kind            StepKind   `json:"kind"`
	Status          StepStatus `json:"status"`
	Description     string     `json:"description"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	RevisionAtStart *string    `json:"revision_at_start"`
	Notes           *string    `json:"notes"`
	Error           *string    `json:"error"`
	SkipReason      *string    `json:"skip_reason"`
	RestartCount    int        `json:"restart_count"`
	CostUSD         *float64   `json:"cost_usd"`
	InputTokens     *int       `json:"input_tokens"`
	OutputTokens    *int       `json:"output_tokens"`
	LogFile         *string    `json:"log_file"`
}

// HistoryEntry is one append-only audit record on a story.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    HistoryAction  `json:"action"`
	WorkerID  *int           `json:"worker_id"`
	StepID    *string        `json:"step_id"`
	Details   map[string]any `json:"details,omitempty"`
}

// Story is a unit of user intent realized as an ordered step sequence. A
// story is owned by at most one worker at a time.
type Story struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	AcceptanceCriteria []string       `json:"acceptance_criteria"`
	Status             StoryStatus    `json:"status"`
	WorkerID           *int           `json:"worker_id"`
	ClaimedAt          *time.Time     `json:"claimed_at"`
	CompletedAt        *time.Time     `json:"completed_at"`
	DependsOn          []string       `json:"depends_on"`
	Steps              []*Step        `json:"steps"`
	History            []HistoryEntry `json:"history"`

	// nextStepID is the story-scoped ID counter, derived lazily from the
	// highest existing step number so it survives reload.
	nextStepID int
}

// State is the top-level persisted workflow document.
type State struct {
	Version      int               `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	ManifestPath string            `json:"manifest_path"`
	FinishedAt   *time.Time        `json:"finished_at"`
	Stories      map[string]*Story `json:"stories"`
}

// StateVersion is the current schema version tag.
const StateVersion = 1

// FindStep returns the step with the given ID, or nil.
func (s *Story) FindStep(stepID string) *Step {
	for _, st := range s.Steps {
		if st.ID == stepID {
			return st
		}
	}
	return nil
}

// NextPendingStep returns the first step with status pending, or nil.
func (s *Story) NextPendingStep() *Step {
	for _, st := range s.Steps {
		if st.Status == StepPending {
			return st
		}
	}
	return nil
}

// LastCompletedStep returns the last step in sequence order whose status is
// completed, or nil.
func (s *Story) LastCompletedStep() *Step {
	var last *Step
	for _, st := range s.Steps {
		if st.Status == StepCompleted {
			last = st
		}
	}
	return last
}

// PendingStepIDs returns the IDs of all pending steps in sequence order.
func (s *Story) PendingStepIDs() []string {
	var ids []string
	for _, st := range s.Steps {
		if st.Status == StepPending {
			ids = append(ids, st.ID)
		}
	}
	return ids
}

// InProgressStep returns the step currently in_progress, or nil. The
// single-in-flight invariant means there is at most one.
func (s *Story) InProgressStep() *Step {
	for _, st := range s.Steps {
		if st.Status == StepInProgress {
			return st
		}
	}
	return nil
}

// NewStepID allocates the next free step ID for this story. IDs follow the
// "step-NNN" format and never decrease; the counter starts past both the
// default workflow range and the highest ID already present.
func (s *Story) NewStepID() string {
	if s.nextStepID == 0 {
		max := DefaultStepCount
		for _, st := range s.Steps {
			if n, ok := stepNumber(st.ID); ok && n > max {
				max = n
			}
		}
		s.nextStepID = max + 1
	}
	id := formatStepID(s.nextStepID)
	s.nextStepID++
	return id
}

// AddHistory appends an audit entry stamped with the current time.
func (s *Story) AddHistory(action HistoryAction, workerID *int, stepID *string, details map[string]any) {
	s.History = append(s.History, HistoryEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		WorkerID:  workerID,
		StepID:    stepID,
		Details:   details,
	})
}

// stepNumber parses the numeric suffix of a "step-NNN" ID.
func stepNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "step-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

func formatStepID(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return "step-" + s
}

// IntPtr, StrPtr, and TimePtr are small helpers for populating nullable
// fields.
func IntPtr(n int) *int              { return &n }
func StrPtr(s string) *string        { return &s }
func TimePtr(t time.Time) *time.Time { return &t }
func Float64Ptr(f float64) *float64  { return &f }

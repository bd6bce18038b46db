package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/workflow"
)

func testState() *workflow.State {
	return &workflow.State{
		Version:      workflow.StateVersion,
		CreatedAt:    time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		ManifestPath: "stories.json",
		Stories: map[string]*workflow.Story{
			"US-001": {
				ID:          "US-001",
				Title:       "Add login endpoint",
				Description: "Implement POST /login",
				Status:      workflow.StoryUnclaimed,
				Steps:       workflow.DefaultWorkflow(),
				History:     []workflow.HistoryEntry{},
			},
			"US-002": {
				ID:          "US-002",
				Title:       "Add logout endpoint",
				Description: "Implement POST /logout",
				Status:      workflow.StoryUnclaimed,
				DependsOn:   []string{"US-001"},
				Steps:       workflow.DefaultWorkflow(),
				History:     []workflow.HistoryEntry{},
			},
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "state.json"), WithLockTimeout(2*time.Second))
}

func TestStore_InitializeAndLoad(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Initialize(context.Background(), testState()))

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, workflow.StateVersion, st.Version)
	require.Contains(t, st.Stories, "US-001")
	assert.Len(t, st.Stories["US-001"].Steps, workflow.DefaultStepCount)
	assert.Equal(t, []string{"US-001"}, st.Stories["US-002"].DependsOn)
}

func TestStore_InitializeRefusesOverwrite(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Initialize(context.Background(), testState()))
	assert.Error(t, store.Initialize(context.Background(), testState()))
}

func TestStore_LoadMissingFile(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.Load()
	assert.Error(t, err)
}

func TestStore_UpdatePersistsMutation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Initialize(context.Background(), testState()))

	st, err := store.Update(context.Background(), func(st *workflow.State) error {
		story := st.Stories["US-001"]
		story.Status = workflow.StoryInProgress
		story.WorkerID = workflow.IntPtr(1)
		story.AddHistory(workflow.ActionStoryClaimed, workflow.IntPtr(1), nil, nil)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StoryInProgress, st.Stories["US-001"].Status)

	reloaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, workflow.StoryInProgress, reloaded.Stories["US-001"].Status)
	require.Len(t, reloaded.Stories["US-001"].History, 1)
	assert.Equal(t, workflow.ActionStoryClaimed, reloaded.Stories["US-001"].History[0].Action)
}

func TestStore_UpdateErrorLeavesFileUnchanged(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Initialize(context.Background(), testState()))
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	boom := errors.New("validation failed")
	_, err = store.Update(context.Background(), func(st *workflow.State) error {
		st.Stories["US-001"].Status = workflow.StoryFailed
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_WriteReadWriteIsByteIdentical(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Initialize(context.Background(), testState()))
	first, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	// A no-op mutation serializes identically and skips the rename.
	_, err = store.Update(context.Background(), func(st *workflow.State) error { return nil })
	require.NoError(t, err)

	second, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStore_ReconcileOrphanedStories(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	st := testState()
	orphan := st.Stories["US-001"]
	orphan.Status = workflow.StoryInProgress
	orphan.WorkerID = workflow.IntPtr(2)
	orphan.Steps[0].Status = workflow.StepCompleted
	orphan.Steps[1].Status = workflow.StepInProgress
	require.NoError(t, store.Initialize(context.Background(), st))

	repaired, err := store.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"US-001"}, repaired)

	reloaded, err := store.Load()
	require.NoError(t, err)
	story := reloaded.Stories["US-001"]
	assert.Equal(t, workflow.StoryInProgress, story.Status)
	assert.Nil(t, story.WorkerID)

	step := story.FindStep("step-002")
	assert.Equal(t, workflow.StepFailed, step.Status)
	require.NotNil(t, step.Error)
	assert.Contains(t, *step.Error, "orphaned")

	// The orphaned story is re-claimable; its pending steps survive.
	assert.NotNil(t, story.NextPendingStep())

	// Second pass finds nothing to repair.
	repaired, err = store.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, repaired)
}

package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/workflow"
)

const validManifest = `{
  "stories": [
    {
      "id": "US-001",
      "title": "Add login",
      "description": "Users can log in",
      "acceptance_criteria": ["login works"]
    },
    {
      "id": "US-002",
      "title": "Add logout",
      "description": "Users can log out",
      "acceptance_criteria": ["logout works"],
      "depends_on": ["US-001"]
    }
  ]
}`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stories.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveManifest(t *testing.T) {
	t.Parallel()

	t.Run("one-shot request builds synthetic story", func(t *testing.T) {
		t.Parallel()
		m, path, err := resolveManifest([]string{"fix the flaky auth test"}, "")
		require.NoError(t, err)
		assert.Empty(t, path)
		require.Len(t, m.Stories, 1)
		assert.Equal(t, "oneshot", m.Stories[0].ID)
		assert.Equal(t, "fix the flaky auth test", m.Stories[0].Description)
	})

	t.Run("request and manifest together is an error", func(t *testing.T) {
		t.Parallel()
		_, _, err := resolveManifest([]string{"do something"}, "stories.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not both")
	})

	t.Run("neither request nor manifest is an error", func(t *testing.T) {
		t.Parallel()
		_, _, err := resolveManifest(nil, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nothing to run")
	})

	t.Run("manifest file is loaded", func(t *testing.T) {
		t.Parallel()
		path := writeManifest(t, validManifest)
		m, gotPath, err := resolveManifest(nil, path)
		require.NoError(t, err)
		assert.Equal(t, path, gotPath)
		assert.Len(t, m.Stories, 2)
	})
}

func TestOpenRun_SeedsStateFromManifest(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, validManifest)
	runsDir := t.TempDir()

	run, store, err := openRun(context.Background(), runFlags{Manifest: path}, nil, runsDir)
	require.NoError(t, err)

	st, err := store.Load()
	require.NoError(t, err)
	require.Len(t, st.Stories, 2)
	assert.Equal(t, workflow.StoryUnclaimed, st.Stories["US-001"].Status)
	assert.Equal(t, []string{"US-001"}, st.Stories["US-002"].DependsOn)
	assert.Len(t, st.Stories["US-001"].Steps, workflow.DefaultStepCount)
	assert.Equal(t, path, st.ManifestPath)
	assert.FileExists(t, run.StatePath())
}

func TestOpenRun_InvalidManifestExits2(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, `{"stories": [{"id": "US-001"}]}`)
	_, _, err := openRun(context.Background(), runFlags{Manifest: path}, nil, t.TempDir())
	require.Error(t, err)

	var coded *exitCodeError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, 2, coded.code)
	assert.Contains(t, err.Error(), "title is required")
}

func TestOpenRun_MissingManifestExits2(t *testing.T) {
	t.Parallel()

	_, _, err := openRun(context.Background(), runFlags{}, nil, t.TempDir())
	require.Error(t, err)

	var coded *exitCodeError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, 2, coded.code)
}

func TestOpenRun_ResumeLatestReusesState(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, validManifest)
	runsDir := t.TempDir()

	first, store, err := openRun(context.Background(), runFlags{Manifest: path}, nil, runsDir)
	require.NoError(t, err)

	// Mark a story completed so the resumed state is distinguishable from a
	// fresh seed.
	_, err = store.Update(context.Background(), func(st *workflow.State) error {
		st.Stories["US-001"].Status = workflow.StoryCompleted
		return nil
	})
	require.NoError(t, err)

	resumed, resumedStore, err := openRun(context.Background(), runFlags{Resume: "latest"}, nil, runsDir)
	require.NoError(t, err)
	assert.Equal(t, first.Path(), resumed.Path())

	st, err := resumedStore.Load()
	require.NoError(t, err)
	assert.Equal(t, workflow.StoryCompleted, st.Stories["US-001"].Status)
}

func TestOpenRun_ResumePathWithoutStateFails(t *testing.T) {
	t.Parallel()

	_, _, err := openRun(context.Background(), runFlags{Resume: t.TempDir()}, nil, t.TempDir())
	require.Error(t, err)
}

func TestJoinErrors(t *testing.T) {
	t.Parallel()

	got := joinErrors([]error{errors.New("a"), errors.New("b")})
	assert.Equal(t, "a; b", got)
}

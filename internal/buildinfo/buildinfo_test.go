package buildinfo_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/buildinfo"
)

// TestDefaultValues verifies the package-level variables hold their defaults
// when not overridden by ldflags at build time.
func TestDefaultValues(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "dev", buildinfo.Version)
	assert.Equal(t, "unknown", buildinfo.Commit)
	assert.Equal(t, "unknown", buildinfo.Date)
}

func TestGetInfo_PopulatesFromPackageVars(t *testing.T) {
	t.Parallel()

	info := buildinfo.GetInfo()
	assert.Equal(t, buildinfo.Version, info.Version)
	assert.Equal(t, buildinfo.Commit, info.Commit)
	assert.Equal(t, buildinfo.Date, info.Date)
}

func TestInfoString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		info buildinfo.Info
		want string
	}{
		{
			name: "default values",
			info: buildinfo.Info{Version: "dev", Commit: "unknown", Date: "unknown"},
			want: "drover vdev (commit: unknown, built: unknown)",
		},
		{
			name: "release values",
			info: buildinfo.Info{Version: "1.0.0", Commit: "a1b2c3d", Date: "2026-08-20T10:00:00Z"},
			want: "drover v1.0.0 (commit: a1b2c3d, built: 2026-08-20T10:00:00Z)",
		},
		{
			name: "git describe with dirty suffix",
			info: buildinfo.Info{Version: "1.0.0-4-gabcdef0-dirty", Commit: "abcdef0", Date: "2026-08-01T08:30:00Z"},
			want: "drover v1.0.0-4-gabcdef0-dirty (commit: abcdef0, built: 2026-08-01T08:30:00Z)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.info.String())
		})
	}
}

func TestInfoJSON_Marshal(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(buildinfo.Info{
		Version: "1.0.0",
		Commit:  "a1b2c3d",
		Date:    "2026-08-20T10:00:00Z",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.0.0","commit":"a1b2c3d","date":"2026-08-20T10:00:00Z"}`, string(data))
}

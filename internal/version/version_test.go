package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, version, commit, buildTime string, settings map[string]string) {
	t.Helper()
	oldVersion, oldCommit, oldTime, oldRead := Version, GitCommit, BuildTime, readSetting
	t.Cleanup(func() {
		Version, GitCommit, BuildTime, readSetting = oldVersion, oldCommit, oldTime, oldRead
	})
	Version, GitCommit, BuildTime = version, commit, buildTime
	readSetting = func(key string) (string, bool) {
		v, ok := settings[key]
		return v, ok
	}
}

func TestGetVersion(t *testing.T) {
	t.Run("ldflags win", func(t *testing.T) {
		withBuild(t, "v1.2.3", "0123456789abcdef", "unknown", nil)
		assert.Equal(t, "v1.2.3", GetVersion())
		assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())
		assert.True(t, IsRelease())
	})

	t.Run("vcs revision", func(t *testing.T) {
		withBuild(t, "dev", "unknown", "unknown", map[string]string{"vcs.revision": "fedcba9876543210"})
		assert.Equal(t, "dev-fedcba9", GetVersion())
		assert.Equal(t, "fedcba9876543210", GetGitCommit())
		assert.Equal(t, "dev-fedcba9", GetShortVersion())
		assert.False(t, IsRelease())
	})

	t.Run("nothing known", func(t *testing.T) {
		withBuild(t, "dev", "unknown", "unknown", nil)
		assert.Equal(t, "dev", GetVersion())
		assert.Equal(t, "unknown", GetGitCommit())
		assert.Equal(t, "dev", GetShortVersion())
	})
}

func TestIsDirty(t *testing.T) {
	withBuild(t, "dev", "unknown", "unknown", map[string]string{"vcs.modified": "true"})
	assert.True(t, IsDirty())
	assert.Contains(t, GetDetailedVersion(), "Modified: true")

	withBuild(t, "dev", "unknown", "unknown", map[string]string{"vcs.modified": "false"})
	assert.False(t, IsDirty())
}

func TestGetDetailedVersion(t *testing.T) {
	withBuild(t, "v0.4.0", "abcdef0123", "2024-03-01T10:00:00Z", nil)

	detailed := GetDetailedVersion()
	assert.Contains(t, detailed, "Version: v0.4.0")
	assert.Contains(t, detailed, "Commit: abcdef0123")
	assert.Contains(t, detailed, "Built: 2024-03-01T10:00:00Z")
	assert.Contains(t, detailed, "Go: ")
	assert.NotContains(t, detailed, "Modified")
}

func TestParseBuildTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-03-01T10:00:00", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-03-01 10:00:00", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"unknown", time.Time{}},
		{"", time.Time{}},
		{"yesterday", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.True(t, tt.want.Equal(parseBuildTime(tt.in)))
		})
	}
}

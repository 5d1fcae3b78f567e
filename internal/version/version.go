// Package version reports the packager build, from -ldflags when set and
// from the embedded VCS settings otherwise.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	Dirty     bool      `json:"dirty"`
}

// Set at build time with -ldflags "-X github.com/conneroisu/packager/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// readSetting is replaced in tests.
var readSetting = func(key string) (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value, true
		}
	}
	return "", false
}

// GetBuildInfo returns the build information of the running binary.
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   GetVersion(),
		GitCommit: GetGitCommit(),
		BuildTime: parseBuildTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     IsDirty(),
	}
}

// GetVersion returns the semantic version, or dev-<short commit> for
// untagged builds.
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if rev, ok := readSetting("vcs.revision"); ok && len(rev) >= 7 {
		return "dev-" + rev[:7]
	}
	return "dev"
}

// GetGitCommit returns the full commit hash or "unknown".
func GetGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if rev, ok := readSetting("vcs.revision"); ok && rev != "" {
		return rev
	}
	return "unknown"
}

// GetShortVersion returns a one-line version for banners and the debug page.
func GetShortVersion() string {
	v := GetVersion()
	commit := GetGitCommit()
	if commit == "unknown" || len(commit) < 7 || strings.HasPrefix(v, "dev-") {
		return v
	}
	if v == "dev" {
		return "dev-" + commit[:7]
	}
	return fmt.Sprintf("%s (%s)", v, commit[:7])
}

// GetDetailedVersion returns one "Key: value" line per known field.
func GetDetailedVersion() string {
	info := GetBuildInfo()

	lines := []string{"Version: " + info.Version}
	if info.GitCommit != "unknown" {
		lines = append(lines, "Commit: "+info.GitCommit)
	}
	if !info.BuildTime.IsZero() {
		lines = append(lines, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+info.GoVersion, "Platform: "+info.Platform)
	if info.Dirty {
		lines = append(lines, "Modified: true")
	}
	return strings.Join(lines, "\n")
}

// IsRelease reports whether this is a tagged build.
func IsRelease() bool {
	v := GetVersion()
	return v != "dev" && !strings.HasPrefix(v, "dev-")
}

// IsDirty reports whether the working tree had local modifications.
func IsDirty() bool {
	modified, _ := readSetting("vcs.modified")
	return modified == "true"
}

var buildTimeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseBuildTime returns the zero time for unknown or unparsable values.
func parseBuildTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, format := range buildTimeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

package version

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withLinkerValues(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	oldVersion, oldCommit, oldTime := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = version, commit, buildTime
	t.Cleanup(func() {
		Version, GitCommit, BuildTime = oldVersion, oldCommit, oldTime
	})
}

func TestReleaseVersion(t *testing.T) {
	withLinkerValues(t, "v1.2.3", "0123456789abcdef", "2026-01-02T03:04:05Z")

	assert.Equal(t, "v1.2.3", GetVersion())
	assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())

	info := GetBuildInfo()
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), info.BuildTime.UTC())
	assert.Contains(t, info.Platform, "/")

	detailed := GetDetailedVersion()
	assert.True(t, strings.HasPrefix(detailed, "tramline v1.2.3\n"))
	assert.Contains(t, detailed, "Commit: 0123456789abcdef")
	assert.Contains(t, detailed, "Built: 2026-01-02T03:04:05Z")
}

func TestParseBuildTime(t *testing.T) {
	assert.True(t, parseBuildTime("unknown", "").IsZero())
	assert.True(t, parseBuildTime("not a time").IsZero())
	assert.Equal(t, 2026, parseBuildTime("unknown", "2026-05-06 07:08:09").Year())
}

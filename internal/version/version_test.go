package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stub(t *testing.T, version, commit, date string, info *debug.BuildInfo) {
	t.Helper()
	origVersion, origCommit, origDate, origRead := Version, Commit, Date, readBuildInfo
	t.Cleanup(func() {
		Version, Commit, Date, readBuildInfo = origVersion, origCommit, origDate, origRead
	})
	Version, Commit, Date = version, commit, date
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
}

func TestInfo(t *testing.T) {
	stub(t, "1.2.3", "abc1234567890", "2026-01-15", nil)

	info := Info()
	assert.Contains(t, info, "cmdbot 1.2.3")
	assert.Contains(t, info, "commit: abc1234,")
	assert.NotContains(t, info, "abc1234567890")
	assert.Contains(t, info, "built: 2026-01-15")
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestString(t *testing.T) {
	stub(t, "0.4.0", "deadbeefcafe", "unknown", nil)
	assert.Equal(t, "0.4.0 (deadbee)", String())
}

func TestRevision(t *testing.T) {
	vcs := func(settings ...string) *debug.BuildInfo {
		info := &debug.BuildInfo{}
		for i := 0; i < len(settings); i += 2 {
			info.Settings = append(info.Settings, debug.BuildSetting{Key: settings[i], Value: settings[i+1]})
		}
		return info
	}

	tests := []struct {
		name             string
		commit, date     string
		info             *debug.BuildInfo
		wantCommit, want string
	}{
		{"ldflags win", "abc", "2026-01-01", vcs("vcs.revision", "fff"), "abc", "2026-01-01"},
		{"no build info", "unknown", "unknown", nil, "unknown", "unknown"},
		{"vcs stamp", "unknown", "unknown",
			vcs("vcs.revision", "0123456789ab", "vcs.time", "2026-02-02T10:00:00Z", "vcs.modified", "false"),
			"0123456789ab", "2026-02-02T10:00:00Z"},
		{"dirty tree", "unknown", "unknown",
			vcs("vcs.revision", "0123456789ab", "vcs.modified", "true"),
			"0123456+dirty", "unknown"},
		{"build date kept", "unknown", "2026-03-03",
			vcs("vcs.revision", "0123456789ab", "vcs.time", "2026-02-02T10:00:00Z"),
			"0123456789ab", "2026-03-03"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub(t, "dev", tt.commit, tt.date, tt.info)
			commit, date := Revision()
			assert.Equal(t, tt.wantCommit, commit)
			assert.Equal(t, tt.want, date)
		})
	}
}

func TestShort(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abcdefghij", "abcdefg"},
		{"abc1234", "abc1234"},
		{"abc", "abc"},
		{"", ""},
		{"0123456+dirty", "0123456+dirty"},
		{"0123456789+dirty", "0123456+dirty"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, short(tt.input))
		})
	}
}

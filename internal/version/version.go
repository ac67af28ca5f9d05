// Package version reports build metadata for the cmdbot binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/soyeahso/cmdbot/internal/version.Version=1.0.0 ...".
// Commit and Date fall back to the VCS stamp that go build records.
var (
	Name    = "cmdbot"
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

// Revision returns the commit the binary was built from, suffixed with
// "+dirty" when the tree had local changes, and the commit time.
func Revision() (commit, date string) {
	commit, date = Commit, Date
	if commit != "unknown" {
		return commit, date
	}
	info, ok := readBuildInfo()
	if !ok {
		return commit, date
	}
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.time":
			if date == "unknown" {
				date = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && commit != "unknown" {
		commit = short(commit) + "+dirty"
	}
	return commit, date
}

// Info returns the long form printed by the version command.
func Info() string {
	commit, date := Revision()
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s, %s/%s)",
		Name, Version, short(commit), date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// String returns the version and short commit, e.g. "1.2.0 (abc1234)".
func String() string {
	commit, _ := Revision()
	return fmt.Sprintf("%s (%s)", Version, short(commit))
}

// short trims a full hash to seven characters and keeps any suffix such
// as "+dirty".
func short(s string) string {
	hash, suffix := s, ""
	for i := 0; i < len(s); i++ {
		if s[i] == '+' {
			hash, suffix = s[:i], s[i:]
			break
		}
	}
	if len(hash) > 7 {
		hash = hash[:7]
	}
	return hash + suffix
}

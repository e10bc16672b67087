// Package version reports build information for netmanager
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set at link time with -ldflags "-X .../internal/version.Version=..."
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildDate = ""
)

// VersionInfo describes the running binary
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

var (
	vcsOnce              sync.Once
	vcsRevision, vcsTime string
	vcsModified          bool
)

// readVCS falls back to the VCS stamp the go tool embeds in module builds
func readVCS() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			vcsRevision = s.Value
		case "vcs.time":
			vcsTime = s.Value
		case "vcs.modified":
			vcsModified = s.Value == "true"
		}
	}
}

// GetVersionInfo returns the build information. Values not injected at link
// time come from the embedded VCS stamp, else "unknown".
func GetVersionInfo() *VersionInfo {
	vcsOnce.Do(readVCS)

	info := &VersionInfo{
		Version:   Version,
		GitCommit: firstNonEmpty(GitCommit, vcsRevision),
		BuildDate: firstNonEmpty(BuildDate, vcsTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if GitCommit == "" {
		info.Modified = vcsModified
	}
	return info
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "unknown"
}

// String returns "version (commit: abc1234)" or just the version
func (v *VersionInfo) String() string {
	if v.GitCommit == "unknown" {
		return v.Version
	}
	commit := v.GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if v.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (commit: %s)", v.Version, commit)
}

// FullString returns a multi-line description
func (v *VersionInfo) FullString() string {
	return fmt.Sprintf("netmanager %s\nGit Commit: %s\nBuild Date: %s\nGo Version: %s\nPlatform: %s",
		v.Version, v.GitCommit, v.BuildDate, v.GoVersion, v.Platform)
}

// GetVersion returns the version string
func GetVersion() string {
	return Version
}

// SetVersion overrides the build information
func SetVersion(version, commit, date string) {
	Version = version
	GitCommit = commit
	BuildDate = date
}

// Package version reports build information for encodarr.
//
// Version, Commit and Date are set at build time:
//
//	go build -ldflags "-X github.com/jmylchreest/encodarr/internal/version.Version=1.2.3 \
//	                   -X github.com/jmylchreest/encodarr/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/encodarr/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "encodarr"

// Info is the structured build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information. Builds without ldflags fall back to the VCS
// stamp the Go toolchain embeds.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyBuildSettings(&info, bi.Settings)
	}
	return info
}

func applyBuildSettings(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

// ShortCommit returns the first 8 characters of the commit.
func (i Info) ShortCommit() string {
	if len(i.Commit) >= 8 {
		return i.Commit[:8]
	}
	return i.Commit
}

// String returns a one line description, e.g. for --version.
func (i Info) String() string {
	commit := i.ShortCommit()
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s %s (commit %s, built %s, %s, %s)",
		ApplicationName, i.Version, commit, i.Date, i.GoVersion, i.Platform)
}

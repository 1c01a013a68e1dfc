// Package version provides build information for the sitecms binary.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time, e.g.
// -ldflags "-X github.com/shuklalaw/sitecms/pkg/version.Version=1.2.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the version information reported by /health and `sitecms version`.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns the version information. When no commit was injected it falls
// back to the VCS revision recorded by the Go toolchain.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Commit == "unknown" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					info.Commit = s.Value
				}
			}
		}
	}
	return info
}

// String returns "sitecms version <version> (commit: <commit>, built: <time>)".
func String() string {
	info := Get()
	return fmt.Sprintf("sitecms version %s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildTime)
}

// Short returns just the version number.
func Short() string {
	return Version
}

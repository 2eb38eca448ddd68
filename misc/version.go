// Package misc keeps build time information.
package misc

import (
	"runtime/debug"
)

// Set at build time with -ldflags "-X weaver/misc.version=... -X weaver/misc.gitHash=...".
var (
	appName = "weaver"
	version = "dev"
	gitHash = ""
)

func GetAppName() string {
	return appName
}

func GetVersion() string {
	return version
}

// GetGitHash returns commit hash of the build, falls back to VCS
// information embedded by the go tool when not set explicitly.
func GetGitHash() string {
	if len(gitHash) > 0 {
		return gitHash
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}

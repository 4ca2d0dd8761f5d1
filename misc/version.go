// Package misc keeps build time program identification.
package misc

import (
	"runtime/debug"
)

// Set by the linker: -X stylish/misc.version=... -X stylish/misc.gitHash=...
var (
	version = "dev"
	gitHash = ""
)

const appName = "stylish"

func GetAppName() string {
	return appName
}

func GetVersion() string {
	return version
}

// GetGitHash returns the hash given at link time or, when absent, the VCS
// revision recorded by the go tool.
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

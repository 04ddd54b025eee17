// Package version identifies the running build.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version and Commit are stamped at link time:
//
//	go build -ldflags "-X .../version.Version=1.2.0 -X .../version.Commit=abc123"
var (
	Version = "dev"
	Commit  = ""
)

// String formats the build as "version (commit)". Without a stamped commit
// the VCS revision recorded by the toolchain is used, if any.
func String() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	if commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, commit)
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value[:min(len(s.Value), 12)]
		}
	}
	return ""
}

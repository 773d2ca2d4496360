// Package version reports build metadata, preferring values injected with
// -ldflags and falling back to what the Go toolchain embedded.
package version

import (
	"runtime"
	"time"

	"github.com/carlmjohnson/versioninfo"
)

var (
	Version = ""
	Commit  = ""
	Date    = ""
)

// Short is the bare version, also reported by GETINFO version.
func Short() string {
	if Version != "" {
		return Version
	}
	return versioninfo.Short()
}

func commit() string {
	if Commit != "" {
		return Commit
	}
	if versioninfo.Revision != "" && versioninfo.Revision != "unknown" {
		return versioninfo.Revision
	}
	return "none"
}

func date() string {
	if Date != "" {
		return Date
	}
	if !versioninfo.LastCommit.IsZero() {
		return versioninfo.LastCommit.UTC().Format(time.RFC3339)
	}
	return "unknown"
}

func String() string {
	return "uiserver " + Short() + " (commit=" + commit() + ", date=" + date() + ", go=" + runtime.Version() + ")"
}

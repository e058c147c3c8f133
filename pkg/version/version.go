// Package version reports the build identity of the histogram binary.
package version

import (
	"runtime/debug"
)

// Build metadata, overridden with -ldflags "-X" at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const shortCommit = 12

// InitBinaryVersion fills unset metadata from the module build info.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	apply(info)
}

func apply(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "none" {
				Commit = setting.Value
				if len(Commit) > shortCommit {
					Commit = Commit[:shortCommit]
				}
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = setting.Value
			}
		}
	}
}

// String renders the version line printed by the version command.
func String() string {
	return Version + " (commit: " + Commit + ", built: " + Date + ")"
}

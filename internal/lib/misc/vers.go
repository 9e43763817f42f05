package misc

import (
	"fmt"
	"runtime/debug"
	"slices"
)

// Version is replaced at build time during release builds.
// If not defined, we just return the git rev.
var Version string

func GetVersionInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "The version information could not be determined"
	}
	var vcsRev = "(unknown)"
	if fnd := slices.IndexFunc(info.Settings, func(v debug.BuildSetting) bool { return v.Key == "vcs.revision" }); fnd != -1 {
		if rev := info.Settings[fnd].Value; len(rev) >= 7 {
			vcsRev = rev[0:7]
		}
	}
	if Version != "" {
		return fmt.Sprintf("%s [%s]", Version, vcsRev)
	}
	return vcsRev
}

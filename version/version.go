// Package version reports the build version of the stemsync tools.
package version

import (
	"runtime/debug"
	"strings"
)

// Version can be set at build time:
// go build -ldflags "-X github.com/stemsync/stemsync/version.Version=$(git describe --dirty)"
var Version string

// Hash is the short vcs revision the binary was built from, with a -dirty
// suffix for modified trees. Empty outside a vcs checkout.
var Hash = revision(debug.ReadBuildInfo())

// VersionOrHash is Version, the module version of a go install, or Hash, in
// that order.
var VersionOrHash = pick(Version, moduleVersion(debug.ReadBuildInfo()), Hash)

func revision(info *debug.BuildInfo, ok bool) string {
	if !ok {
		return ""
	}
	var rev, dirty string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value[:min(7, len(setting.Value))]
		case "vcs.modified":
			if setting.Value == "true" {
				dirty = "-dirty"
			}
		}
	}
	if rev == "" {
		return ""
	}
	return rev + dirty
}

func moduleVersion(info *debug.BuildInfo, ok bool) string {
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return ""
	}
	return strings.TrimPrefix(info.Main.Version, "v")
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Banner is the one-line greeting printed by the commands.
func Banner(program string) string {
	if VersionOrHash == "" {
		return program + " (development build)"
	}
	return program + " " + VersionOrHash
}

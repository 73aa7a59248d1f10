package version

import (
	"runtime/debug"
	"strings"
)

// Set through -ldflags by release builds.
var (
	Version = "1.0.0"
	Commit  = "unknown"
	Date    = "unknown"
)

// Resolve returns the version string. Release builds report Version as is.
// Other builds append the VCS revision Go stamped into the binary, or use
// the module version when installed with go install.
func Resolve() string {
	return resolveVersion(Version, Commit, debug.ReadBuildInfo)
}

func resolveVersion(base, commit string, readInfo func() (*debug.BuildInfo, bool)) string {
	if base == "" {
		base = "0.0.0"
	}
	if commit != "" && commit != "unknown" {
		return base
	}

	info, ok := readInfo()
	if !ok || info == nil {
		return base
	}

	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		return strings.TrimPrefix(v, "v")
	}

	suffix := vcsSuffix(info.Settings)
	if suffix == "" {
		return base
	}
	return base + "-" + suffix
}

func vcsSuffix(settings []debug.BuildSetting) string {
	var revision string
	var modified bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}

	if revision == "" {
		return ""
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if modified {
		return revision + "-dirty"
	}
	return revision
}

// isPseudoVersion reports whether v carries the 14-digit commit timestamp
// of a Go pseudo-version.
func isPseudoVersion(v string) bool {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '-' || r == '.' })
	for _, part := range parts {
		if len(part) == 14 && strings.Trim(part, "0123456789") == "" {
			return true
		}
	}
	return false
}

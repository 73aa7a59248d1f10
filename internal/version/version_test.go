package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildInfo(mainVersion string, settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Path: "github.com/fmueller/whisperd", Version: mainVersion}, Settings: settings}, true
	}
}

func noBuildInfo() (*debug.BuildInfo, bool) { return nil, false }

func TestResolveVersion_ReleaseBuild(t *testing.T) {
	t.Parallel()
	got := resolveVersion("1.2.0", "abc1234", buildInfo("(devel)", debug.BuildSetting{Key: "vcs.revision", Value: "deadbeefcafe"}))
	require.Equal(t, "1.2.0", got)
}

func TestResolveVersion_DevBuildWithRevision(t *testing.T) {
	t.Parallel()
	got := resolveVersion("1.0.0", "unknown", buildInfo("(devel)", debug.BuildSetting{Key: "vcs.revision", Value: "abcdef0123456789"}))
	require.Equal(t, "1.0.0-abcdef0", got)
}

func TestResolveVersion_DirtyTree(t *testing.T) {
	t.Parallel()
	got := resolveVersion("1.0.0", "unknown", buildInfo("(devel)",
		debug.BuildSetting{Key: "vcs.revision", Value: "abcdef0123456789"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))
	require.Equal(t, "1.0.0-abcdef0-dirty", got)
}

func TestResolveVersion_GoInstallTag(t *testing.T) {
	t.Parallel()
	got := resolveVersion("1.0.0", "unknown", buildInfo("v1.3.1"))
	require.Equal(t, "1.3.1", got)
}

func TestResolveVersion_PseudoVersionFallsBackToRevision(t *testing.T) {
	t.Parallel()
	got := resolveVersion("1.0.0", "unknown", buildInfo("v0.0.0-20260101000000-abcdef012345",
		debug.BuildSetting{Key: "vcs.revision", Value: "abcdef012345"},
	))
	require.Equal(t, "1.0.0-abcdef0", got)
}

func TestResolveVersion_NoBuildInfo(t *testing.T) {
	t.Parallel()
	require.Equal(t, "1.0.0", resolveVersion("1.0.0", "unknown", noBuildInfo))
}

func TestResolveVersion_EmptyBase(t *testing.T) {
	t.Parallel()
	require.Equal(t, "0.0.0", resolveVersion("", "unknown", noBuildInfo))
}

func TestResolve(t *testing.T) {
	t.Parallel()
	require.NotEmpty(t, Resolve())
}

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFFmpegDirCandidatesConfiguredFirst(t *testing.T) {
	t.Parallel()

	candidates := FFmpegDirCandidates("windows", `D:\tools\ffmpeg\bin`, Env{AppData: `C:\Users\dev\AppData\Roaming`})
	require.Equal(t, `D:\tools\ffmpeg\bin`, candidates[0])
	require.Contains(t, candidates, `C:\ffmpeg\bin`)
	require.Contains(t, candidates, `C:\Program Files (x86)\ffmpeg\bin`)
}

func TestFFmpegDirCandidatesUnix(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"/opt/homebrew/bin", "/usr/local/bin"}, FFmpegDirCandidates("darwin", "", Env{}))
	require.Equal(t, []string{"/usr/local/bin", "/usr/bin"}, FFmpegDirCandidates("linux", " ", Env{}))
}

func TestFindFFmpegDirRequiresBinary(t *testing.T) {
	t.Parallel()

	present := map[string]bool{"/b/ffmpeg": true, "/c/ffmpeg": true, "/a": true}
	dir, ok := FindFFmpegDir("linux", []string{"", "/a", "/b", "/c"}, func(p string) bool { return present[p] })
	require.True(t, ok)
	require.Equal(t, "/b", dir)

	_, ok = FindFFmpegDir("linux", []string{"/a"}, func(p string) bool { return present[p] })
	require.False(t, ok)
}

func TestFindFFmpegDirWindowsExecutable(t *testing.T) {
	t.Parallel()

	var probed []string
	_, ok := FindFFmpegDir("windows", []string{"dir"}, func(p string) bool {
		probed = append(probed, p)
		return false
	})
	require.False(t, ok)
	require.Equal(t, []string{filepath.Join("dir", "ffmpeg.exe")}, probed)
}

func TestFindFFmpegDirSkipsDirectoryWithoutFFmpeg(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	withBinary := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(withBinary, "ffmpeg"), []byte(""), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(empty, "ffmpeg"), 0o755))

	dir, ok := FindFFmpegDir("linux", []string{empty, withBinary}, fileExists)
	require.True(t, ok)
	require.Equal(t, withBinary, dir)
}

func TestPrependPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", "/usr/bin")

	require.NoError(t, PrependPath(dir))
	require.Equal(t, dir+string(os.PathListSeparator)+"/usr/bin", os.Getenv("PATH"))

	require.NoError(t, PrependPath(filepath.Join(dir, ".")))
	require.Equal(t, dir+string(os.PathListSeparator)+"/usr/bin", os.Getenv("PATH"))
}

func TestSetupFFmpegUsesConfiguredDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte(""), 0o755))
	t.Setenv("PATH", "/usr/bin")

	found, ok := SetupFFmpeg("linux", dir, nil)
	require.True(t, ok)
	require.Equal(t, dir, found)
	require.Contains(t, filepath.SplitList(os.Getenv("PATH")), dir)
}

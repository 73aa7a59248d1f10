package platform

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FFmpegDirCandidates lists directories that may hold the ffmpeg binary, in
// probe order. An explicitly configured directory always comes first.
func FFmpegDirCandidates(goos, configured string, env Env) []string {
	var candidates []string
	if configured = strings.TrimSpace(configured); configured != "" {
		candidates = append(candidates, configured)
	}

	switch goos {
	case "windows":
		if env.AppData != "" {
			candidates = append(candidates, filepath.Join(env.AppData, appName, "ffmpeg", "bin"))
		}
		candidates = append(candidates,
			`C:\ffmpeg\bin`,
			`C:\Program Files\ffmpeg\bin`,
			`C:\Program Files (x86)\ffmpeg\bin`,
		)
	case "darwin":
		candidates = append(candidates, "/opt/homebrew/bin", "/usr/local/bin")
	default:
		candidates = append(candidates, "/usr/local/bin", "/usr/bin")
	}

	return candidates
}

// FindFFmpegDir returns the first candidate directory holding the ffmpeg
// executable for goos.
func FindFFmpegDir(goos string, candidates []string, isFile func(string) bool) (string, bool) {
	name := ffmpegBinary(goos)
	for _, dir := range candidates {
		if dir != "" && isFile(filepath.Join(dir, name)) {
			return dir, true
		}
	}
	return "", false
}

func ffmpegBinary(goos string) string {
	if goos == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// PrependPath puts dir in front of the process search path unless it is
// already listed.
func PrependPath(dir string) error {
	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(dir) {
			return nil
		}
	}
	if current == "" {
		return os.Setenv("PATH", dir)
	}
	return os.Setenv("PATH", dir+string(os.PathListSeparator)+current)
}

// SetupFFmpeg locates the ffmpeg directory and makes it visible to child
// processes. A missing ffmpeg is only a warning; decoding fails later.
func SetupFFmpeg(goos, configured string, logger *zap.Logger) (string, bool) {
	if logger == nil {
		logger = zap.NewNop()
	}

	env, err := CurrentEnv()
	if err != nil {
		logger.Debug("resolve environment for ffmpeg discovery", zap.Error(err))
	}

	dir, ok := FindFFmpegDir(goos, FFmpegDirCandidates(goos, configured, env), fileExists)
	if !ok {
		logger.Warn("ffmpeg not found; non-WAV audio cannot be decoded")
		return "", false
	}

	if err := PrependPath(dir); err != nil {
		logger.Warn("failed to add ffmpeg directory to PATH", zap.String("dir", dir), zap.Error(err))
		return dir, false
	}
	logger.Info("ffmpeg found", zap.String("dir", dir))
	return dir, true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

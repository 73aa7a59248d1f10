package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fmueller/whisperd/internal/platform"
	"go.uber.org/zap"
)

const (
	cliBinary    = "whisper-cli"
	serverBinary = "whisper-server"
)

// CLIBackend runs the whisper-cli executable once per transcription. The
// model stays on disk between calls, so every request pays the load cost;
// it serves the one-shot command and hosts without whisper-server.
type CLIBackend struct {
	Executable string
	Logger     *zap.Logger
}

func NewCLIBackend(override string, logger *zap.Logger) (*CLIBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	exe, err := ResolveExecutable(cliBinary, override)
	if err != nil {
		return nil, err
	}
	return &CLIBackend{Executable: exe, Logger: logger}, nil
}

func (b *CLIBackend) Name() string { return "cli" }

func (b *CLIBackend) Load(_ context.Context, spec LoadSpec) (Instance, error) {
	if err := ensureExecutable(b.Executable); err != nil {
		return nil, fmt.Errorf("whisper-cli missing or not executable: %w", err)
	}
	if _, err := os.Stat(spec.Model.Path); err != nil {
		return nil, fmt.Errorf("model file %s: %w", spec.Model.Path, err)
	}

	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cliInstance{executable: b.Executable, spec: spec, logger: logger}, nil
}

type cliInstance struct {
	executable string
	spec       LoadSpec
	logger     *zap.Logger
}

func (c *cliInstance) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return "", errors.New("audio path is required")
	}

	outBase, cleanup, err := reserveOutputBase()
	if err != nil {
		return "", err
	}
	defer cleanup()
	txtOut := outBase + ".txt"

	args := []string{"-m", c.spec.Model.Path, "-f", req.AudioPath, "-nt", "-np", "-otxt", "-of", outBase}
	args = append(args, "-l", languageArg(req.Language))
	args = append(args, deviceArgs(c.spec.Device.IsAccelerator(), req.Precision)...)

	cmd := exec.CommandContext(ctx, c.executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = ioDiscard{}
	cmd.Stderr = &stderr

	c.logger.Debug("running whisper-cli", zap.String("engine", c.executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return "", explainEngineFailure(c.executable, err, stderr.String())
	}

	content, err := os.ReadFile(txtOut)
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}

	return strings.TrimSpace(string(content)), nil
}

func (c *cliInstance) Close() error { return nil }

// reserveOutputBase claims a unique path for whisper-cli's -of argument.
// whisper-cli appends ".txt", so the reserved file itself stays empty and
// only guarantees no other call picks the same base.
func reserveOutputBase() (string, func(), error) {
	f, err := os.CreateTemp("", "whisperd-*")
	if err != nil {
		return "", nil, fmt.Errorf("reserve whisper output path: %w", err)
	}
	base := f.Name()
	_ = f.Close()

	return base, func() {
		_ = os.Remove(base + ".txt")
		_ = os.Remove(base)
	}, nil
}

// languageArg maps the empty hint onto whisper.cpp's detection mode; without
// -l whisper.cpp assumes English.
func languageArg(language string) string {
	if strings.TrimSpace(language) == "" {
		return "auto"
	}
	return language
}

func deviceArgs(accelerator bool, precision Precision) []string {
	if !accelerator {
		return []string{"-ng"}
	}
	if precision == FP16 {
		return []string{"-fa"}
	}
	return nil
}

// ResolveExecutable locates a whisper.cpp binary: an explicit override first,
// then the locations a release archive installs next to whisperd, then PATH.
func ResolveExecutable(binary, override string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("%s override is not executable: %w", binary, err)
		}
		return override, nil
	}

	if self, err := os.Executable(); err == nil {
		for _, candidate := range EnginePathCandidates(self, binary) {
			if err := ensureExecutable(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	if found, err := exec.LookPath(executableName(binary)); err == nil {
		return found, nil
	}

	return "", fmt.Errorf("%s not found next to whisperd or on PATH; install whisper.cpp or point the %s path setting at it", binary, binary)
}

func EnginePathCandidates(selfExecutable, binary string) []string {
	binDir := filepath.Dir(selfExecutable)
	name := executableName(binary)
	hostTarget := fmt.Sprintf("%s_%s", runtime.GOOS, platform.NormalizeArch(runtime.GOARCH))

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", name),
		filepath.Join(binDir, "libexec", "whisper", name),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, name),
		filepath.Join(binDir, name),
	}
}

func explainEngineFailure(executable string, err error, stderr string) error {
	errText := strings.TrimSpace(stderr)
	if isMissingSharedLibraryError(errText) {
		return fmt.Errorf("whisper engine at %s is missing required shared libraries (%s)", executable, errText)
	}
	if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
		return fmt.Errorf("whisper engine at %s crashed with an illegal CPU instruction; "+
			"your CPU may lack required instruction set extensions", executable)
	}
	if errText == "" {
		return fmt.Errorf("whisper engine failed: %w", err)
	}
	return fmt.Errorf("whisper engine failed: %w (%s)", err, lastLines(errText, 5))
}

func lastLines(value string, n int) string {
	lines := strings.Split(value, "\n")
	if len(lines) <= n {
		return value
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

type ioDiscard struct{}

func (ioDiscard) Write(p []byte) (int, error) {
	return len(p), nil
}

func executableName(binary string) string {
	if runtime.GOOS == "windows" {
		return binary + ".exe"
	}
	return binary
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}

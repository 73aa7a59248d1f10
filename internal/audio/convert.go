package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var ErrDecoderUnavailable = errors.New("ffmpeg is not available")

// Converter turns any supported audio file into a whisper-ready WAV at dst.
type Converter interface {
	ToWhisperWAV(ctx context.Context, src, dst string) error
}

type FFmpeg struct {
	Binary string
	Logger *zap.Logger
}

func (f FFmpeg) ToWhisperWAV(ctx context.Context, src, dst string) error {
	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecoderUnavailable, err)
	}

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-ar", strconv.Itoa(WhisperSampleRate), "-ac", "1", "-c:a", "pcm_s16le",
		"-f", "wav", dst,
	}

	cmd := exec.CommandContext(ctx, resolved, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if f.Logger != nil {
		f.Logger.Debug("converting audio", zap.String("ffmpeg", resolved), zap.String("src", src))
	}
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %w (%s)", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// Prepared is an audio file ready for whisper.cpp. Cleanup removes any
// temporary conversion output and is safe to call more than once.
type Prepared struct {
	Path      string
	Converted bool
	Format    Format
}

func (p Prepared) Cleanup() {
	if p.Converted && p.Path != "" {
		_ = os.Remove(p.Path)
	}
}

// Prepare passes whisper-ready WAV files through and converts everything
// else with conv.
func Prepare(ctx context.Context, path string, conv Converter) (Prepared, error) {
	format, err := InspectWAV(path)
	if err == nil && format.WhisperReady() {
		return Prepared{Path: path, Format: format}, nil
	}

	if conv == nil {
		return Prepared{}, ErrDecoderUnavailable
	}

	tmp, err := os.CreateTemp("", "whisperd-*.wav")
	if err != nil {
		return Prepared{}, fmt.Errorf("create conversion target: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	prepared := Prepared{Path: tmpPath, Converted: true}
	if err := conv.ToWhisperWAV(ctx, path, tmpPath); err != nil {
		prepared.Cleanup()
		return Prepared{}, err
	}

	converted, err := InspectWAV(tmpPath)
	if err != nil {
		prepared.Cleanup()
		return Prepared{}, fmt.Errorf("inspect converted audio: %w", err)
	}
	if !converted.WhisperReady() {
		prepared.Cleanup()
		return Prepared{}, fmt.Errorf("%w: converted audio is %d Hz, %d channel(s), %d-bit", ErrUnsupportedWAV, converted.SampleRate, converted.Channels, converted.BitDepth)
	}

	prepared.Format = converted
	return prepared, nil
}

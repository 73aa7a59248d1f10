// Package engine turns an audio file into text using the resident model.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fmueller/whisperd/internal/audio"
	"github.com/fmueller/whisperd/internal/model"
	"github.com/fmueller/whisperd/internal/whisper"
	"go.uber.org/zap"
)

// AutoLanguage asks the model to identify the spoken language itself.
const AutoLanguage = "auto"

type Request struct {
	AudioPath string
	Model     string
	Language  string
}

type Result struct {
	Text string `json:"text"`
}

type Engine struct {
	converter audio.Converter
	logger    *zap.Logger
}

func New(converter audio.Converter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{converter: converter, logger: logger}
}

// Transcribe runs one inference call against h. Half precision is used on
// accelerators only, and an empty or "auto" language leaves detection to the
// model.
func (e *Engine) Transcribe(ctx context.Context, h *model.Handle, audioPath, language string) (Result, error) {
	if err := CheckAudio(audioPath); err != nil {
		return Result{}, err
	}

	prepared, err := audio.Prepare(ctx, audioPath, e.converter)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", whisper.ErrDecode, audioPath, err)
	}
	defer prepared.Cleanup()

	req := whisper.TranscriptionRequest{
		AudioPath: prepared.Path,
		Language:  languageHint(language),
		Precision: whisper.PrecisionFor(h.Device),
	}

	e.logger.Info("transcribing",
		zap.String("audio", audioPath),
		zap.String("model", h.Name),
		zap.String("device", h.Device.String()),
		zap.Stringer("precision", req.Precision),
		zap.String("language", displayLanguage(req.Language)),
		zap.Bool("converted", prepared.Converted),
	)
	started := time.Now()

	text, err := h.Instance.Transcribe(ctx, req)
	if err != nil {
		e.logger.Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %w", whisper.ErrInference, err)
	}

	result := Result{Text: strings.TrimSpace(text)}
	e.logger.Info("transcription finished", zap.Duration("elapsed", time.Since(started)), zap.Int("chars", len(result.Text)))
	e.logger.Debug("recognized text", zap.String("text", result.Text))
	return result, nil
}

// CheckAudio fails with whisper.ErrAudioNotFound unless path names a
// readable regular file.
func CheckAudio(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: audio_path is required", whisper.ErrAudioNotFound)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", whisper.ErrAudioNotFound, path)
		}
		return fmt.Errorf("%w: %s: %w", whisper.ErrAudioNotFound, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", whisper.ErrAudioNotFound, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", whisper.ErrAudioNotFound, path, err)
	}
	defer f.Close()
	if _, err := f.Read(make([]byte, 1)); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %w", whisper.ErrAudioNotFound, path, err)
	}
	return nil
}

func languageHint(language string) string {
	normalized := strings.ToLower(strings.TrimSpace(language))
	if normalized == AutoLanguage {
		return ""
	}
	return normalized
}

func displayLanguage(hint string) string {
	if hint == "" {
		return AutoLanguage
	}
	return hint
}

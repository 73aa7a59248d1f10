package model

import (
	"context"
	"fmt"

	"github.com/fmueller/whisperd/internal/download"
	"github.com/fmueller/whisperd/internal/whisper"
	"go.uber.org/zap"
)

// Artifacts turns a model name into a model file on local disk.
type Artifacts interface {
	Ensure(ctx context.Context, name string) (whisper.ResolvedModel, error)
}

// Store resolves models inside Dir and fetches missing named models when
// AutoDownload is set.
type Store struct {
	Dir          string
	AutoDownload bool
	NoProgress   bool
	Logger       *zap.Logger

	download func(ctx context.Context, opts download.Options) error
}

func (s *Store) Ensure(ctx context.Context, name string) (whisper.ResolvedModel, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	resolved, err := whisper.ResolveModel(name, s.Dir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}
	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !s.AutoDownload {
		return whisper.ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `whisperd setup --model %s` or enable auto-download", resolved.Name, resolved.Path, resolved.Name)
	}

	fetch := s.download
	if fetch == nil {
		fetch = download.DownloadFile
	}

	logger.Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := fetch(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		NoProgress:     s.NoProgress,
		Logger:         logger,
	}); err != nil {
		return whisper.ResolvedModel{}, fmt.Errorf("download model %q: %w", resolved.Name, err)
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

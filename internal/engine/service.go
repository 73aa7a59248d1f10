package engine

import (
	"context"

	"github.com/fmueller/whisperd/internal/model"
)

// Service resolves the requested model and transcribes against it.
type Service struct {
	loader *model.Loader
	engine *Engine
}

func NewService(loader *model.Loader, engine *Engine) *Service {
	return &Service{loader: loader, engine: engine}
}

func (s *Service) Transcribe(ctx context.Context, req Request) (Result, error) {
	// Reject missing audio before a model switch is paid for.
	if err := CheckAudio(req.AudioPath); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.loader.Use(ctx, req.Model, func(h *model.Handle) error {
		var err error
		result, err = s.engine.Transcribe(ctx, h, req.AudioPath, req.Language)
		return err
	})
	return result, err
}

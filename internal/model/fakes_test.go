package model

import (
	"context"
	"errors"
	"sync"

	"github.com/fmueller/whisperd/internal/whisper"
)

type fakeBackend struct {
	mu      sync.Mutex
	loads   []whisper.LoadSpec
	failFor map[string]error
	block   chan struct{}
	closed  []string
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Load(ctx context.Context, spec whisper.LoadSpec) (whisper.Instance, error) {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads = append(b.loads, spec)
	if err := b.failFor[spec.Model.Name]; err != nil {
		return nil, err
	}
	return &fakeInstance{name: spec.Model.Name, backend: b}, nil
}

func (b *fakeBackend) loadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.loads)
}

func (b *fakeBackend) closedModels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.closed...)
}

type fakeInstance struct {
	name    string
	backend *fakeBackend
	mu      sync.Mutex
	closed  bool
}

func (i *fakeInstance) Transcribe(context.Context, whisper.TranscriptionRequest) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return "", errors.New("instance closed")
	}
	return i.name, nil
}

func (i *fakeInstance) Close() error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	i.backend.mu.Lock()
	i.backend.closed = append(i.backend.closed, i.name)
	i.backend.mu.Unlock()
	return nil
}

type fakeArtifacts struct {
	err error
}

func (a fakeArtifacts) Ensure(_ context.Context, name string) (whisper.ResolvedModel, error) {
	if a.err != nil {
		return whisper.ResolvedModel{}, a.err
	}
	return whisper.ResolvedModel{Name: name, Path: "/models/ggml-" + name + ".bin"}, nil
}

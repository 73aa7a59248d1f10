package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fmueller/whisperd/internal/device"
	"github.com/fmueller/whisperd/internal/engine"
	"github.com/fmueller/whisperd/internal/model"
	"github.com/fmueller/whisperd/internal/whisper"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	text     string
	loads    []string
	failFor  map[string]error
	requests []whisper.TranscriptionRequest
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Load(_ context.Context, spec whisper.LoadSpec) (whisper.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads = append(b.loads, spec.Model.Name)
	if err := b.failFor[spec.Model.Name]; err != nil {
		return nil, err
	}
	return &fakeInstance{backend: b}, nil
}

func (b *fakeBackend) loadedModels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.loads...)
}

func (b *fakeBackend) lastRequest(t *testing.T) whisper.TranscriptionRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests)
	return b.requests[len(b.requests)-1]
}

type fakeInstance struct {
	backend *fakeBackend
}

func (i *fakeInstance) Transcribe(_ context.Context, req whisper.TranscriptionRequest) (string, error) {
	i.backend.mu.Lock()
	defer i.backend.mu.Unlock()
	i.backend.requests = append(i.backend.requests, req)
	return i.backend.text, nil
}

func (i *fakeInstance) Close() error { return nil }

type fakeArtifacts struct{}

func (fakeArtifacts) Ensure(_ context.Context, name string) (whisper.ResolvedModel, error) {
	return whisper.ResolvedModel{Name: name, Path: filepath.Join(os.TempDir(), "ggml-"+name+".bin")}, nil
}

type stack struct {
	backend *fakeBackend
	loader  *model.Loader
	handler *Handler
}

func newStack(t *testing.T, text string) *stack {
	t.Helper()

	backend := &fakeBackend{text: text, failFor: map[string]error{}}
	loader := model.NewLoader(backend, fakeArtifacts{}, device.Static{Kind: device.CPU, Backend: "cpu"}, nil)
	t.Cleanup(func() { _ = loader.Close() })

	svc := engine.NewService(loader, engine.New(nil, nil))
	return &stack{backend: backend, loader: loader, handler: NewHandler(loader, svc, nil)}
}

func writeWAV(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "speech.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, 1600),
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fmueller/whisperd/internal/audio"
	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/device"
	"github.com/fmueller/whisperd/internal/whisper"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runApp(t, &appState{}, args)
}

func runApp(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

type fakeBackend struct {
	mu       sync.Mutex
	text     string
	kinds    []string
	requests []whisper.TranscriptionRequest
	loads    []whisper.LoadSpec
}

func (b *fakeBackend) factory(kind string, _ config.Config, _ *zap.Logger) (whisper.Backend, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kinds = append(b.kinds, kind)
	return b, nil
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Load(_ context.Context, spec whisper.LoadSpec) (whisper.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads = append(b.loads, spec)
	return fakeInstance{backend: b}, nil
}

type fakeInstance struct {
	backend *fakeBackend
}

func (i fakeInstance) Transcribe(_ context.Context, req whisper.TranscriptionRequest) (string, error) {
	i.backend.mu.Lock()
	defer i.backend.mu.Unlock()
	i.backend.requests = append(i.backend.requests, req)
	return i.backend.text, nil
}

func (fakeInstance) Close() error { return nil }

func fakeApp(text string) (*appState, *fakeBackend) {
	backend := &fakeBackend{text: text}
	return &appState{
		newBackend: backend.factory,
		probe:      device.Static{Kind: device.CPU, Backend: "cpu"},
		converter:  audio.FFmpeg{},
	}, backend
}

// modelDirWith creates a model directory holding placeholder files for the
// named models.
func modelDirWith(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-"+name+".bin"), []byte("model"), 0o644))
	}
	return dir
}

func writeSpeechWAV(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "speech.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, 16000),
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

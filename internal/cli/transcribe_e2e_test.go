//go:build e2e

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	e2eWhisperCLIEnv    = "WHISPERD_E2E_WHISPER_CLI"
	e2eWhisperServerEnv = "WHISPERD_E2E_WHISPER_SERVER"
	e2eModelDirEnv      = "WHISPERD_E2E_MODEL_DIR"
)

func e2eModelDir(t *testing.T) string {
	t.Helper()

	modelDir := strings.TrimSpace(os.Getenv(e2eModelDirEnv))
	if modelDir == "" {
		modelDir = t.TempDir()
	}

	_, stderr, err := runCommand(t, []string{"setup", "--model", "tiny", "--model-dir", modelDir, "--no-progress"})
	require.NoErrorf(t, err, "setup command failed: %s", stderr)
	return modelDir
}

func TestTranscribeSilenceEndToEnd(t *testing.T) {
	whisperCLI := strings.TrimSpace(os.Getenv(e2eWhisperCLIEnv))
	if whisperCLI == "" {
		t.Skip("set " + e2eWhisperCLIEnv + " to run e2e test")
	}
	modelDir := e2eModelDir(t)

	stdout, stderr, err := runCommand(t, []string{
		"transcribe", "--whisper-cli", whisperCLI, "--model-dir", modelDir, "--device", "cpu", "--no-progress",
		writeSpeechWAV(t), "tiny", "auto",
	})
	require.NoErrorf(t, err, "transcribe command failed: %s", stderr)
	require.True(t, strings.HasSuffix(stdout, "\n"), "expected one line on stdout, got %q", stdout)
	t.Logf("transcript of silence: %q", stdout)
}

func TestServeEndToEnd(t *testing.T) {
	whisperServer := strings.TrimSpace(os.Getenv(e2eWhisperServerEnv))
	if whisperServer == "" {
		t.Skip("set " + e2eWhisperServerEnv + " to run e2e test")
	}
	modelDir := e2eModelDir(t)
	port := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"serve", "--whisper-server", whisperServer, "--model-dir", modelDir, "--device", "cpu", fmt.Sprint(port), "tiny"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Minute, 250*time.Millisecond)

	payload, err := json.Marshal(map[string]string{"audio_path": writeSpeechWAV(t), "model": "tiny", "language": "en"})
	require.NoError(t, err)
	resp, err := http.Post(base+"/transcribe", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body, "text")

	cancel()
	require.NoError(t, <-done)
}

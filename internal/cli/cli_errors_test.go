package cli

import (
	"strings"
	"testing"

	"github.com/fmueller/whisperd/internal/whisper"
	"github.com/stretchr/testify/require"
)

func TestCLIErrorCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		args        []string
		errContains string
	}{
		{name: "unknown command", args: []string{"badcmd"}, errContains: "unknown command"},
		{name: "unknown root flag", args: []string{"--badflag"}, errContains: "unknown flag"},
		{name: "unknown subcommand flag", args: []string{"transcribe", "--bogus", "f.wav"}, errContains: "unknown flag"},
		{name: "transcribe missing arg", args: []string{"transcribe"}, errContains: "accepts between 1 and 3 arg(s)"},
		{name: "transcribe too many args", args: []string{"transcribe", "a.wav", "base", "de", "x"}, errContains: "accepts between 1 and 3 arg(s)"},
		{name: "serve too many args", args: []string{"serve", "5555", "base", "x"}, errContains: "accepts at most 2 arg(s)"},
		{name: "serve bad port", args: []string{"serve", "http"}, errContains: "invalid port"},
		{name: "bad device", args: []string{"probe", "--device", "tpu"}, errContains: "unknown device"},
		{name: "bad backend", args: []string{"serve", "--backend", "grpc"}, errContains: "unknown backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := runCommand(t, tt.args)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestTranscribeNonexistentFile(t *testing.T) {
	t.Parallel()

	_, _, err := runCommand(t, []string{"transcribe", "/no/such/file.wav"})
	require.ErrorIs(t, err, whisper.ErrAudioNotFound)
}

func TestSetupRejectsNonexistentCustomModelPath(t *testing.T) {
	t.Parallel()

	_, _, err := runCommand(t, []string{"setup", "--model", "/no/such/path/model.bin", "--model-dir", t.TempDir()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "custom model path does not exist")
}

func TestVersionFlagOutput(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, []string{"--version"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stdout, "whisperd v"), "expected version prefix, got: %s", stdout)
}

func TestVersionCommandOutput(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, []string{"version"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stdout, "whisperd v"), "expected version prefix, got: %s", stdout)
}

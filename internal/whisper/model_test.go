package whisper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveModelDefaultNamedModel(t *testing.T) {
	t.Parallel()

	modelDir := t.TempDir()
	resolved, err := ResolveModel("", modelDir)
	require.NoError(t, err)
	require.Equal(t, DefaultModel, resolved.Name)
	require.Equal(t, filepath.Join(modelDir, "ggml-base.bin"), resolved.Path)
	require.True(t, resolved.NeedsDownload)
	require.False(t, resolved.IsCustomPath)
}

func TestResolveModelExistingNamedModel(t *testing.T) {
	t.Parallel()

	modelDir := t.TempDir()
	modelPath := filepath.Join(modelDir, "ggml-tiny.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("ok"), 0o644))

	resolved, err := ResolveModel("tiny", modelDir)
	require.NoError(t, err)
	require.Equal(t, "tiny", resolved.Name)
	require.Equal(t, modelPath, resolved.Path)
	require.False(t, resolved.NeedsDownload)
}

func TestResolveModelAlias(t *testing.T) {
	t.Parallel()

	resolved, err := ResolveModel("Large", t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "large-v3", resolved.Name)
	require.Equal(t, "ggml-large-v3.bin", filepath.Base(resolved.Path))
}

func TestResolveModelEnglishAndTurboVariants(t *testing.T) {
	t.Parallel()

	modelDir := t.TempDir()
	for _, name := range []string{"tiny.en", "base.en", "small.en", "medium.en", "large-v3-turbo"} {
		resolved, err := ResolveModel(name, modelDir)
		require.NoError(t, err, name)
		require.Equal(t, name, resolved.Name)
		require.Equal(t, filepath.Join(modelDir, "ggml-"+name+".bin"), resolved.Path)
		require.True(t, resolved.NeedsDownload)
	}

	resolved, err := ResolveModel("Large-V3-Turbo", modelDir)
	require.NoError(t, err)
	require.Equal(t, "large-v3-turbo", resolved.Name)
}

func TestResolveModelCustomPath(t *testing.T) {
	t.Parallel()

	custom := filepath.Join(t.TempDir(), "custom.bin")
	require.NoError(t, os.WriteFile(custom, []byte("x"), 0o644))

	resolved, err := ResolveModel(custom, t.TempDir())
	require.NoError(t, err)
	require.True(t, resolved.IsCustomPath)
	require.Equal(t, custom, resolved.Path)
	require.Equal(t, custom, resolved.Name)
}

func TestResolveModelUnknownModel(t *testing.T) {
	t.Parallel()

	_, err := ResolveModel("super-huge", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown model")
}

func TestCanonicalName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "base", CanonicalName(" BASE "))
	require.Equal(t, "large-v3", CanonicalName("large"))
	require.Equal(t, "/models/Custom.bin", CanonicalName("/models/Custom.bin"))
}

func TestRegistryModelsHavePinnedChecksums(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{
		"base", "base.en", "large-v3", "large-v3-turbo", "medium",
		"medium.en", "small", "small.en", "tiny", "tiny.en",
	}, ModelNames())

	seen := map[string]string{}
	for _, name := range ModelNames() {
		model, ok := LookupModel(name)
		require.True(t, ok)
		require.Lenf(t, model.SHA256, 64, "model %s should have pinned sha256", name)
		require.Equal(t, "ggml-"+name+".bin", model.FileName)
		prev, dup := seen[model.SHA256]
		require.Falsef(t, dup, "models %s and %s share a checksum", prev, name)
		seen[model.SHA256] = name
	}
}

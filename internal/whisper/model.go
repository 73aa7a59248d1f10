package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "base"

type Model struct {
	Name     string
	FileName string
	URL      string
	SHA256   string
	Size     string
}

type ResolvedModel struct {
	Name          string
	Path          string
	URL           string
	SHA256        string
	NeedsDownload bool
	IsCustomPath  bool
}

const huggingFaceBase = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

var registry = map[string]Model{
	"tiny": {
		Name:     "tiny",
		FileName: "ggml-tiny.bin",
		URL:      huggingFaceBase + "ggml-tiny.bin",
		SHA256:   "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21",
		Size:     "75 MB",
	},
	"tiny.en": {
		Name:     "tiny.en",
		FileName: "ggml-tiny.en.bin",
		URL:      huggingFaceBase + "ggml-tiny.en.bin",
		SHA256:   "921e4cf8686fdd993dcd081a5da5b6c365bfde1162e72b08d75ac75289920b1f",
		Size:     "75 MB",
	},
	"base": {
		Name:     "base",
		FileName: "ggml-base.bin",
		URL:      huggingFaceBase + "ggml-base.bin",
		SHA256:   "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe",
		Size:     "142 MB",
	},
	"base.en": {
		Name:     "base.en",
		FileName: "ggml-base.en.bin",
		URL:      huggingFaceBase + "ggml-base.en.bin",
		SHA256:   "a03779c86df3323075f5e796cb2ce5029f00ec8869eee3fdfb897afe36c6d002",
		Size:     "142 MB",
	},
	"small": {
		Name:     "small",
		FileName: "ggml-small.bin",
		URL:      huggingFaceBase + "ggml-small.bin",
		SHA256:   "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b",
		Size:     "466 MB",
	},
	"small.en": {
		Name:     "small.en",
		FileName: "ggml-small.en.bin",
		URL:      huggingFaceBase + "ggml-small.en.bin",
		SHA256:   "c6138d6d58ecc8322097e0f987c32f1be8bb0a18532a3f88f734d1bbf9c41e5d",
		Size:     "466 MB",
	},
	"medium": {
		Name:     "medium",
		FileName: "ggml-medium.bin",
		URL:      huggingFaceBase + "ggml-medium.bin",
		SHA256:   "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208",
		Size:     "1.5 GB",
	},
	"medium.en": {
		Name:     "medium.en",
		FileName: "ggml-medium.en.bin",
		URL:      huggingFaceBase + "ggml-medium.en.bin",
		SHA256:   "cc37e93478338ec7700281a7ac30a10128929eb8f427dda2e865faa8f6da4356",
		Size:     "1.5 GB",
	},
	"large-v3": {
		Name:     "large-v3",
		FileName: "ggml-large-v3.bin",
		URL:      huggingFaceBase + "ggml-large-v3.bin",
		SHA256:   "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2",
		Size:     "2.9 GB",
	},
	"large-v3-turbo": {
		Name:     "large-v3-turbo",
		FileName: "ggml-large-v3-turbo.bin",
		URL:      huggingFaceBase + "ggml-large-v3-turbo.bin",
		SHA256:   "1fc70f774d38eb169993ac391eea357ef47c88757ef72ee5943879b7e8e2bc69",
		Size:     "1.6 GB",
	},
}

// aliases maps names clients send for the openai-whisper tiers onto the
// ggml artifacts whisper.cpp ships.
var aliases = map[string]string{
	"large": "large-v3",
}

func ModelNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanonicalName lowercases a model name and resolves aliases. Names that are
// neither registered nor aliased are returned trimmed but otherwise unchanged.
func CanonicalName(name string) string {
	trimmed := strings.TrimSpace(name)
	lowered := strings.ToLower(trimmed)
	if target, ok := aliases[lowered]; ok {
		return target
	}
	if _, ok := registry[lowered]; ok {
		return lowered
	}
	return trimmed
}

func LookupModel(name string) (Model, bool) {
	model, ok := registry[CanonicalName(name)]
	return model, ok
}

func ResolveModel(modelRef, modelDir string) (ResolvedModel, error) {
	if strings.TrimSpace(modelRef) == "" {
		modelRef = DefaultModel
	}

	if model, ok := LookupModel(modelRef); ok {
		if strings.TrimSpace(modelDir) == "" {
			return ResolvedModel{}, errors.New("model directory must not be empty for named model")
		}

		modelPath := filepath.Join(modelDir, model.FileName)
		_, statErr := os.Stat(modelPath)
		needsDownload := errors.Is(statErr, os.ErrNotExist)
		if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("stat model path: %w", statErr)
		}

		return ResolvedModel{
			Name:          model.Name,
			Path:          modelPath,
			URL:           model.URL,
			SHA256:        model.SHA256,
			NeedsDownload: needsDownload,
		}, nil
	}

	if !looksLikePath(modelRef) {
		return ResolvedModel{}, fmt.Errorf("unknown model %q (known models: %s)", modelRef, strings.Join(ModelNames(), ", "))
	}

	customPath := filepath.Clean(modelRef)
	if _, err := os.Stat(customPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("custom model path does not exist: %s", customPath)
		}
		return ResolvedModel{}, fmt.Errorf("stat custom model path: %w", err)
	}

	return ResolvedModel{
		Name:         customPath,
		Path:         customPath,
		IsCustomPath: true,
	}, nil
}

func looksLikePath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(strings.ToLower(input), ".bin")
}

package whisper

import (
	"context"

	"github.com/fmueller/whisperd/internal/device"
)

// Precision is the numeric mode inference runs in.
type Precision int

const (
	FP32 Precision = iota
	FP16
)

func (p Precision) String() string {
	if p == FP16 {
		return "fp16"
	}
	return "fp32"
}

// PrecisionFor selects half precision on accelerators only; CPU paths always
// run in full precision.
func PrecisionFor(info device.Info) Precision {
	if info.IsAccelerator() {
		return FP16
	}
	return FP32
}

// LoadSpec describes the model artifact and device a backend initializes.
type LoadSpec struct {
	Model  ResolvedModel
	Device device.Info
}

// TranscriptionRequest is a single inference call against a loaded model.
// AudioPath must point to a 16 kHz mono PCM WAV file. An empty Language lets
// the model identify the language itself.
type TranscriptionRequest struct {
	AudioPath string
	Language  string
	Precision Precision
}

// Backend initializes whisper.cpp models on a device.
type Backend interface {
	Name() string
	Load(ctx context.Context, spec LoadSpec) (Instance, error)
}

// Instance is a loaded model. Transcribe may be called concurrently.
type Instance interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
	Close() error
}

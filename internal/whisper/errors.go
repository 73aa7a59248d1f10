package whisper

import "errors"

// Failure classes surfaced to callers. Callers classify with errors.Is; the
// wrapped message carries the detail.
var (
	ErrAudioNotFound = errors.New("audio not found")
	ErrDecode        = errors.New("audio decode failed")
	ErrModelLoad     = errors.New("model load failed")
	ErrInference     = errors.New("inference failed")
)

// Package audio prepares input files for whisper.cpp, which reads 16 kHz
// mono 16-bit PCM WAV only.
package audio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

const (
	WhisperSampleRate = 16000
	wavFormatPCM      = 1
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	PCM        bool
}

// WhisperReady reports whether whisper.cpp can read the file unchanged.
func (f Format) WhisperReady() bool {
	return f.PCM && f.SampleRate == WhisperSampleRate && f.Channels == 1 && f.BitDepth == 16
}

// InspectWAV reads the WAV header of path. Files that are not RIFF/WAVE
// return ErrInvalidWAV.
func InspectWAV(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Format{}, ErrInvalidWAV
	}
	if err := dec.Err(); err != nil {
		return Format{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		PCM:        dec.WavAudioFormat == wavFormatPCM,
	}
	if format.SampleRate == 0 || format.Channels == 0 {
		return format, ErrUnsupportedWAV
	}

	return format, nil
}

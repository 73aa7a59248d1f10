package cli

import (
	"fmt"
	"strings"
)

const blankAudioToken = "[BLANK_AUDIO]"

func isBlankTranscript(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return true
	}

	return strings.EqualFold(trimmed, blankAudioToken)
}

func noSpeechHint(audioPath string) string {
	return fmt.Sprintf("no speech detected in %s; check the recording level or try language \"auto\"", audioPath)
}

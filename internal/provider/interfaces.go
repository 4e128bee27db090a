package provider

import (
	"context"
	"time"

	"github.com/unalkalkan/bookcast/pkg/types"
)

// TTSProvider defines the interface for TTS providers
type TTSProvider interface {
	// Name returns the provider name
	Name() string

	// Synthesize converts one chunk of text to speech
	Synthesize(ctx context.Context, req TTSRequest) (*TTSResponse, error)

	// MaxChunkChars is the largest input the API accepts in one request
	MaxChunkChars() int

	// Close cleans up resources
	Close() error
}

// VoiceLister is implemented by providers that can enumerate their voices
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]types.Voice, error)
}

// TTSRequest contains the text and voice settings for synthesis
type TTSRequest struct {
	Text         string  // Text to synthesize
	VoiceID      string  // Provider-specific voice ID, empty for the default voice
	Language     string  // BCP-47 or ISO-639-1 language code
	SpeakingRate float64 // 1.0 is normal speed, 0 means default
	Format       string  // Output format, "mp3" when empty
}

// TTSResponse contains the synthesized audio and metadata
type TTSResponse struct {
	AudioData []byte        // Audio file data
	Format    string        // Audio format (e.g., "mp3")
	Duration  time.Duration // Reported or estimated playback length
}

// estimateDuration approximates speech length at about 150 words per minute
// of five characters each.
func estimateDuration(text string) time.Duration {
	return time.Duration(len(text)) * time.Minute / (150 * 5)
}

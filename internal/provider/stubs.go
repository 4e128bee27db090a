package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/unalkalkan/bookcast/internal/audio"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const (
	StubTTSType         = "stub"
	stubMaxChunkChars   = 4500
	stubCharsPerFrame   = 20
	stubDefaultVoice    = "stub-voice-1"
	stubLatencyOption   = "latency_ms"
	stubFailAfterOption = "fail_after"
)

// StubTTSProvider produces deterministic MP3 audio without any network call.
// The output depends only on voice and text, so caching behaves exactly as
// with a real API.
type StubTTSProvider struct {
	name      string
	config    types.TTSProviderConfig
	latency   time.Duration
	failAfter int64

	calls atomic.Int64
}

// NewStubTTSProvider creates a new stub TTS provider. Options:
// latency_ms delays every call, fail_after makes every call past the given
// count fail with a 503.
func NewStubTTSProvider(config types.TTSProviderConfig) *StubTTSProvider {
	s := &StubTTSProvider{
		name:   config.Name,
		config: config,
	}
	if ms, err := strconv.Atoi(config.Options[stubLatencyOption]); err == nil && ms > 0 {
		s.latency = time.Duration(ms) * time.Millisecond
	}
	if n, err := strconv.ParseInt(config.Options[stubFailAfterOption], 10, 64); err == nil && n > 0 {
		s.failAfter = n
	}
	return s
}

func (s *StubTTSProvider) Name() string {
	return s.name
}

func (s *StubTTSProvider) MaxChunkChars() int {
	if s.config.MaxChunkChars > 0 {
		return s.config.MaxChunkChars
	}
	return stubMaxChunkChars
}

// Calls returns how many Synthesize calls reached the provider.
func (s *StubTTSProvider) Calls() int {
	return int(s.calls.Load())
}

func (s *StubTTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	if n := s.calls.Add(1); s.failAfter > 0 && n > s.failAfter {
		return nil, &StatusError{Provider: s.name, StatusCode: 503, Message: "stub failure"}
	}

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	voice := req.VoiceID
	if voice == "" {
		voice = stubDefaultVoice
	}
	frames := max(1, len(text)/stubCharsPerFrame)
	data := audio.SyntheticMP3([]byte(voice+"\x00"+text), frames)

	return &TTSResponse{
		AudioData: data,
		Format:    "mp3",
		Duration:  time.Duration(frames) * audio.FrameDuration,
	}, nil
}

func (s *StubTTSProvider) ListVoices(ctx context.Context) ([]types.Voice, error) {
	voices := []types.Voice{
		{
			ID:          "stub-voice-1",
			Name:        "Stub Voice 1",
			Languages:   []string{"en"},
			Gender:      "neutral",
			Description: "A stub voice for testing",
		},
		{
			ID:          "stub-voice-2",
			Name:        "Stub Voice 2",
			Languages:   []string{"en", "es"},
			Gender:      "male",
			Description: "Another stub voice",
		},
	}
	return voices, nil
}

func (s *StubTTSProvider) Close() error {
	return nil
}

var (
	_ TTSProvider = (*StubTTSProvider)(nil)
	_ VoiceLister = (*StubTTSProvider)(nil)
)

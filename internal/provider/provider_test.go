package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/bookcast/pkg/types"
)

var fakeMP3 = []byte("ID3\x04\x00\x00\x00\x00\x00\x00\xff\xfb\x90\x00")

func TestGoogleTTSProvider_Synthesize(t *testing.T) {
	var got googleSynthesizeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/text:synthesize", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString(fakeMP3),
		})
	}))
	defer server.Close()

	p, err := NewGoogleTTSProvider(types.TTSProviderConfig{
		Name: "google", Endpoint: server.URL, APIKey: "secret",
	}, nil)
	require.NoError(t, err)

	resp, err := p.Synthesize(context.Background(), TTSRequest{
		Text:         "  Hello there.  ",
		VoiceID:      "en-GB-Wavenet-A",
		Language:     "de",
		SpeakingRate: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, fakeMP3, resp.AudioData)
	assert.Equal(t, "mp3", resp.Format)
	assert.Positive(t, resp.Duration)

	assert.Equal(t, "Hello there.", got.Input.Text)
	assert.Equal(t, "en-GB", got.Voice.LanguageCode)
	assert.Equal(t, "MP3", got.AudioConfig.AudioEncoding)
	assert.Equal(t, 4.0, got.AudioConfig.SpeakingRate)
	assert.Equal(t, 4500, p.MaxChunkChars())
}

func TestGoogleTTSProvider_ListVoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/voices", r.URL.Path)
		assert.Equal(t, "en-US", r.URL.Query().Get("languageCode"))
		_, _ = io.WriteString(w, `{"voices":[{"languageCodes":["en-US"],"name":"en-US-Neural2-D","ssmlGender":"MALE","naturalSampleRateHertz":24000}]}`)
	}))
	defer server.Close()

	p, err := NewGoogleTTSProvider(types.TTSProviderConfig{
		Name: "google", Endpoint: server.URL, APIKey: "k",
		Options: map[string]string{"language": "en-US"},
	}, nil)
	require.NoError(t, err)

	voices, err := p.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, "en-US-Neural2-D", voices[0].ID)
	assert.Equal(t, "male", voices[0].Gender)
	assert.Equal(t, []string{"en-US"}, voices[0].Languages)
}

func TestGoogleLanguage(t *testing.T) {
	assert.Equal(t, "en-GB", googleLanguage("fr-FR", "en-GB-Wavenet-A"))
	assert.Equal(t, "fr-FR", googleLanguage("fr-FR", "custom"))
	assert.Equal(t, "en-US", googleLanguage("", ""))
}

func TestElevenLabsTTSProvider_Synthesize(t *testing.T) {
	var got elevenLabsTTSRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-123", r.URL.Path)
		assert.Equal(t, "mp3_44100_128", r.URL.Query().Get("output_format"))
		assert.Equal(t, "xi-secret", r.Header.Get("xi-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(fakeMP3)
	}))
	defer server.Close()

	p, err := NewElevenLabsTTSProvider(types.TTSProviderConfig{
		Name: "eleven", Endpoint: server.URL, APIKey: "xi-secret", DefaultVoice: "voice-123",
	}, nil)
	require.NoError(t, err)

	resp, err := p.Synthesize(context.Background(), TTSRequest{Text: "Hi.", Language: "EN", SpeakingRate: 0.5})
	require.NoError(t, err)
	assert.Equal(t, fakeMP3, resp.AudioData)

	assert.Equal(t, "eleven_multilingual_v2", got.ModelID)
	assert.Equal(t, "en", got.LanguageCode)
	assert.Equal(t, 0.7, got.VoiceSettings.Speed)
	assert.Equal(t, 2500, p.MaxChunkChars())
}

func TestElevenLabsTTSProvider_RequiresVoice(t *testing.T) {
	p, err := NewElevenLabsTTSProvider(types.TTSProviderConfig{Name: "eleven", APIKey: "k"}, nil)
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), TTSRequest{Text: "Hi."})
	assert.ErrorContains(t, err, "voice_id is required")
}

func TestElevenLabsTTSProvider_ListVoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/voices", r.URL.Path)
		_, _ = io.WriteString(w, `{"voices":[{"voice_id":"v1","name":"Rachel","labels":{"gender":"female","accent":"american","language":"en"}}]}`)
	}))
	defer server.Close()

	p, err := NewElevenLabsTTSProvider(types.TTSProviderConfig{Name: "eleven", Endpoint: server.URL, APIKey: "k"}, nil)
	require.NoError(t, err)

	voices, err := p.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, "female", voices[0].Gender)
	assert.Equal(t, []string{"en"}, voices[0].Languages)
	assert.Equal(t, "accent: american, gender: female, language: en", voices[0].Description)
}

func TestOpenAITTSProvider_Synthesize(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(fakeMP3)
	}))
	defer server.Close()

	p, err := NewOpenAITTSProvider(types.TTSProviderConfig{
		Name: "openai", Endpoint: server.URL + "/v1/", APIKey: "sk-test",
	}, nil)
	require.NoError(t, err)

	resp, err := p.Synthesize(context.Background(), TTSRequest{Text: "Hello.", VoiceID: "nova", SpeakingRate: 1.5})
	require.NoError(t, err)
	assert.Equal(t, fakeMP3, resp.AudioData)

	assert.Equal(t, "Hello.", got["input"])
	assert.Equal(t, "tts-1", got["model"])
	assert.Equal(t, "nova", got["voice"])
	assert.Equal(t, "mp3", got["response_format"])
	assert.Equal(t, 1.5, got["speed"])
	assert.NotContains(t, got, "instructions")
}

func TestOpenAITTSProvider_Config(t *testing.T) {
	_, err := NewOpenAITTSProvider(types.TTSProviderConfig{Name: "openai"}, nil)
	assert.Error(t, err)

	p, err := NewOpenAITTSProvider(types.TTSProviderConfig{Name: "openai", APIKey: "k", MaxChunkChars: 1000}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, p.MaxChunkChars())

	voices, err := p.ListVoices(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, voices)
}

func TestProviders_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down"},"detail":{"message":"slow down"}}`)
	}))
	defer server.Close()

	cfg := types.TTSProviderConfig{Endpoint: server.URL, APIKey: "k", DefaultVoice: "v"}
	google, err := NewGoogleTTSProvider(withName(cfg, "google"), nil)
	require.NoError(t, err)
	eleven, err := NewElevenLabsTTSProvider(withName(cfg, "eleven"), nil)
	require.NoError(t, err)
	openaiCfg := withName(cfg, "openai")
	openaiCfg.Endpoint = server.URL + "/v1/"
	oai, err := NewOpenAITTSProvider(openaiCfg, nil)
	require.NoError(t, err)

	for _, p := range []TTSProvider{google, eleven, oai} {
		t.Run(p.Name(), func(t *testing.T) {
			_, err := p.Synthesize(context.Background(), TTSRequest{Text: "Hi."})
			rle, ok := IsRateLimitError(err)
			require.True(t, ok, "expected rate limit error, got %v", err)
			assert.Equal(t, 7*time.Second, rle.RetryAfter)
			assert.Equal(t, p.Name(), rle.Provider)
			assert.False(t, IsPermanent(err))
		})
	}
}

func TestProviders_PermanentErrors(t *testing.T) {
	status := http.StatusBadRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":"bad voice"}}`)
	}))
	defer server.Close()

	p, err := NewGoogleTTSProvider(types.TTSProviderConfig{Name: "google", Endpoint: server.URL, APIKey: "k"}, nil)
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), TTSRequest{Text: "Hi."})
	assert.True(t, IsPermanent(err))
	assert.ErrorContains(t, err, "bad voice")

	status = http.StatusServiceUnavailable
	_, err = p.Synthesize(context.Background(), TTSRequest{Text: "Hi."})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	status = http.StatusRequestTimeout
	_, err = p.Synthesize(context.Background(), TTSRequest{Text: "Hi."})
	assert.False(t, IsPermanent(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("soon"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, parseRetryAfter(future), 50*time.Minute)
}

func withName(cfg types.TTSProviderConfig, name string) types.TTSProviderConfig {
	cfg.Name = name
	return cfg
}

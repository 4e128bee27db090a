package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/unalkalkan/bookcast/pkg/types"
)

const (
	ElevenLabsTTSType         = "elevenlabs"
	elevenLabsDefaultEndpoint = "https://api.elevenlabs.io"
	elevenLabsDefaultModel    = "eleven_multilingual_v2"
	elevenLabsOutputFormat    = "mp3_44100_128"
	elevenLabsMaxChunkChars   = 2500
	elevenLabsMinSpeed        = 0.7
	elevenLabsMaxSpeed        = 1.2
)

// ElevenLabsTTSProvider calls the ElevenLabs text-to-speech API. The
// response body is the MP3 stream itself.
type ElevenLabsTTSProvider struct {
	name       string
	config     types.TTSProviderConfig
	endpoint   string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewElevenLabsTTSProvider creates an ElevenLabs provider
func NewElevenLabsTTSProvider(config types.TTSProviderConfig, log *slog.Logger) (*ElevenLabsTTSProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for ElevenLabs provider %s", config.Name)
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = elevenLabsDefaultEndpoint
	}
	model := config.Model
	if model == "" {
		model = elevenLabsDefaultModel
	}
	return &ElevenLabsTTSProvider{
		name:       config.Name,
		config:     config,
		endpoint:   endpoint,
		model:      model,
		httpClient: newHTTPClient(config.Timeout),
		log:        providerLogger(log, config.Name),
	}, nil
}

func (e *ElevenLabsTTSProvider) Name() string {
	return e.name
}

func (e *ElevenLabsTTSProvider) MaxChunkChars() int {
	if e.config.MaxChunkChars > 0 && e.config.MaxChunkChars < elevenLabsMaxChunkChars {
		return e.config.MaxChunkChars
	}
	return elevenLabsMaxChunkChars
}

func (e *ElevenLabsTTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	voice := req.VoiceID
	if voice == "" {
		voice = e.config.DefaultVoice
	}
	if voice == "" {
		return nil, fmt.Errorf("voice_id is required for ElevenLabs")
	}

	apiReq := elevenLabsTTSRequest{
		Text:    text,
		ModelID: e.model,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			UseSpeakerBoost: true,
		},
	}
	if req.SpeakingRate > 0 {
		apiReq.VoiceSettings.Speed = min(max(req.SpeakingRate, elevenLabsMinSpeed), elevenLabsMaxSpeed)
	}
	if len(req.Language) == 2 {
		apiReq.LanguageCode = strings.ToLower(req.Language)
	}

	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s?output_format=%s",
		joinURL(e.endpoint, "/v1/text-to-speech"), url.PathEscape(voice), elevenLabsOutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", e.config.APIKey)

	e.log.Debug("synthesize", "voice", voice, "chars", len(text))
	audio, err := do(e.httpClient, e.log, e.name, httpReq, elevenLabsErrorMessage)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio from %s", e.name)
	}

	return &TTSResponse{
		AudioData: audio,
		Format:    "mp3",
		Duration:  estimateDuration(text),
	}, nil
}

// ListVoices retrieves the voices available to the account.
func (e *ElevenLabsTTSProvider) ListVoices(ctx context.Context) ([]types.Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(e.endpoint, "/v1/voices"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", e.config.APIKey)

	body, err := do(e.httpClient, e.log, e.name, httpReq, elevenLabsErrorMessage)
	if err != nil {
		return nil, err
	}

	var result elevenLabsVoicesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	voices := make([]types.Voice, 0, len(result.Voices))
	for _, v := range result.Voices {
		voice := types.Voice{
			ID:          v.VoiceID,
			Name:        v.Name,
			Gender:      v.Labels["gender"],
			Description: v.Description,
		}
		if lang := v.Labels["language"]; lang != "" {
			voice.Languages = []string{lang}
		}
		if voice.Description == "" && len(v.Labels) > 0 {
			voice.Description = describeLabels(v.Labels)
		}
		voices = append(voices, voice)
	}
	return voices, nil
}

func (e *ElevenLabsTTSProvider) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// describeLabels renders voice labels in a stable order.
func describeLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+labels[k])
	}
	return strings.Join(parts, ", ")
}

func elevenLabsErrorMessage(body []byte) string {
	var errResp elevenLabsErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		return errResp.Detail.Message
	}
	return ""
}

type elevenLabsTTSRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	LanguageCode  string                  `json:"language_code,omitempty"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

type elevenLabsErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

type elevenLabsVoicesResponse struct {
	Voices []struct {
		VoiceID     string            `json:"voice_id"`
		Name        string            `json:"name"`
		Description string            `json:"description,omitempty"`
		Labels      map[string]string `json:"labels,omitempty"`
	} `json:"voices"`
}

var (
	_ TTSProvider = (*ElevenLabsTTSProvider)(nil)
	_ VoiceLister = (*ElevenLabsTTSProvider)(nil)
)

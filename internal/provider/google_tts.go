package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/unalkalkan/bookcast/pkg/types"
)

const (
	GoogleTTSType          = "google"
	googleDefaultEndpoint  = "https://texttospeech.googleapis.com"
	googleDefaultVoice     = "en-US-Neural2-D"
	googleDefaultLanguage  = "en-US"
	googleMaxChunkBytes    = 4500
	googleMinSpeakingRate  = 0.25
	googleMaxSpeakingRate  = 4.0
	googleAudioEncodingMP3 = "MP3"
	googleSynthesizePath   = "/v1/text:synthesize"
	googleVoicesPath       = "/v1/voices"
)

// GoogleTTSProvider calls the Google Cloud Text-to-Speech REST API with an
// API key.
type GoogleTTSProvider struct {
	name       string
	config     types.TTSProviderConfig
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger
}

// NewGoogleTTSProvider creates a Google Cloud TTS provider
func NewGoogleTTSProvider(config types.TTSProviderConfig, log *slog.Logger) (*GoogleTTSProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for Google TTS provider %s", config.Name)
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = googleDefaultEndpoint
	}
	return &GoogleTTSProvider{
		name:       config.Name,
		config:     config,
		endpoint:   endpoint,
		httpClient: newHTTPClient(config.Timeout),
		log:        providerLogger(log, config.Name),
	}, nil
}

func (g *GoogleTTSProvider) Name() string {
	return g.name
}

// MaxChunkChars is measured in bytes; Google limits the request input size.
func (g *GoogleTTSProvider) MaxChunkChars() int {
	if g.config.MaxChunkChars > 0 && g.config.MaxChunkChars < googleMaxChunkBytes {
		return g.config.MaxChunkChars
	}
	return googleMaxChunkBytes
}

func (g *GoogleTTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	voice := req.VoiceID
	if voice == "" {
		voice = g.config.DefaultVoice
	}
	if voice == "" {
		voice = googleDefaultVoice
	}

	apiReq := googleSynthesizeRequest{
		Input: googleInput{Text: text},
		Voice: googleVoiceSelection{
			LanguageCode: googleLanguage(req.Language, voice),
			Name:         voice,
		},
		AudioConfig: googleAudioConfig{AudioEncoding: googleAudioEncodingMP3},
	}
	if req.SpeakingRate > 0 {
		apiReq.AudioConfig.SpeakingRate = min(max(req.SpeakingRate, googleMinSpeakingRate), googleMaxSpeakingRate)
	}

	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url(googleSynthesizePath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	g.log.Debug("synthesize", "voice", voice, "bytes", len(text))
	body, err := do(g.httpClient, g.log, g.name, httpReq, googleErrorMessage)
	if err != nil {
		return nil, err
	}

	var apiResp googleSynthesizeResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(apiResp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio content: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio content from %s", g.name)
	}

	return &TTSResponse{
		AudioData: audio,
		Format:    "mp3",
		Duration:  estimateDuration(text),
	}, nil
}

// ListVoices returns the voices Google offers, optionally filtered by the
// provider's configured language option.
func (g *GoogleTTSProvider) ListVoices(ctx context.Context) ([]types.Voice, error) {
	u := g.url(googleVoicesPath)
	if lang := g.config.Options["language"]; lang != "" {
		u += "&languageCode=" + url.QueryEscape(lang)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := do(g.httpClient, g.log, g.name, httpReq, googleErrorMessage)
	if err != nil {
		return nil, err
	}

	var apiResp googleVoicesResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	voices := make([]types.Voice, 0, len(apiResp.Voices))
	for _, v := range apiResp.Voices {
		voices = append(voices, types.Voice{
			ID:          v.Name,
			Name:        v.Name,
			Languages:   v.LanguageCodes,
			Gender:      strings.ToLower(v.SSMLGender),
			Description: fmt.Sprintf("%d Hz", v.NaturalSampleRateHertz),
		})
	}
	return voices, nil
}

func (g *GoogleTTSProvider) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

func (g *GoogleTTSProvider) url(path string) string {
	return joinURL(g.endpoint, path) + "?key=" + url.QueryEscape(g.config.APIKey)
}

// googleLanguage picks the request language. Google voice names start with
// their locale ("en-GB-Wavenet-A"), which wins over a bare language hint.
func googleLanguage(hint, voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) == 3 && len(parts[0]) >= 2 && len(parts[0]) <= 3 {
		return parts[0] + "-" + parts[1]
	}
	if hint != "" {
		return hint
	}
	return googleDefaultLanguage
}

func googleErrorMessage(body []byte) string {
	var errResp googleErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		return errResp.Error.Message
	}
	return ""
}

type googleSynthesizeRequest struct {
	Input       googleInput          `json:"input"`
	Voice       googleVoiceSelection `json:"voice"`
	AudioConfig googleAudioConfig    `json:"audioConfig"`
}

type googleInput struct {
	Text string `json:"text"`
}

type googleVoiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type googleAudioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
}

type googleSynthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

type googleVoicesResponse struct {
	Voices []struct {
		LanguageCodes          []string `json:"languageCodes"`
		Name                   string   `json:"name"`
		SSMLGender             string   `json:"ssmlGender"`
		NaturalSampleRateHertz int      `json:"naturalSampleRateHertz"`
	} `json:"voices"`
}

type googleErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

var (
	_ TTSProvider = (*GoogleTTSProvider)(nil)
	_ VoiceLister = (*GoogleTTSProvider)(nil)
)

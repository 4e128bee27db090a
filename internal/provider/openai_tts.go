package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/unalkalkan/bookcast/pkg/types"
)

const (
	OpenAITTSType         = "openai"
	openAIDefaultModel    = "tts-1"
	openAIDefaultVoice    = "alloy"
	openAIMaxChunkChars   = 4000
	openAIMinSpeakingRate = 0.25
	openAIMaxSpeakingRate = 4.0
)

var openAIVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable", "nova",
	"onyx", "sage", "shimmer", "verse",
}

// OpenAITTSProvider implements TTSProvider with the official OpenAI SDK.
// Endpoint may point at any OpenAI-compatible speech API.
type OpenAITTSProvider struct {
	name       string
	config     types.TTSProviderConfig
	model      string
	client     openai.Client
	httpClient *http.Client
	log        *slog.Logger
}

// NewOpenAITTSProvider creates a new OpenAI-compatible TTS provider
func NewOpenAITTSProvider(config types.TTSProviderConfig, log *slog.Logger) (*OpenAITTSProvider, error) {
	if config.APIKey == "" && config.Endpoint == "" {
		return nil, fmt.Errorf("api_key or endpoint is required for OpenAI TTS provider %s", config.Name)
	}

	model := config.Model
	if model == "" {
		model = openAIDefaultModel
	}

	httpClient := newHTTPClient(config.Timeout)
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries happen in the conversion orchestrator.
		option.WithMaxRetries(0),
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(config.Endpoint))
	}

	return &OpenAITTSProvider{
		name:       config.Name,
		config:     config,
		model:      model,
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
		log:        providerLogger(log, config.Name),
	}, nil
}

func (o *OpenAITTSProvider) Name() string {
	return o.name
}

func (o *OpenAITTSProvider) MaxChunkChars() int {
	if o.config.MaxChunkChars > 0 && o.config.MaxChunkChars < openAIMaxChunkChars {
		return o.config.MaxChunkChars
	}
	return openAIMaxChunkChars
}

// Synthesize converts text to speech using the audio/speech endpoint
func (o *OpenAITTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	voice := req.VoiceID
	if voice == "" {
		voice = o.config.DefaultVoice
	}
	if voice == "" {
		voice = openAIDefaultVoice
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(o.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if req.SpeakingRate > 0 {
		params.Speed = openai.Float(min(max(req.SpeakingRate, openAIMinSpeakingRate), openAIMaxSpeakingRate))
	}
	if instructions := o.config.Options["instructions"]; instructions != "" && strings.HasPrefix(o.model, "gpt-4o-mini-tts") {
		params.Instructions = openai.String(instructions)
	}

	o.log.Debug("synthesize", "voice", voice, "model", o.model, "chars", len(text))
	resp, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, o.mapError(err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed reading openai audio response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio from %s", o.name)
	}

	return &TTSResponse{
		AudioData: audio,
		Format:    "mp3",
		Duration:  estimateDuration(text),
	}, nil
}

// ListVoices returns the built-in OpenAI voice list; the API has no voices
// endpoint.
func (o *OpenAITTSProvider) ListVoices(_ context.Context) ([]types.Voice, error) {
	voices := make([]types.Voice, 0, len(openAIVoices))
	for _, name := range openAIVoices {
		voices = append(voices, types.Voice{
			ID:        name,
			Name:      name,
			Languages: []string{},
		})
	}
	return voices, nil
}

func (o *OpenAITTSProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

func (o *OpenAITTSProvider) mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("failed to call TTS API: %w", err)
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		rle := &RateLimitError{
			Provider:   o.name,
			Message:    apiErr.Message,
			StatusCode: apiErr.StatusCode,
		}
		if apiErr.Response != nil {
			rle.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return rle
	}
	return &StatusError{Provider: o.name, StatusCode: apiErr.StatusCode, Message: apiErr.Message}
}

var (
	_ TTSProvider = (*OpenAITTSProvider)(nil)
	_ VoiceLister = (*OpenAITTSProvider)(nil)
)

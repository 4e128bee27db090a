package api

import (
	"context"
	"net/http"
	"time"

	"github.com/unalkalkan/bookcast/internal/provider"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const voicesTimeout = 30 * time.Second

// ProviderResponse describes a registered TTS provider without secrets.
type ProviderResponse struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	DefaultVoice  string  `json:"default_voice,omitempty"`
	Model         string  `json:"model,omitempty"`
	MaxChunkChars int     `json:"max_chunk_chars"`
	Concurrency   int     `json:"concurrency,omitempty"`
	RateLimitQPS  float64 `json:"rate_limit_qps,omitempty"`
}

// VoiceResponse represents a voice in the API response
type VoiceResponse struct {
	types.Voice
	Provider string `json:"provider"`
}

// handleInfo handles GET /api/v1/info
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"name":            "bookcast",
		"version":         s.deps.Version,
		"storage_adapter": s.deps.Config.Storage.Adapter,
		"providers":       s.deps.Registry.List(),
		"formats":         []string{"epub", "pdf", "txt"},
		"max_upload_mb":   s.maxUploadBytes() >> 20,
		"uptime":          time.Since(s.started).Round(time.Second).String(),
	}, http.StatusOK)
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"jobs": s.deps.Conversions.Stats(),
	}

	hist, err := s.deps.History.Stats(r.Context())
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	out["history"] = hist

	if s.deps.Cache != nil {
		out["cache"] = s.deps.Cache.Stats()
	}
	if s.deps.Events != nil {
		out["sse"] = map[string]any{
			"clients": s.deps.Events.ClientCount(),
			"dropped": s.deps.Events.Dropped(),
		}
	}
	respondJSON(w, out, http.StatusOK)
}

// handleListProviders handles GET /api/v1/providers
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Registry.List()
	out := make([]ProviderResponse, 0, len(names))
	for _, name := range names {
		p, err := s.deps.Registry.Get(name)
		if err != nil {
			continue
		}
		cfg, _ := s.deps.Registry.Config(name)
		out = append(out, ProviderResponse{
			Name:          name,
			Type:          cfg.Type,
			DefaultVoice:  cfg.DefaultVoice,
			Model:         cfg.Model,
			MaxChunkChars: p.MaxChunkChars(),
			Concurrency:   cfg.Concurrency,
			RateLimitQPS:  cfg.RateLimitQPS,
		})
	}
	respondJSON(w, map[string]any{"providers": out, "count": len(out)}, http.StatusOK)
}

// handleListVoices handles GET /api/v1/voices. Without a provider query
// every provider is asked and failures are skipped.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), voicesTimeout)
	defer cancel()

	names := s.deps.Registry.List()
	strict := false
	if name := r.URL.Query().Get("provider"); name != "" {
		if _, err := s.deps.Registry.Get(name); err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		names = []string{name}
		strict = true
	}

	voices := make([]VoiceResponse, 0)
	for _, name := range names {
		list, err := s.providerVoices(ctx, name)
		if err != nil {
			if strict {
				respondError(w, r, s.logger, err)
				return
			}
			s.logger.Warn("failed to list voices", "provider", name, "error", err)
			continue
		}
		for _, v := range list {
			voices = append(voices, VoiceResponse{Voice: v, Provider: name})
		}
	}
	respondJSON(w, map[string]any{"voices": voices, "count": len(voices)}, http.StatusOK)
}

func (s *Server) providerVoices(ctx context.Context, name string) ([]types.Voice, error) {
	p, err := s.deps.Registry.Get(name)
	if err != nil {
		return nil, err
	}
	lister, ok := p.(provider.VoiceLister)
	if !ok {
		return nil, nil
	}
	return lister.ListVoices(ctx)
}

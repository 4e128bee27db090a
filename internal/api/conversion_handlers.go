package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unalkalkan/bookcast/internal/conversion"
	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/history"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/streaming"
	"github.com/unalkalkan/bookcast/internal/util"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const maxListLimit = 200

// ConversionResponse describes a conversion. Live is set while this
// process still tracks the job; History is the stored row.
type ConversionResponse struct {
	ID      string                  `json:"id"`
	Status  string                  `json:"status"`
	Live    *conversion.JobView     `json:"job,omitempty"`
	History *types.ConversionRecord `json:"history,omitempty"`
}

// handleCreateConversion handles POST /api/v1/conversions
func (s *Server) handleCreateConversion(w http.ResponseWriter, r *http.Request) {
	var req types.ConversionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	job, err := s.deps.Conversions.Submit(r.Context(), req)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	view, err := s.deps.Conversions.View(job.ID)
	if err != nil {
		view = job.View()
	}
	w.Header().Set("Location", "/api/v1/conversions/"+job.ID)
	respondJSON(w, view, http.StatusAccepted)
}

// handleListConversions handles GET /api/v1/conversions. With q set the
// full-text index is searched and the other filters are ignored.
func (s *Server) handleListConversions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, err := intParam(query.Get("limit"), 50)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	offset, err := intParam(query.Get("offset"), 0)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	limit = min(max(limit, 1), maxListLimit)

	if q := query.Get("q"); q != "" {
		records, err := s.deps.History.Search(r.Context(), q, limit)
		if err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		respondJSON(w, map[string]any{"conversions": records, "total": len(records), "query": q}, http.StatusOK)
		return
	}

	records, total, err := s.deps.History.List(r.Context(), history.Filter{
		Status:     query.Get("status"),
		Provider:   query.Get("provider"),
		DocumentID: query.Get("document_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, map[string]any{
		"conversions": records,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	}, http.StatusOK)
}

// handleGetConversion handles GET /api/v1/conversions/{id}
func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	resp := ConversionResponse{ID: jobID}

	if view, err := s.deps.Conversions.View(jobID); err == nil {
		resp.Live = &view
		resp.Status = view.Status
	}

	rec, err := s.deps.History.Get(r.Context(), jobID)
	switch {
	case err == nil:
		resp.History = rec
		if resp.Status == "" {
			resp.Status = rec.Status
		}
	case !domainerrors.Is(err, domainerrors.ErrNotFound):
		respondError(w, r, s.logger, err)
		return
	}

	if resp.Live == nil && resp.History == nil {
		respondError(w, r, s.logger, domainerrors.NotFoundf("conversion not found: %s", jobID))
		return
	}
	respondJSON(w, resp, http.StatusOK)
}

// handleCancelConversion handles DELETE /api/v1/conversions/{id}
func (s *Server) handleCancelConversion(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := s.deps.Conversions.Cancel(r.Context(), jobID); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	job, err := s.deps.Conversions.Get(jobID)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, job.View(), http.StatusAccepted)
}

// handleConversionAudio handles GET /api/v1/conversions/{id}/audio. The
// optional chapter query selects one chapter's file.
func (s *Server) handleConversionAudio(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	key := util.FullAudioKey(jobID)
	name := jobID + ".mp3"
	if chapterID := r.URL.Query().Get("chapter"); chapterID != "" {
		key = util.ChapterAudioKey(jobID, chapterID)
		name = jobID + "-" + chapterID + ".mp3"
	}

	data, err := storage.GetBytes(r.Context(), s.deps.Storage, key)
	if err != nil {
		respondError(w, r, s.logger, s.audioError(jobID, err))
		return
	}
	serveAudio(w, r, name, data)
}

// handleChunkAudio handles GET /api/v1/conversions/{id}/chunks/{index}/audio
func (s *Server) handleChunkAudio(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, r, s.logger, domainerrors.Validationf("chunk index must be a number"))
		return
	}

	data, err := s.streaming.ChunkAudio(r.Context(), jobID, index)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	serveAudio(w, r, fmt.Sprintf("%s-%05d.mp3", jobID, index), data)
}

// handleConversionChunks handles GET /api/v1/conversions/{id}/chunks and
// writes one NDJSON line per synthesized chunk. Pass after to skip chunks
// already seen.
func (s *Server) handleConversionChunks(w http.ResponseWriter, r *http.Request) {
	after, err := intParam(r.URL.Query().Get("after"), -1)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	items, err := s.streaming.StreamChunks(r.Context(), chi.URLParam(r, "id"), after)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if err := streaming.EncodeNDJSON(w, items); err != nil {
		s.logger.Warn("failed to write chunk stream", "error", err)
	}
}

// handlePackageConversion handles GET /api/v1/conversions/{id}/package
func (s *Server) handlePackageConversion(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	archive, err := s.packaging.PackageConversion(r.Context(), jobID)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, jobID))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, archive); err != nil {
		s.logger.Warn("failed to write package", "job_id", jobID, "error", err)
	}
}

// audioError turns a missing file into a conflict while the job is still
// running.
func (s *Server) audioError(jobID string, err error) error {
	if !domainerrors.Is(err, domainerrors.ErrNotFound) {
		return err
	}
	if job, jerr := s.deps.Conversions.Get(jobID); jerr == nil && !job.Terminal() {
		return domainerrors.Conflictf("conversion %s is still %s", jobID, job.Status())
	}
	return domainerrors.NotFoundf("no audio for conversion %s", jobID)
}

func serveAudio(w http.ResponseWriter, r *http.Request, name string, data []byte) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, name))
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domainerrors.Validationf("invalid number %q", raw)
	}
	return n, nil
}

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unalkalkan/bookcast/internal/document"
	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/pkg/types"
)

// multipartMemory is how much of an upload is held in memory before the
// rest spills to temporary files.
const multipartMemory = 32 << 20

// DocumentResponse is a document together with its chapters.
type DocumentResponse struct {
	Document *types.Document  `json:"document"`
	Chapters []ChapterSummary `json:"chapters"`
}

// ChapterSummary is a chapter without its text.
type ChapterSummary struct {
	ID            string   `json:"id"`
	Number        int      `json:"number"`
	Title         string   `json:"title"`
	TOCPath       []string `json:"toc_path,omitempty"`
	Confidence    float64  `json:"confidence"`
	DetectionType string   `json:"detection_type"`
	CharCount     int      `json:"char_count"`
}

func summarize(chapters []*types.Chapter) []ChapterSummary {
	out := make([]ChapterSummary, 0, len(chapters))
	for _, ch := range chapters {
		out = append(out, ChapterSummary{
			ID:            ch.ID,
			Number:        ch.Number,
			Title:         ch.Title,
			TOCPath:       ch.TOCPath,
			Confidence:    ch.Confidence,
			DetectionType: ch.DetectionType,
			CharCount:     ch.CharCount,
		})
	}
	return out
}

// handleUploadDocument handles POST /api/v1/documents
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, s.logger, &domainerrors.Error{
				Code:    domainerrors.CodeTooLarge,
				Message: "file exceeds the upload limit",
				Details: map[string]int64{"max_bytes": tooLarge.Limit},
			})
			return
		}
		respondError(w, r, s.logger, domainerrors.Validationf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, s.logger, domainerrors.Validationf("no file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	ex, err := s.deps.Importer.Import(r.Context(), header.Filename, data, document.Metadata{
		Title:    r.FormValue("title"),
		Author:   r.FormValue("author"),
		Language: r.FormValue("language"),
	})
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	respondJSON(w, DocumentResponse{Document: ex.Document, Chapters: summarize(ex.Chapters)}, http.StatusCreated)
}

// handleListDocuments handles GET /api/v1/documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Documents.ListDocuments(r.Context())
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, map[string]any{"documents": docs, "count": len(docs)}, http.StatusOK)
}

// handleGetDocument handles GET /api/v1/documents/{id}
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Documents.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	chapters, err := s.deps.Documents.ListChapters(r.Context(), doc.ID)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, DocumentResponse{Document: doc, Chapters: summarize(chapters)}, http.StatusOK)
}

// handleListChapters handles GET /api/v1/documents/{id}/chapters and
// includes chapter text.
func (s *Server) handleListChapters(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "id")
	if _, err := s.deps.Documents.GetDocument(r.Context(), docID); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	chapters, err := s.deps.Documents.ListChapters(r.Context(), docID)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, map[string]any{"chapters": chapters, "count": len(chapters)}, http.StatusOK)
}

// handleDeleteDocument handles DELETE /api/v1/documents/{id}
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Documents.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

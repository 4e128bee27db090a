package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
)

const maxJSONBody = 1 << 20

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code      domainerrors.Code `json:"code"`
	Message   string            `json:"message"`
	Details   any               `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError renders err from its domain code. Anything without a code is
// logged and reported as an internal error without leaking its text.
func respondError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	body := ErrorBody{
		Code:      domainerrors.CodeInternal,
		Message:   "internal server error",
		RequestID: middleware.GetReqID(r.Context()),
	}

	var de *domainerrors.Error
	if errors.As(err, &de) {
		body.Code = de.Code
		body.Message = de.Message
		body.Details = de.Details
	}

	status := body.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", body.RequestID,
			"error", err,
		)
	}
	respondJSON(w, errorEnvelope{Error: body}, status)
}

// decodeJSON reads a single JSON object into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domainerrors.Validationf("request body is empty")
		}
		return domainerrors.Validationf("invalid request body: %v", err)
	}
	return nil
}

func errRouteNotFound(r *http.Request) error {
	return domainerrors.NotFoundf("no route for %s %s", r.Method, r.URL.Path)
}

// respondMethodNotAllowed has no domain code of its own.
func respondMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, errorEnvelope{Error: ErrorBody{
		Code:      domainerrors.CodeValidation,
		Message:   "method " + r.Method + " not allowed on " + r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
	}}, http.StatusMethodNotAllowed)
}

package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := NotFoundf("document %s not found", "doc-1")
	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrValidation))

	wrapped := fmt.Errorf("load: %w", err)
	assert.True(t, Is(wrapped, ErrNotFound))
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := New("disk full")
	err := Wrap(cause, CodeUnavailable, "storage write failed")

	assert.Equal(t, "storage write failed: disk full", err.Error())
	assert.True(t, Is(err, cause))
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus())
}

func TestError_WithDetailsCopies(t *testing.T) {
	base := Validationf("bad request")
	detailed := base.WithDetails(map[string]string{"voice_id": "required"})

	assert.Nil(t, base.Details)
	require.NotNil(t, detailed.Details)
	assert.Equal(t, CodeValidation, detailed.Code)
}

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeValidation, http.StatusBadRequest},
		{CodeConflict, http.StatusConflict},
		{CodeUnsupported, http.StatusUnsupportedMediaType},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeTooLarge, http.StatusRequestEntityTooLarge},
		{CodeInternal, http.StatusInternalServerError},
		{Code("SOMETHING"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.HTTPStatus(), string(tt.code))
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeConflict, CodeOf(fmt.Errorf("x: %w", Conflictf("busy"))))
	assert.Equal(t, CodeInternal, CodeOf(New("plain")))
}

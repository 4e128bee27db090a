package provider

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/unalkalkan/bookcast/internal/logger"
)

// defaultTimeout bounds one synthesis request. TTS can take far longer than
// ordinary API calls.
const defaultTimeout = 300 * time.Second

// maxResponseBytes caps how much of a response body is read into memory.
const maxResponseBytes = 64 << 20

func newHTTPClient(timeoutSecs int) *http.Client {
	timeout := defaultTimeout
	if timeoutSecs > 0 {
		timeout = time.Duration(timeoutSecs) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func providerLogger(log *slog.Logger, name string) *slog.Logger {
	if log == nil {
		log = logger.Discard()
	}
	return logger.Component(log, "tts").With("provider", name)
}

// do executes req and returns the body of a 200 response. errMessage pulls
// a readable message out of an error body; it may be nil.
func do(client *http.Client, log *slog.Logger, provider string, req *http.Request, errMessage func([]byte) string) ([]byte, error) {
	start := time.Now()
	resp, err := client.Do(req)
	took := time.Since(start)
	if err != nil {
		log.Warn("request failed", "method", req.Method, "path", req.URL.Path, "took", took, "error", err)
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Debug("response", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "bytes", len(body), "took", took)

	if resp.StatusCode != http.StatusOK {
		msg := ""
		if errMessage != nil {
			msg = errMessage(body)
		}
		if msg == "" {
			msg = string(body)
		}
		return nil, statusError(provider, resp, msg)
	}
	return body, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

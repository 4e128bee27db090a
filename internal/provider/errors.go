package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitError is returned when an API answers 429. RetryAfter is the
// server's requested delay, zero when it gave none.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited (retry after %v): %s", e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Message)
}

// IsRateLimitError extracts a RateLimitError from err's chain.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// StatusError is a non-2xx API response other than a rate limit.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s TTS error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
// Client errors are permanent except request timeouts and rate limits.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout &&
		e.StatusCode != http.StatusTooManyRequests
}

// IsPermanent reports whether err is an API error that must not be retried.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// statusError builds the error for a failed response.
func statusError(provider string, resp *http.Response, msg string) error {
	msg = truncateString(strings.TrimSpace(msg), 500)
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Provider:   provider,
			Message:    msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	}
	return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}

package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"sorastudio/internal/domain"
)

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Code       string
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("video: provider error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap maps the status onto the domain sentinels so handlers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return domain.ErrInvalidInput
	default:
		return domain.ErrProviderFailure
	}
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		apiErr.Message = err.Error()
		return apiErr
	}
	trimmed := strings.TrimSpace(string(data))
	var parsed apiErrorBody
	if trimmed != "" && json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Type = parsed.Error.Type
		if parsed.Error.Code != nil {
			apiErr.Code = fmt.Sprint(parsed.Error.Code)
		}
		return apiErr
	}
	if trimmed == "" {
		trimmed = http.StatusText(resp.StatusCode)
	}
	apiErr.Message = trimmed
	return apiErr
}

// ProviderMessage returns the provider-supplied message carried by err, if any.
func ProviderMessage(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message, true
	}
	return "", false
}

// StatusCode returns the provider HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsTransient reports whether err is worth retrying: network failures,
// request timeouts, rate limiting and provider-side 5xx. Any other provider
// answer is authoritative.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

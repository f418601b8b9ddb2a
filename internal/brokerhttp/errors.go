package brokerhttp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// APIError is a broker's wire-level error response, adapted from the
// teacher's BinanceError. Each concrete adapter maps APIError into a
// broker.TradingError via broker.Wrap.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	raw        string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker API error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.HTTPStatus, e.raw)
}

// Retryable reports whether the error class warrants a retry:
// rate-limiting and transient server failures, never client errors.
func (e *APIError) Retryable() bool {
	switch e.HTTPStatus {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// ParseAPIError extracts a broker's error body, falling back to a
// bare HTTP-status error when the body isn't the expected JSON shape.
func ParseAPIError(status int, body []byte) *APIError {
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return &APIError{HTTPStatus: status, Code: parsed.Code, Message: parsed.Message}
	}

	raw := strings.TrimSpace(string(body))
	if raw == "" {
		raw = "empty response"
	}
	return &APIError{HTTPStatus: status, raw: raw}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the backend has no usable configuration.
	ErrNotConfigured = errors.New("backend not configured")

	// ErrAuthFailed indicates the backend rejected the credential.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the backend is throttling requests.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates a server-side failure.
	ErrUnavailable = errors.New("backend unavailable")
)

// =============================================================================
// TYPED ERRORS
// =============================================================================

// ConfigError means the backend is not usable as configured.
type ConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return ErrNotConfigured.Error()
	}
	return fmt.Sprintf("%s: %s", ErrNotConfigured, e.Reason)
}

// Is matches ErrNotConfigured.
func (e *ConfigError) Is(target error) bool {
	return target == ErrNotConfigured
}

// BackendError means the backend answered but rejected the request.
type BackendError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// Is maps well-known statuses onto the sentinel errors.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrUnavailable:
		return e.Status >= 500 && e.Status < 600
	}
	return false
}

// TransportError means the backend could not be reached.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the transport failure was a timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// apiErrorBody covers both the OpenAI-style {"error":{"code","message"}}
// shape and Ollama's {"error":"message"}.
type apiErrorBody struct {
	Error json.RawMessage `json:"error"`
}

type apiErrorDetail struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// StatusError builds a BackendError from a non-2xx HTTP response body.
func StatusError(status int, body []byte) *BackendError {
	be := &BackendError{Status: status}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Error) > 0 {
		var detail apiErrorDetail
		var text string
		switch {
		case json.Unmarshal(parsed.Error, &detail) == nil && detail.Message != "":
			be.Message = detail.Message
			if detail.Code != nil {
				be.Code = fmt.Sprint(detail.Code)
			}
		case json.Unmarshal(parsed.Error, &text) == nil:
			be.Message = text
		}
	}

	if be.Message == "" {
		be.Message = strings.TrimSpace(string(body))
	}
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}
	return be
}

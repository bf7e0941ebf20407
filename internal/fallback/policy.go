// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fallback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jeranaias/glossa/internal/backend"
	"github.com/jeranaias/glossa/internal/model"
)

// =============================================================================
// CATEGORIES
// =============================================================================

// Category is a class of backend failure.
type Category string

const (
	CategoryConfig      Category = "config"
	CategoryAuth        Category = "auth"
	CategoryRateLimited Category = "rate_limited"
	CategoryRejected    Category = "rejected"
	CategoryUnavailable Category = "unavailable"
	CategoryTransport   Category = "transport"
	CategoryTimeout     Category = "timeout"
	CategoryUnknown     Category = "unknown"
)

// Prefix starts every fallback message.
const Prefix = "Error: "

// SettingsAction points the user at the backend settings.
var SettingsAction = model.Action{Label: "Open settings", Target: "settings"}

// Classify maps an error onto a Category.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var cfgErr *backend.ConfigError
	if errors.As(err, &cfgErr) || errors.Is(err, backend.ErrNotConfigured) {
		return CategoryConfig
	}

	var be *backend.BackendError
	if errors.As(err, &be) {
		switch {
		case be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden:
			return CategoryAuth
		case be.Status == http.StatusTooManyRequests:
			return CategoryRateLimited
		case be.Status >= 500:
			return CategoryUnavailable
		default:
			return CategoryRejected
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var te *backend.TransportError
	if errors.As(err, &te) {
		if te.Timeout() {
			return CategoryTimeout
		}
		return CategoryTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryTransport
	}

	return CategoryUnknown
}

// =============================================================================
// POLICY
// =============================================================================

// Policy renders categorized failures as fallback text.
type Policy struct {
	texts map[Category]string
}

// DefaultTexts returns the built-in fallback wording. Texts omit Prefix.
func DefaultTexts() map[Category]string {
	return map[Category]string{
		CategoryConfig:      "The AI backend is not configured. Add an API key in settings to continue.",
		CategoryAuth:        "The AI backend rejected the credentials. Check the API key in settings.",
		CategoryRateLimited: "The AI backend is rate limiting requests. Wait a moment and try again.",
		CategoryRejected:    "The AI backend rejected the request",
		CategoryUnavailable: "The AI backend is temporarily unavailable. Try again shortly.",
		CategoryTransport:   "Could not reach the AI backend. Check your connection and try again.",
		CategoryTimeout:     "The AI backend took too long to respond. Try again.",
		CategoryUnknown:     "Something went wrong while generating a response.",
	}
}

// New creates a Policy. Entries in overrides replace the default wording.
func New(overrides map[Category]string) *Policy {
	texts := DefaultTexts()
	for c, t := range overrides {
		if t != "" {
			texts[c] = t
		}
	}
	return &Policy{texts: texts}
}

// Render returns the fallback text for err and an optional follow-up action.
func (p *Policy) Render(err error) (string, *model.Action) {
	cat := Classify(err)
	text := p.texts[cat]
	if text == "" {
		text = p.texts[CategoryUnknown]
	}

	if cat == CategoryRejected {
		var be *backend.BackendError
		if errors.As(err, &be) {
			text = fmt.Sprintf("%s (status %d).", text, be.Status)
		}
	}

	var action *model.Action
	if cat == CategoryConfig || cat == CategoryAuth {
		a := SettingsAction
		action = &a
	}
	return Prefix + text, action
}

// Apply finalizes m as the fallback for err.
func (p *Policy) Apply(m *model.Message, err error) {
	text, action := p.Render(err)
	m.Fail(text, action)
}

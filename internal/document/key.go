// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package document

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey derives the stable storage key of a document path.
//
// Rules, applied in order:
//   - a leading file:// scheme is removed (case-insensitive)
//   - percent-encoding is decoded; invalid escapes are kept literally
//   - backslashes become forward slashes
//   - runs of separators collapse to one, "." and ".." are resolved
//   - a slash before a drive letter ("/C:/x") is dropped and the drive
//     letter is lower-cased
//   - a trailing separator is removed, except for a root
//   - the result is Unicode NFC normalized
//
// Two paths that differ only in these respects share a key.
func NormalizeKey(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}

	if len(p) >= 7 && strings.EqualFold(p[:7], "file://") {
		p = p[7:]
		// file://localhost/x is the same as file:///x
		if len(p) >= 9 && strings.EqualFold(p[:9], "localhost") {
			p = p[9:]
		}
	}

	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}

	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean(p)

	if len(p) >= 3 && p[0] == '/' && isDriveLetter(p[1]) && p[2] == ':' {
		p = p[1:]
	}
	if len(p) >= 2 && isDriveLetter(p[0]) && p[1] == ':' {
		p = strings.ToLower(p[:1]) + p[1:]
		if len(p) == 2 {
			p += "/"
		}
	}

	if len(p) > 1 && strings.HasSuffix(p, "/") && !(len(p) == 3 && p[1] == ':') {
		p = strings.TrimRight(p, "/")
	}

	return norm.NFC.String(p)
}

// KeyFor resolves a relative filesystem path against the working directory
// and returns its key. URLs and drive paths are normalized as given.
func KeyFor(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	isURL := strings.HasPrefix(lower, "file://")
	isDrive := len(trimmed) >= 2 && isDriveLetter(trimmed[0]) && trimmed[1] == ':'
	if !isURL && !isDrive && !filepath.IsAbs(trimmed) {
		if abs, err := filepath.Abs(trimmed); err == nil {
			trimmed = abs
		}
	}
	return NormalizeKey(trimmed)
}

// DisplayName returns the last element of a key for titles and listings.
func DisplayName(key string) string {
	if key == "" {
		return ""
	}
	return path.Base(key)
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

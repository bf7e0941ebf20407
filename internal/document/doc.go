// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package document binds the sessions of one open document to its
// persisted history.
//
// A Context owns the document's session store and stream router. Activate
// loads prior sessions, Deactivate invalidates in-flight streams and flushes
// pending saves before the in-memory state is discarded.
//
// # Document Keys
//
// NormalizeKey maps the many spellings of a path to one stable key:
//
//	file:///C:/Books/War%20and%20Peace.pdf  -> c:/Books/War and Peace.pdf
//	C:\Books\\War and Peace.pdf             -> c:/Books/War and Peace.pdf
//	/home/ana/books/./novel.pdf/            -> /home/ana/books/novel.pdf
//
// Apart from the drive letter, case is preserved, so keys stay distinct on
// case-sensitive filesystems.
package document

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine is the front-end facing facade over the streaming session
// engine.
//
// An Engine has at most one open document. Opening another document tears
// the previous one down: its streams are superseded and its pending saves
// are flushed. Explanation and chat requests return as soon as the backend
// call has been initiated; fragments arrive later and are observable
// through Subscribe and Snapshot.
//
// # Usage
//
//	eng := engine.New(engine.Deps{Backend: client, Store: st, Hub: hub}, engine.Config{})
//	defer eng.Close(ctx)
//
//	if _, err := eng.OpenDocument(ctx, "/docs/paper.pdf"); err != nil {
//	    return err
//	}
//	eng.RequestExplanation(ctx, passage, "Summarize")
package engine

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the application's zerolog logger.
//
// Logs are written as JSON lines to a rotating file (~/.glossa/glossa.log by
// default). With Console set, a human-readable copy goes to stderr as well.
//
// # Usage
//
//	logger, closer, err := logging.Setup(logging.Options{Level: "debug"})
//	defer closer.Close()
//	logger.Info().Str("document", key).Msg("opened")
package logging

// Package logging provides structured logging utilities for inboxevents.
//
// All logging goes through log/slog. This package builds the process logger
// from the configured level and format and keeps attribute keys consistent
// between the pipeline, the Gmail client and the stores.
//
// # Usage Patterns
//
//	logger := logging.WithMessage(slog.Default(), msg.ID)
//	logger.Warn("extraction failed", logging.Stage("extract"), logging.Err(err))
//
// Sender addresses are PII. Log them as a hash or a domain:
//
//	logger.Info("event stored", logging.SenderHash(from), logging.Domain(from))
//
// Credentials are never logged; use SanitizeSecret when their presence matters.
package logging

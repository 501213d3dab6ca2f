// Package cmd implements the command-line interface for inboxevents.
//
// This package provides the following commands:
//   - ingest: Extract events from labeled mail and upsert them into the events table
//   - init-store: Create the events table and its indexes
//   - schema: Print the JSON Schema sent to the model
//   - version: Display version information
//
// The ingest command is the default command when no subcommand is specified.
package cmd

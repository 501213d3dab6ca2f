// Package extract asks a chat-completion model for the event described in an
// email and returns the raw payload for normalization.
//
// Requests carry a JSON Schema generated from a Go struct, run at temperature
// zero and are retried by the retry package rather than by the SDK. An
// optional Redis cache keyed by model, timezone, message id and text lets
// re-runs over unchanged mail skip the model.
package extract

// Package logtail reads the tail of the c8yview log file for the TUI log view.
//
// Read keeps a ring buffer of the last N lines so large files are scanned in
// one pass with bounded memory. Parse decodes the zap JSON lines written by
// internal/logging into an Entry; lines that are not JSON (for example output
// captured from an earlier plain-text run) are passed through as messages.
package logtail

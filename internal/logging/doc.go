// Package logging builds the slog loggers used across praxis and defines the
// shared attribute vocabulary (component, item_id, requester, ...).
//
// Two output formats are supported: a compact console format for interactive
// use and JSON for log shipping. NewFromConfig mirrors output to praxis.log
// under the configured log directory.
package logging

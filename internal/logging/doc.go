// Package logging builds the slog loggers used by the daemon and CLI and
// provides the attribute helpers and standardized field names shared across
// components.
package logging

// Package config loads and validates the TOML configuration that drives the
// facet daemon and CLI: directories, API bind address, batching policy,
// processing-loop intervals, and log output settings.
package config

// Package daemon runs the long-lived facet process: the processing loop
// that drives AI batches plus the HTTP API the CLI talks to. A file lock
// enforces a single instance per data directory.
package daemon

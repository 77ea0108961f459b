// Package store persists the labeling pipeline in SQLite. All SQL lives
// here; policy decisions (consensus math, assignment distribution,
// finalization rules) live in the domain packages and call into the
// transactional primitives this package exposes.
package store

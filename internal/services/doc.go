// Package services defines the error taxonomy shared by the engine packages
// and the API layer. Every user-visible failure carries one of the sentinel
// markers so callers can classify it without string matching.
package services

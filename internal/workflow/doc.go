// Package workflow defines the product lifecycle state machine. Every
// product status change in the system is validated against the fixed
// adjacency table here before it is applied.
package workflow

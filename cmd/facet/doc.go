// Command facet is the CLI for the facet labeling pipeline. It manages the
// catalog, drives annotation batches, and controls the facetd daemon over
// its HTTP API.
package main

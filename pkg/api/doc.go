// Package api defines the public types of the weft orchestration engine:
// workflow definitions and their graph nodes, transaction and step execution
// records, the Engine interface, schema validation hooks, and the Observer
// callbacks used for logging and metrics.
//
// Most applications import the root weft package, which re-exports these
// types and provides the workflow composer and engine constructors.
package api

// Package engine drives handler chains built from configuration.
//
// Architecture:
//
// registry.go         - Handler type registry (kind@version keys and aliases)
// handlers_builtin.go - Built-in handler types (passthrough, status, not_found, ...)
// builder.go          - Turns chain configuration into handler queues
// chains.go           - Named chain registry with atomic replacement on reload
// executor.go         - Runs a chain over one input and translates the result
// http_handler.go     - net/http adapter (request mapping, sessions, JSON outcome)
//
// The pipeline packages stay transport-free; only this package and cmd touch
// net/http.
package engine

// Package pipeline implements the handler queue and the per-call execution
// context that cooperating handlers share.
//
// A driver seeds a [Context] with an ordered queue of [Handler] values and
// calls [Context.HandleNext]. Each handler may read and write context state
// and then delegate to the rest of the queue by calling HandleNext itself
// (chain of responsibility). Entries are consumed as they run, so one Context
// supports a single traversal; [Context.Copy] forks an independent traversal
// over the handlers that have not run yet.
//
// Failures are ordinary Go errors (see package outcome) that propagate by
// early return. Nothing in this package performs I/O or knows about a
// transport.
//
// A Context is not safe for concurrent use. Session-scoped state may be shared
// across copies running on different goroutines by supplying a [SyncScope].
package pipeline

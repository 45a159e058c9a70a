// Package governance provides the runtime safety primitives behind the
// built-in interceptors: circuit breakers, token-bucket rate limiting,
// retry with exponential backoff and deadline enforcement.
//
// The primitives are keyed by strings chosen by the caller, usually a
// handler name, and know nothing about the pipeline itself. Every type is
// safe for concurrent use.
package governance

import "time"

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

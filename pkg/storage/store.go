// Package storage keeps per-session state shared by the chain runs of one
// client.
package storage

import (
	"context"
	"errors"

	"github.com/polisai/polis-chain/pkg/pipeline"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is the state held for one client.
type Session struct {
	ID    string
	Scope *pipeline.SyncScope
}

// SessionStore creates and looks up sessions.
type SessionStore interface {
	// Open returns the session for id. An empty, unknown or expired id gets
	// a fresh session with a new id; created reports that case.
	Open(ctx context.Context, id string) (s *Session, created bool, err error)
	// Get returns an existing session.
	Get(ctx context.Context, id string) (*Session, error)
	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Shared returns the store-wide scope visible to every session.
	Shared() pipeline.Scope
	// Len returns the number of live sessions.
	Len() int
	Close() error
}

// Package checkpoint defines the durable checkpoint store contract (spec
// §4.3). Concrete backends live in subpackages: inmem for tests and local
// development, mongocp for durable production deployments.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/agentcore/runtime/internal/agentstate"
)

// ErrNotFound indicates no state is stored for the given session id.
var ErrNotFound = errors.New("checkpoint: session not found")

// Store persists AgentState between agent loop transitions (spec §4.3).
//
// Concurrent writers for the same session id are serialized by the
// implementation (last writer wins); no cross-session ordering is
// guaranteed.
type Store interface {
	// CreateSession is idempotent on sessionID: if sessionID is empty a new
	// id is generated; if a session with that id already exists its id is
	// returned unchanged.
	CreateSession(ctx context.Context, userID, sessionID string, createdAt time.Time) (string, error)

	// Get returns the persisted state for sessionID, or ErrNotFound if
	// none exists.
	Get(ctx context.Context, sessionID string) (*agentstate.State, error)

	// Put persists state, called after each agent loop node (spec §4.5
	// "Checkpointing").
	Put(ctx context.Context, sessionID string, state *agentstate.State) error

	// Delete removes both the state and any cached checkpoints for
	// sessionID.
	Delete(ctx context.Context, sessionID string) error
}

// Package snapshot provides storage backends for workspace graph states.
// A snapshot is written whole on every sync; readers always observe either
// the previous state or the new one, never a partial graph.
package snapshot

import (
	"context"
	"errors"

	"dealgraph/api/internal/graph"
)

// ErrNotFound is returned when a workspace has never been synced.
var ErrNotFound = errors.New("graph snapshot not found")

// Store persists graph states keyed by workspace.
type Store interface {
	Save(ctx context.Context, st graph.State) error
	Load(ctx context.Context, workspaceID string) (graph.State, error)
	Ping(ctx context.Context) error
	Close() error
}

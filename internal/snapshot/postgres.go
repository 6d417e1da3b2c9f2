package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealgraph/api/internal/graph"
	"dealgraph/api/internal/store"
)

// PostgresStore is the fallback backend used when no Redis is configured.
// Each workspace owns a single row; the UPSERT replaces it whole.
type PostgresStore struct {
	db *store.PostgresStore
}

func NewPostgresStore(db *store.PostgresStore) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, st graph.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal graph state: %w", err)
	}
	return s.db.SaveGraphSnapshot(ctx, st.WorkspaceID, data, time.Now().UTC())
}

func (s *PostgresStore) Load(ctx context.Context, workspaceID string) (graph.State, error) {
	data, err := s.db.LoadGraphSnapshot(ctx, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.State{}, ErrNotFound
	}
	if err != nil {
		return graph.State{}, fmt.Errorf("load graph snapshot: %w", err)
	}

	var st graph.State
	if err := json.Unmarshal(data, &st); err != nil {
		return graph.State{}, fmt.Errorf("unmarshal graph state: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close is a no-op; the underlying database handle is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

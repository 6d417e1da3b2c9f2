package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by guarded writes.
var (
	ErrClauseLocked    = errors.New("clause is locked")
	ErrVersionConflict = errors.New("variable version conflict")
	ErrDriftNotOpen    = errors.New("drift item is not unresolved")
	ErrDriftExists     = errors.New("unresolved drift already exists for variable")
	ErrItemDecided     = errors.New("reconciliation item already decided")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, email, role FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (id, display_name, email, role)
		VALUES ($1, $2, CONCAT(LOWER(REPLACE($2, ' ', '.')), '@local.dealgraph.dev'), 'editor')
		RETURNING id, display_name, email, role
	`
	if err := s.db.QueryRowContext(ctx, insertUser, newStoreID("usr"), name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, COALESCE(password_hash, ''), role FROM users WHERE id=$1`,
		userID,
	).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, COALESCE(password_hash, ''), role FROM users WHERE LOWER(email)=LOWER($1)`,
		email,
	).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// --- workspaces ---

func (s *PostgresStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, status, created_at, updated_at FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var items []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.Status, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, ws)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, status, created_at, updated_at FROM workspaces WHERE id=$1`, id,
	).Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.Status, &ws.CreatedAt, &ws.UpdatedAt)
	return ws, err
}

func (s *PostgresStore) InsertWorkspace(ctx context.Context, ws Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, slug, status) VALUES ($1, $2, $3, $4)
	`, ws.ID, ws.Name, ws.Slug, ws.Status)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// --- clauses ---

func (s *PostgresStore) ListClauses(ctx context.Context, workspaceID string) ([]Clause, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, title, body, type, position, is_sensitive, is_locked,
			COALESCE(locked_by, ''), COALESCE(last_modified_by, ''), last_modified_at
		FROM clauses WHERE workspace_id=$1 ORDER BY position
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list clauses: %w", err)
	}
	defer rows.Close()

	var items []Clause
	for rows.Next() {
		var c Clause
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Title, &c.Body, &c.Type, &c.Position,
			&c.IsSensitive, &c.IsLocked, &c.LockedBy, &c.LastModifiedBy, &c.LastModifiedAt); err != nil {
			return nil, fmt.Errorf("scan clause: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetClause(ctx context.Context, id string) (Clause, error) {
	var c Clause
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, title, body, type, position, is_sensitive, is_locked,
			COALESCE(locked_by, ''), COALESCE(last_modified_by, ''), last_modified_at
		FROM clauses WHERE id=$1
	`, id).Scan(&c.ID, &c.WorkspaceID, &c.Title, &c.Body, &c.Type, &c.Position,
		&c.IsSensitive, &c.IsLocked, &c.LockedBy, &c.LastModifiedBy, &c.LastModifiedAt)
	return c, err
}

func (s *PostgresStore) InsertClause(ctx context.Context, c Clause) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clauses (id, workspace_id, title, body, type, position, is_sensitive, is_locked, last_modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.WorkspaceID, c.Title, c.Body, c.Type, c.Position, c.IsSensitive, c.IsLocked, c.LastModifiedBy)
	if err != nil {
		return fmt.Errorf("insert clause: %w", err)
	}
	return nil
}

// UpdateClauseBody rejects writes to locked clauses at the storage layer so a
// racing lock cannot be overwritten.
func (s *PostgresStore) UpdateClauseBody(ctx context.Context, id, body, actorName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE clauses SET body=$2, last_modified_by=$3, last_modified_at=NOW()
		WHERE id=$1 AND NOT is_locked
	`, id, body, actorName)
	if err != nil {
		return fmt.Errorf("update clause body: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update clause body rows: %w", err)
	}
	if affected == 0 {
		// Distinguish missing from locked.
		var locked bool
		if err := s.db.QueryRowContext(ctx, `SELECT is_locked FROM clauses WHERE id=$1`, id).Scan(&locked); err != nil {
			return err
		}
		if locked {
			return ErrClauseLocked
		}
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetClauseLock(ctx context.Context, id string, locked bool, actorName string) error {
	lockedBy := sql.NullString{String: actorName, Valid: locked}
	res, err := s.db.ExecContext(ctx, `
		UPDATE clauses SET is_locked=$2, locked_by=$3, last_modified_at=NOW() WHERE id=$1
	`, id, locked, lockedBy)
	if err != nil {
		return fmt.Errorf("set clause lock: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- variables ---

const variableColumns = `
	id, workspace_id, clause_id, label, type, value, COALESCE(unit, ''),
	baseline_value, baseline_approved_at, version, COALESCE(last_modified_by, ''),
	created_at, last_modified_at
`

func scanVariable(row interface{ Scan(...any) error }) (Variable, error) {
	var v Variable
	err := row.Scan(&v.ID, &v.WorkspaceID, &v.ClauseID, &v.Label, &v.Type, &v.Value, &v.Unit,
		&v.BaselineValue, &v.BaselineApprovedAt, &v.Version, &v.LastModifiedBy,
		&v.CreatedAt, &v.LastModifiedAt)
	return v, err
}

func (s *PostgresStore) ListVariables(ctx context.Context, workspaceID string) ([]Variable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+variableColumns+` FROM variables WHERE workspace_id=$1 ORDER BY clause_id, label`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	var items []Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetVariable(ctx context.Context, id string) (Variable, error) {
	return scanVariable(s.db.QueryRowContext(ctx,
		`SELECT `+variableColumns+` FROM variables WHERE id=$1`, id))
}

func (s *PostgresStore) InsertVariable(ctx context.Context, v Variable) error {
	unit := sql.NullString{String: v.Unit, Valid: v.Unit != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variables (id, workspace_id, clause_id, label, type, value, unit, baseline_value, baseline_approved_at, version, last_modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
	`, v.ID, v.WorkspaceID, v.ClauseID, v.Label, v.Type, v.Value, unit, v.BaselineValue, v.BaselineApprovedAt, v.LastModifiedBy)
	if err != nil {
		return fmt.Errorf("insert variable: %w", err)
	}
	return nil
}

// UpdateVariableValue performs a compare-and-swap on the variable version and
// returns the updated row. ErrVersionConflict means a concurrent writer won.
func (s *PostgresStore) UpdateVariableValue(ctx context.Context, id, value, actorName string, expectedVersion int) (Variable, error) {
	v, err := scanVariable(s.db.QueryRowContext(ctx, `
		UPDATE variables
		SET value=$2, last_modified_by=$3, last_modified_at=NOW(), version=version+1
		WHERE id=$1 AND version=$4
		RETURNING `+variableColumns, id, value, actorName, expectedVersion))
	if errors.Is(err, sql.ErrNoRows) {
		if _, lookupErr := s.GetVariable(ctx, id); lookupErr != nil {
			return Variable{}, lookupErr
		}
		return Variable{}, ErrVersionConflict
	}
	if err != nil {
		return Variable{}, fmt.Errorf("update variable value: %w", err)
	}
	return v, nil
}

// SetVariableBaseline fixes the approved baseline. Used at approval time and
// by the explicit baseline override resolution.
func (s *PostgresStore) SetVariableBaseline(ctx context.Context, id, baseline, actorName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE variables
		SET baseline_value=$2, baseline_approved_at=NOW(), last_modified_by=$3, last_modified_at=NOW()
		WHERE id=$1
	`, id, baseline, actorName)
	if err != nil {
		return fmt.Errorf("set variable baseline: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteVariable(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM variables WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete variable: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- outline ---

func (s *PostgresStore) DocumentOutline(ctx context.Context, workspaceID string) ([]OutlineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.type, c.position, c.is_sensitive, c.is_locked,
			(SELECT COUNT(*) FROM variables v WHERE v.clause_id = c.id),
			(SELECT COUNT(*) FROM drift_items d WHERE d.clause_id = c.id AND d.status = 'unresolved')
		FROM clauses c
		WHERE c.workspace_id=$1
		ORDER BY c.position
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("document outline: %w", err)
	}
	defer rows.Close()

	var items []OutlineItem
	for rows.Next() {
		var item OutlineItem
		if err := rows.Scan(&item.ClauseID, &item.Title, &item.Type, &item.Position,
			&item.IsSensitive, &item.IsLocked, &item.VariableCount, &item.DriftCount); err != nil {
			return nil, fmt.Errorf("scan outline item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- audit ---

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	return insertAuditEvent(ctx, s.db, event)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAuditEvent(ctx context.Context, db execer, event AuditEvent) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_events (workspace_id, actor_id, actor_name, action, entity_type, entity_id, before_value, after_value, reason, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, event.WorkspaceID, event.ActorID, event.ActorName, event.Action, event.EntityType,
		event.EntityID, event.BeforeValue, event.AfterValue, event.Reason, event.Category)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, workspaceID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, actor_id, actor_name, action, entity_type, entity_id,
			before_value, after_value, reason, category, created_at
		FROM audit_events WHERE workspace_id=$1 ORDER BY created_at DESC LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var items []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.ActorID, &e.ActorName, &e.Action, &e.EntityType,
			&e.EntityID, &e.BeforeValue, &e.AfterValue, &e.Reason, &e.Category, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// --- publish state ---

func (s *PostgresStore) GetPublishState(ctx context.Context, workspaceID string) (PublishState, error) {
	var state PublishState
	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, publish_count, last_publish_at, last_export_at
		FROM publish_state WHERE workspace_id=$1
	`, workspaceID).Scan(&state.WorkspaceID, &state.PublishCount, &state.LastPublishAt, &state.LastExportAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PublishState{WorkspaceID: workspaceID}, nil
	}
	if err != nil {
		return PublishState{}, fmt.Errorf("get publish state: %w", err)
	}
	return state, nil
}

// RecordPublish bumps the publish sequence and returns the new value.
func (s *PostgresStore) RecordPublish(ctx context.Context, workspaceID string, at time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO publish_state (workspace_id, publish_count, last_publish_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (workspace_id) DO UPDATE
			SET publish_count = publish_state.publish_count + 1, last_publish_at = EXCLUDED.last_publish_at
		RETURNING publish_count
	`, workspaceID, at).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("record publish: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) RecordExport(ctx context.Context, workspaceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publish_state (workspace_id, publish_count, last_export_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (workspace_id) DO UPDATE SET last_export_at = EXCLUDED.last_export_at
	`, workspaceID, at)
	if err != nil {
		return fmt.Errorf("record export: %w", err)
	}
	return nil
}

// --- graph snapshot fallback (used when redis is not configured) ---

func (s *PostgresStore) SaveGraphSnapshot(ctx context.Context, workspaceID string, payload []byte, computedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_snapshots (workspace_id, payload, computed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id) DO UPDATE SET payload = EXCLUDED.payload, computed_at = EXCLUDED.computed_at
	`, workspaceID, payload, computedAt)
	if err != nil {
		return fmt.Errorf("save graph snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadGraphSnapshot(ctx context.Context, workspaceID string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM graph_snapshots WHERE workspace_id=$1`, workspaceID).Scan(&payload)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

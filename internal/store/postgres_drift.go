package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const driftColumns = `
	id, workspace_id, clause_id, variable_id, title, type, severity,
	baseline_value, baseline_approved_at, current_value, current_modified_at,
	COALESCE(current_modified_by, ''), status, COALESCE(approved_by, ''),
	approved_at, COALESCE(approval_reason, ''), created_at, updated_at
`

func scanDriftItem(row interface{ Scan(...any) error }) (DriftItem, error) {
	var d DriftItem
	err := row.Scan(&d.ID, &d.WorkspaceID, &d.ClauseID, &d.VariableID, &d.Title, &d.Type, &d.Severity,
		&d.BaselineValue, &d.BaselineApprovedAt, &d.CurrentValue, &d.CurrentModifiedAt,
		&d.CurrentModifiedBy, &d.Status, &d.ApprovedBy, &d.ApprovedAt, &d.ApprovalReason,
		&d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (s *PostgresStore) GetDriftItem(ctx context.Context, id string) (DriftItem, error) {
	return scanDriftItem(s.db.QueryRowContext(ctx,
		`SELECT `+driftColumns+` FROM drift_items WHERE id=$1`, id))
}

// GetOpenDriftForVariable returns the unresolved drift item for a variable,
// or nil when none exists.
func (s *PostgresStore) GetOpenDriftForVariable(ctx context.Context, variableID string) (*DriftItem, error) {
	d, err := scanDriftItem(s.db.QueryRowContext(ctx,
		`SELECT `+driftColumns+` FROM drift_items WHERE variable_id=$1 AND status='unresolved'`, variableID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open drift: %w", err)
	}
	return &d, nil
}

// LatestResolvedDriftForVariable returns the most recently resolved drift
// item for a variable, or nil when none has ever been resolved. Used to
// tell an already-accepted divergence apart from a fresh one.
func (s *PostgresStore) LatestResolvedDriftForVariable(ctx context.Context, variableID string) (*DriftItem, error) {
	d, err := scanDriftItem(s.db.QueryRowContext(ctx,
		`SELECT `+driftColumns+` FROM drift_items
		 WHERE variable_id=$1 AND status <> 'unresolved'
		 ORDER BY approved_at DESC NULLS LAST, updated_at DESC LIMIT 1`, variableID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest resolved drift: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) ListDrift(ctx context.Context, workspaceID, status, severity string) ([]DriftItem, error) {
	query := `SELECT ` + driftColumns + ` FROM drift_items WHERE workspace_id=$1`
	args := []any{workspaceID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if severity != "" {
		args = append(args, severity)
		query += fmt.Sprintf(" AND severity=$%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drift: %w", err)
	}
	defer rows.Close()

	var items []DriftItem
	for rows.Next() {
		d, err := scanDriftItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drift item: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// OpenDriftVariableIDs returns the set of variable ids with unresolved drift,
// used by the graph builder to set node drift flags.
func (s *PostgresStore) OpenDriftVariableIDs(ctx context.Context, workspaceID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variable_id FROM drift_items WHERE workspace_id=$1 AND status='unresolved'`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("open drift variable ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan drift variable id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CountUnresolvedHigh(ctx context.Context, workspaceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM drift_items WHERE workspace_id=$1 AND status='unresolved' AND severity='HIGH'`,
		workspaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unresolved high drift: %w", err)
	}
	return count, nil
}

// InsertDriftItem creates an unresolved drift item. The partial unique index
// on (variable_id) WHERE status='unresolved' makes this a no-op when another
// writer got there first; that case surfaces as ErrDriftExists.
func (s *PostgresStore) InsertDriftItem(ctx context.Context, d DriftItem) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO drift_items (id, workspace_id, clause_id, variable_id, title, type, severity,
			baseline_value, baseline_approved_at, current_value, current_modified_at, current_modified_by, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'unresolved')
		ON CONFLICT (variable_id) WHERE status = 'unresolved' DO NOTHING
	`, d.ID, d.WorkspaceID, d.ClauseID, d.VariableID, d.Title, d.Type, d.Severity,
		d.BaselineValue, d.BaselineApprovedAt, d.CurrentValue, d.CurrentModifiedAt, d.CurrentModifiedBy)
	if err != nil {
		return fmt.Errorf("insert drift item: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrDriftExists
	}
	return nil
}

// UpdateDriftCurrent refreshes an unresolved item after a further edit to the
// same variable; severity may escalate or de-escalate.
func (s *PostgresStore) UpdateDriftCurrent(ctx context.Context, id, currentValue, severity, actorName string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drift_items
		SET current_value=$2, severity=$3, current_modified_by=$4, current_modified_at=$5, updated_at=NOW()
		WHERE id=$1 AND status='unresolved'
	`, id, currentValue, severity, actorName, at)
	if err != nil {
		return fmt.Errorf("update drift current: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrDriftNotOpen
	}
	return nil
}

// VariableMutation describes the variable write that accompanies a drift
// resolution.
type VariableMutation struct {
	VariableID  string
	NewValue    *string // set for revert (current := baseline)
	NewBaseline *string // set for override (baseline := current)
}

// ResolveDriftParams carries one atomic drift resolution: the status
// transition, the optional variable mutation, and the audit event.
type ResolveDriftParams struct {
	DriftID     string
	WorkspaceID string
	NewStatus   string
	ActorID     string
	ActorName   string
	Reason      string
	Category    string
	Mutation    *VariableMutation
	Before      string
	After       string
}

// ResolveDriftTx transitions an unresolved drift item to a terminal status.
// The status change, variable mutation, and audit event commit or roll back
// as one unit. The UPDATE matches only status='unresolved', so a concurrent
// resolution surfaces as ErrDriftNotOpen.
func (s *PostgresStore) ResolveDriftTx(ctx context.Context, p ResolveDriftParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolve drift tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE drift_items
		SET status=$2, approved_by=$3, approved_at=NOW(), approval_reason=$4, updated_at=NOW()
		WHERE id=$1 AND status='unresolved'
	`, p.DriftID, p.NewStatus, p.ActorName, p.Reason)
	if err != nil {
		return fmt.Errorf("resolve drift status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrDriftNotOpen
	}

	if m := p.Mutation; m != nil {
		if m.NewValue != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE variables
				SET value=$2, last_modified_by=$3, last_modified_at=NOW(), version=version+1
				WHERE id=$1
			`, m.VariableID, *m.NewValue, p.ActorName); err != nil {
				return fmt.Errorf("revert variable value: %w", err)
			}
		}
		if m.NewBaseline != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE variables
				SET baseline_value=$2, baseline_approved_at=NOW(), last_modified_by=$3, last_modified_at=NOW()
				WHERE id=$1
			`, m.VariableID, *m.NewBaseline, p.ActorName); err != nil {
				return fmt.Errorf("override variable baseline: %w", err)
			}
		}
	}

	if err := insertAuditEvent(ctx, tx, AuditEvent{
		WorkspaceID: p.WorkspaceID,
		ActorID:     p.ActorID,
		ActorName:   p.ActorName,
		Action:      "drift." + p.NewStatus,
		EntityType:  "drift_item",
		EntityID:    p.DriftID,
		BeforeValue: p.Before,
		AfterValue:  p.After,
		Reason:      p.Reason,
		Category:    p.Category,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resolve drift tx: %w", err)
	}
	return nil
}

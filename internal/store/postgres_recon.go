package store

import (
	"context"
	"fmt"
)

// CreateReconSessionTx inserts a session and all of its items atomically so a
// half-ingested markup never becomes visible.
func (s *PostgresStore) CreateReconSessionTx(ctx context.Context, session ReconSession, items []ReconItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recon session tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recon_sessions (id, workspace_id, file_name, object_key, uploaded_by,
			total_items, applied_count, rejected_count, pending_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, session.ID, session.WorkspaceID, session.FileName, session.ObjectKey, session.UploadedBy,
		session.TotalItems, session.AppliedCount, session.RejectedCount, session.PendingCount); err != nil {
		return fmt.Errorf("insert recon session: %w", err)
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recon_items (id, session_id, workspace_id, incoming_snippet, target_clause_id,
				target_variable_id, confidence, baseline_value, current_value, proposed_value, decision)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending')
		`, item.ID, item.SessionID, item.WorkspaceID, item.IncomingSnippet, item.TargetClauseID,
			nullIfEmpty(item.TargetVariableID), item.Confidence, item.BaselineValue, item.CurrentValue,
			item.ProposedValue); err != nil {
			return fmt.Errorf("insert recon item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recon session tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReconSessions(ctx context.Context, workspaceID string) ([]ReconSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, file_name, COALESCE(object_key, ''), uploaded_by,
			total_items, applied_count, rejected_count, pending_count, created_at
		FROM recon_sessions WHERE workspace_id=$1 ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list recon sessions: %w", err)
	}
	defer rows.Close()

	var items []ReconSession
	for rows.Next() {
		var sess ReconSession
		if err := rows.Scan(&sess.ID, &sess.WorkspaceID, &sess.FileName, &sess.ObjectKey, &sess.UploadedBy,
			&sess.TotalItems, &sess.AppliedCount, &sess.RejectedCount, &sess.PendingCount, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recon session: %w", err)
		}
		items = append(items, sess)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetReconSession(ctx context.Context, id string) (ReconSession, error) {
	var sess ReconSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, file_name, COALESCE(object_key, ''), uploaded_by,
			total_items, applied_count, rejected_count, pending_count, created_at
		FROM recon_sessions WHERE id=$1
	`, id).Scan(&sess.ID, &sess.WorkspaceID, &sess.FileName, &sess.ObjectKey, &sess.UploadedBy,
		&sess.TotalItems, &sess.AppliedCount, &sess.RejectedCount, &sess.PendingCount, &sess.CreatedAt)
	return sess, err
}

const reconItemColumns = `
	id, session_id, workspace_id, incoming_snippet, target_clause_id,
	COALESCE(target_variable_id, ''), confidence, baseline_value, current_value,
	proposed_value, decision, COALESCE(decision_reason, ''), COALESCE(decided_by, ''),
	decided_at, created_at
`

func scanReconItem(row interface{ Scan(...any) error }) (ReconItem, error) {
	var item ReconItem
	err := row.Scan(&item.ID, &item.SessionID, &item.WorkspaceID, &item.IncomingSnippet, &item.TargetClauseID,
		&item.TargetVariableID, &item.Confidence, &item.BaselineValue, &item.CurrentValue,
		&item.ProposedValue, &item.Decision, &item.DecisionReason, &item.DecidedBy,
		&item.DecidedAt, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListReconItems(ctx context.Context, sessionID string) ([]ReconItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reconItemColumns+` FROM recon_items WHERE session_id=$1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list recon items: %w", err)
	}
	defer rows.Close()

	var items []ReconItem
	for rows.Next() {
		item, err := scanReconItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recon item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetReconItem(ctx context.Context, id string) (ReconItem, error) {
	return scanReconItem(s.db.QueryRowContext(ctx,
		`SELECT `+reconItemColumns+` FROM recon_items WHERE id=$1`, id))
}

// ApplyReconParams carries one atomic apply: the decision flip, the variable
// mutation, the session count bump, and the audit event.
type ApplyReconParams struct {
	ItemID      string
	SessionID   string
	WorkspaceID string
	VariableID  string
	NewValue    string
	ActorID     string
	ActorName   string
	Reason      string
	Category    string
	Before      string
}

// ApplyReconItemTx applies a pending item. If any step fails the item stays
// pending and the counts are untouched. Returns the mutated variable.
func (s *PostgresStore) ApplyReconItemTx(ctx context.Context, p ApplyReconParams) (Variable, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Variable{}, fmt.Errorf("begin apply recon tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE recon_items
		SET decision='applied', decision_reason=$2, decided_by=$3, decided_at=NOW()
		WHERE id=$1 AND decision='pending'
	`, p.ItemID, p.Reason, p.ActorName)
	if err != nil {
		return Variable{}, fmt.Errorf("apply recon item decision: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return Variable{}, ErrItemDecided
	}

	v, err := scanVariable(tx.QueryRowContext(ctx, `
		UPDATE variables
		SET value=$2, last_modified_by=$3, last_modified_at=NOW(), version=version+1
		WHERE id=$1
		RETURNING `+variableColumns, p.VariableID, p.NewValue, p.ActorName))
	if err != nil {
		return Variable{}, fmt.Errorf("apply recon variable mutation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE recon_sessions
		SET applied_count = applied_count + 1, pending_count = pending_count - 1
		WHERE id=$1
	`, p.SessionID); err != nil {
		return Variable{}, fmt.Errorf("apply recon session counts: %w", err)
	}

	if err := insertAuditEvent(ctx, tx, AuditEvent{
		WorkspaceID: p.WorkspaceID,
		ActorID:     p.ActorID,
		ActorName:   p.ActorName,
		Action:      "reconciliation.apply",
		EntityType:  "variable",
		EntityID:    p.VariableID,
		BeforeValue: p.Before,
		AfterValue:  p.NewValue,
		Reason:      p.Reason,
		Category:    p.Category,
	}); err != nil {
		return Variable{}, err
	}

	if err := tx.Commit(); err != nil {
		return Variable{}, fmt.Errorf("commit apply recon tx: %w", err)
	}
	return v, nil
}

// RejectReconItemTx rejects a pending item. Variable state is untouched.
func (s *PostgresStore) RejectReconItemTx(ctx context.Context, itemID, sessionID, workspaceID, actorID, actorName, reason, category string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reject recon tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE recon_items
		SET decision='rejected', decision_reason=$2, decided_by=$3, decided_at=NOW()
		WHERE id=$1 AND decision='pending'
	`, itemID, reason, actorName)
	if err != nil {
		return fmt.Errorf("reject recon item: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrItemDecided
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE recon_sessions
		SET rejected_count = rejected_count + 1, pending_count = pending_count - 1
		WHERE id=$1
	`, sessionID); err != nil {
		return fmt.Errorf("reject recon session counts: %w", err)
	}

	if err := insertAuditEvent(ctx, tx, AuditEvent{
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		ActorName:   actorName,
		Action:      "reconciliation.reject",
		EntityType:  "recon_item",
		EntityID:    itemID,
		Reason:      reason,
		Category:    category,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reject recon tx: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

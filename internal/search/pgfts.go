package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across clauses and drift_items using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultClause {
		where := "c.fts @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			where += fmt.Sprintf(" AND c.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'clause'::text AS type, c.id, c.title,
				ts_headline('english', coalesce(c.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.id AS clause_id, c.workspace_id,
				''::text AS severity, ''::text AS status,
				ts_rank(c.fts, %s) AS rank
			FROM clauses c
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultDrift {
		where := "d.fts @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			where += fmt.Sprintf(" AND d.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'drift'::text AS type, d.id, d.title,
				d.baseline_value || ' -> ' || d.current_value AS snippet,
				d.clause_id, d.workspace_id,
				d.severity, d.status,
				ts_rank(d.fts, %s) AS rank
			FROM drift_items d
			WHERE %s`, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, clause_id, workspace_id, severity, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ClauseID, &r.WorkspaceID, &r.Severity, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ClauseRecord, []DriftRecord, error) {
	clauseRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, body, type, workspace_id
		FROM clauses
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load clauses: %w", err)
	}
	defer clauseRows.Close()

	clauses := make([]ClauseRecord, 0)
	for clauseRows.Next() {
		var c ClauseRecord
		if err := clauseRows.Scan(&c.ID, &c.Title, &c.Body, &c.Type, &c.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan clause: %w", err)
		}
		clauses = append(clauses, c)
	}
	if err := clauseRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate clauses: %w", err)
	}

	driftRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, baseline_value, current_value, severity, status, clause_id, workspace_id
		FROM drift_items
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load drift items: %w", err)
	}
	defer driftRows.Close()

	items := make([]DriftRecord, 0)
	for driftRows.Next() {
		var d DriftRecord
		if err := driftRows.Scan(&d.ID, &d.Title, &d.BaselineValue, &d.CurrentValue, &d.Severity, &d.Status, &d.ClauseID, &d.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan drift item: %w", err)
		}
		items = append(items, d)
	}
	if err := driftRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate drift items: %w", err)
	}

	return clauses, items, nil
}

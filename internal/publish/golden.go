package publish

import (
	"sort"
	"time"

	"dealgraph/api/internal/integrity"
	"dealgraph/api/internal/store"
)

// GoldenRecord is the approved state of a workspace at publication time.
// Only the baseline side of each variable appears; draft values that have
// not been approved never enter the record.
type GoldenRecord struct {
	WorkspaceID    string           `json:"workspaceId"`
	WorkspaceName  string           `json:"workspaceName"`
	Sequence       int              `json:"sequence"`
	PublishedAt    time.Time        `json:"publishedAt"`
	PublishedBy    string           `json:"publishedBy"`
	IntegrityScore int              `json:"integrityScore"`
	Clauses        []GoldenClause   `json:"clauses"`
	Variables      []GoldenVariable `json:"variables"`
}

type GoldenClause struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	Position int    `json:"position"`
	Body     string `json:"body"`
}

type GoldenVariable struct {
	ID            string     `json:"id"`
	ClauseID      string     `json:"clauseId"`
	Label         string     `json:"label"`
	Type          string     `json:"type"`
	Unit          string     `json:"unit,omitempty"`
	BaselineValue string     `json:"baselineValue"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
}

// BuildGoldenRecord assembles the record for one publication. Variables
// without an approved baseline are excluded. Output ordering is stable:
// clauses by position, variables by id.
func BuildGoldenRecord(ws store.Workspace, clauses []store.Clause, variables []store.Variable, report integrity.Report, sequence int, publishedBy string, publishedAt time.Time) GoldenRecord {
	rec := GoldenRecord{
		WorkspaceID:    ws.ID,
		WorkspaceName:  ws.Name,
		Sequence:       sequence,
		PublishedAt:    publishedAt.UTC(),
		PublishedBy:    publishedBy,
		IntegrityScore: report.Score,
		Clauses:        []GoldenClause{},
		Variables:      []GoldenVariable{},
	}

	sorted := append([]store.Clause(nil), clauses...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	for _, c := range sorted {
		rec.Clauses = append(rec.Clauses, GoldenClause{
			ID: c.ID, Title: c.Title, Type: c.Type, Position: c.Position, Body: c.Body,
		})
	}

	vs := append([]store.Variable(nil), variables...)
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
	for _, v := range vs {
		if v.BaselineValue == nil {
			continue
		}
		rec.Variables = append(rec.Variables, GoldenVariable{
			ID:            v.ID,
			ClauseID:      v.ClauseID,
			Label:         v.Label,
			Type:          v.Type,
			Unit:          v.Unit,
			BaselineValue: *v.BaselineValue,
			ApprovedAt:    v.BaselineApprovedAt,
		})
	}
	return rec
}

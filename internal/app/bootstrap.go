package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dealgraph/api/internal/store"
	"dealgraph/api/internal/util"
)

type seedClause struct {
	title     string
	body      string
	ctype     string
	sensitive bool
	variables []seedVariable
}

type seedVariable struct {
	label    string
	vtype    string
	value    string
	unit     string
	baseline bool
}

// Bootstrap seeds a demo workspace on an empty database so a fresh
// install has something to look at. Existing data is never touched.
func (s *Service) Bootstrap(ctx context.Context) error {
	existing, err := s.store.ListWorkspaces(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: list workspaces: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	system, err := s.store.EnsureUserByName(ctx, "System")
	if err != nil {
		return fmt.Errorf("bootstrap: ensure system user: %w", err)
	}

	ws := store.Workspace{
		ID:     util.NewID("ws"),
		Name:   "Project Meridian Term Loan B",
		Slug:   "project-meridian-tlb",
		Status: "active",
	}
	if err := s.store.InsertWorkspace(ctx, ws); err != nil {
		return fmt.Errorf("bootstrap: insert workspace: %w", err)
	}

	clauses := []seedClause{
		{
			title: "Applicable Margin",
			ctype: store.ClauseFinancial,
			body: `The Applicable Margin for Term SOFR Loans shall be 2.75% per annum, ` +
				`stepping down to 2.50% per annum upon delivery of financial statements ` +
				`demonstrating a First Lien Leverage Ratio below the level set out under "Financial Covenants".`,
			variables: []seedVariable{
				{label: "Applicable Margin", vtype: store.VarFinancial, value: "2.75%", unit: "%", baseline: true},
				{label: "Stepdown Margin", vtype: store.VarFinancial, value: "2.50%", unit: "%", baseline: true},
			},
		},
		{
			title:     "Financial Covenants",
			ctype:     store.ClauseCovenant,
			sensitive: true,
			body: `The Borrower shall not permit the First Lien Leverage Ratio as of the last day ` +
				`of any fiscal quarter to exceed 4.50x, tested quarterly on a trailing four-quarter basis.`,
			variables: []seedVariable{
				{label: "First Lien Leverage Ratio", vtype: store.VarRatio, value: "4.50x", unit: "x", baseline: true},
			},
		},
		{
			title: "Incremental Facilities",
			ctype: store.ClauseGeneral,
			body: `The Borrower may incur Incremental Term Loans in an aggregate principal amount ` +
				`not to exceed the greater of $150,000,000 and 100% of Consolidated EBITDA, ` +
				`subject to pro forma compliance with the covenants under "Financial Covenants".`,
			variables: []seedVariable{
				{label: "Incremental Free and Clear Amount", vtype: store.VarFinancial, value: "$150,000,000", unit: "USD", baseline: true},
			},
		},
		{
			title: "Defined Terms",
			ctype: store.ClauseDefinition,
			body: `"Consolidated EBITDA" means, for any period, Consolidated Net Income for such period ` +
				`plus customary addbacks capped at 25% of Consolidated EBITDA for such period.`,
			variables: []seedVariable{
				{label: "Consolidated EBITDA", vtype: store.VarDefinition, value: "Consolidated Net Income plus capped addbacks", unit: "", baseline: true},
				{label: "Addback Cap", vtype: store.VarFinancial, value: "25%", unit: "%", baseline: true},
			},
		},
	}

	for pos, sc := range clauses {
		clause := store.Clause{
			ID:             util.NewID("cl"),
			WorkspaceID:    ws.ID,
			Title:          sc.title,
			Body:           sc.body,
			Type:           sc.ctype,
			Position:       pos + 1,
			IsSensitive:    sc.sensitive,
			LastModifiedBy: system.DisplayName,
		}
		if err := s.store.InsertClause(ctx, clause); err != nil {
			return fmt.Errorf("bootstrap: insert clause %q: %w", sc.title, err)
		}
		for _, sv := range sc.variables {
			v := store.Variable{
				ID:             util.NewID("var"),
				WorkspaceID:    ws.ID,
				ClauseID:       clause.ID,
				Label:          sv.label,
				Type:           sv.vtype,
				Value:          sv.value,
				Unit:           sv.unit,
				LastModifiedBy: system.DisplayName,
			}
			if err := s.store.InsertVariable(ctx, v); err != nil {
				return fmt.Errorf("bootstrap: insert variable %q: %w", sv.label, err)
			}
			if sv.baseline {
				if err := s.store.SetVariableBaseline(ctx, v.ID, sv.value, system.DisplayName); err != nil {
					return fmt.Errorf("bootstrap: baseline %q: %w", sv.label, err)
				}
			}
		}
	}

	if _, err := s.SyncToGraph(ctx, ws.ID); err != nil {
		return fmt.Errorf("bootstrap: initial sync: %w", err)
	}
	zap.L().Info("seeded demo workspace", zap.String("workspace", ws.ID), zap.String("name", ws.Name))
	return nil
}

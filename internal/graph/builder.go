package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"dealgraph/api/internal/store"
)

// crossRefPattern captures the defined-section convention used in clause
// bodies: `see "Financial Covenants"` or `under "Interest Rate Provisions"`.
var crossRefPattern = regexp.MustCompile(`(?i)\b(?:see|under|pursuant to)\s+"([^"]+)"`)

// Builder assembles a graph State from the workspace's clauses and
// variables. The zero value is not usable; call NewBuilder.
type Builder struct {
	matcher Matcher
}

func NewBuilder(m Matcher) *Builder {
	if m == nil {
		m = TermMatcher{}
	}
	return &Builder{matcher: m}
}

// Build produces a fresh State from in. The output is deterministic:
// node and edge slices are sorted, ids are derived from their endpoints,
// and nothing depends on map iteration order.
func (b *Builder) Build(in BuildInput) State {
	st := State{
		WorkspaceID: in.WorkspaceID,
		Revision:    in.Revision,
		BuiltAt:     in.BuiltAt,
		Nodes:       []Node{},
		Edges:       []Edge{},
	}

	clauses := append([]store.Clause(nil), in.Clauses...)
	sort.Slice(clauses, func(i, j int) bool { return clauses[i].Position < clauses[j].Position })

	variables := append([]store.Variable(nil), in.Variables...)
	sort.Slice(variables, func(i, j int) bool { return variables[i].ID < variables[j].ID })

	clauseByID := make(map[string]store.Clause, len(clauses))
	clauseByTitle := make(map[string]store.Clause, len(clauses))
	for _, c := range clauses {
		clauseByID[c.ID] = c
		clauseByTitle[strings.ToLower(strings.TrimSpace(c.Title))] = c
	}

	varNodes := make(map[string]*Node, len(variables))
	edgeCount := make(map[string]int, len(variables))

	for _, v := range variables {
		n := Node{
			ID:       "var:" + v.ID,
			Kind:     NodeVariable,
			RefID:    v.ID,
			Label:    v.Label,
			Category: variableCategory(v),
			Value:    v.Value,
			HasDrift: in.OpenDrift[v.ID],
		}
		if in.LockedClauses[v.ClauseID] && v.BaselineValue == nil {
			// A locked clause freezes review, but a variable with no approved
			// baseline cannot be checked for drift while frozen.
			n.HasWarning = true
			st.Warnings++
		}
		varNodes[v.ID] = &n
	}

	// Edges from clause bodies to the variables they reference. A variable
	// bound to a missing clause is tolerated; it simply gains no edges.
	for _, c := range clauses {
		for _, v := range variables {
			for _, m := range b.matcher.Match(c.Body, v) {
				st.Edges = append(st.Edges, Edge{
					ID:       fmt.Sprintf("e:%s:%s:%s", c.ID, v.ID, m.Kind),
					SourceID: "clause:" + c.ID,
					TargetID: "var:" + v.ID,
					Kind:     m.Kind,
					Weight:   m.Weight,
				})
				edgeCount[v.ID]++
			}
		}
	}

	// Clause cross-references. Clause nodes materialize for every
	// xref-typed clause, bound or not, and for any clause that
	// participates in a cross-reference; a reference to a title no
	// clause carries counts as a warning on the source clause.
	clauseNodes := map[string]*Node{}
	ensureClauseNode := func(c store.Clause) *Node {
		if n, ok := clauseNodes[c.ID]; ok {
			return n
		}
		n := &Node{
			ID:       "clause:" + c.ID,
			Kind:     NodeClause,
			RefID:    c.ID,
			Label:    c.Title,
			Category: c.Type,
		}
		clauseNodes[c.ID] = n
		return n
	}
	for _, c := range clauses {
		if c.Type == store.ClauseXref {
			ensureClauseNode(c)
		}
	}
	for _, c := range clauses {
		for _, m := range crossRefPattern.FindAllStringSubmatch(c.Body, -1) {
			target, ok := clauseByTitle[strings.ToLower(strings.TrimSpace(m[1]))]
			if !ok {
				src := ensureClauseNode(c)
				src.HasWarning = true
				st.Warnings++
				continue
			}
			if target.ID == c.ID {
				continue
			}
			ensureClauseNode(c)
			ensureClauseNode(target)
			st.Edges = append(st.Edges, Edge{
				ID:       fmt.Sprintf("e:%s:%s:xref", c.ID, target.ID),
				SourceID: "clause:" + c.ID,
				TargetID: "clause:" + target.ID,
				Kind:     EdgeDefinition,
				Weight:   WeightDefinition,
			})
		}
	}

	for _, v := range variables {
		n := varNodes[v.ID]
		if edgeCount[v.ID] == 0 {
			st.Orphans++
		}
		st.Nodes = append(st.Nodes, *n)
	}
	clauseIDs := make([]string, 0, len(clauseNodes))
	for id := range clauseNodes {
		clauseIDs = append(clauseIDs, id)
	}
	sort.Strings(clauseIDs)
	for _, id := range clauseIDs {
		st.Nodes = append(st.Nodes, *clauseNodes[id])
	}

	sort.Slice(st.Edges, func(i, j int) bool { return st.Edges[i].ID < st.Edges[j].ID })
	return st
}

// MaxIncidentWeight reports the strongest edge touching the given variable
// node, or 1 when the variable has no edges at all.
func MaxIncidentWeight(st State, variableID string) int {
	max := 0
	target := "var:" + variableID
	for _, e := range st.Edges {
		if e.TargetID == target || e.SourceID == target {
			if e.Weight > max {
				max = e.Weight
			}
		}
	}
	if max == 0 {
		return 1
	}
	return max
}

func variableCategory(v store.Variable) string {
	// Ratio variables behave as covenants for scoring purposes.
	if v.Type == store.VarRatio {
		return store.VarCovenant
	}
	return v.Type
}

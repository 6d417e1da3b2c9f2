// Package graph builds the dependency graph that links variables to the
// clauses that reference them. The graph is rebuilt from scratch on every
// sync so it never accumulates stale edges, and a rebuild over the same
// inputs always yields the same state.
package graph

import "dealgraph/api/internal/store"

// Node kinds.
const (
	NodeVariable = "variable"
	NodeClause   = "clause"
)

// Edge kinds, ordered by binding strength.
const (
	EdgeVerbatim   = "verbatim"
	EdgeDefinition = "definition"
	EdgeKeyword    = "keyword"
)

// Edge weights by kind. A verbatim numeric match binds tighter than a
// defined-term reference, which binds tighter than keyword co-occurrence.
const (
	WeightVerbatim   = 5
	WeightDefinition = 3
	WeightKeyword    = 1
)

// Node is a vertex in the dependency graph. Variable nodes carry the
// variable's current value and flags describing its health; clause nodes
// exist for every xref-typed clause and for any clause that takes part
// in a cross-reference.
type Node struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	RefID      string `json:"refId"`
	Label      string `json:"label"`
	Category   string `json:"category,omitempty"`
	Value      string `json:"value,omitempty"`
	HasDrift   bool   `json:"hasDrift,omitempty"`
	HasWarning bool   `json:"hasWarning,omitempty"`
}

// Edge links a clause to a variable node (or, for cross-references,
// a clause to a clause node).
type Edge struct {
	ID       string `json:"id"`
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
	Kind     string `json:"kind"`
	Weight   int    `json:"weight"`
}

// State is a complete snapshot of the graph for one workspace.
// It is the unit of storage: snapshots are replaced whole, never patched.
type State struct {
	WorkspaceID string `json:"workspaceId"`
	Revision    int    `json:"revision"`
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
	Warnings    int    `json:"warnings"`
	Orphans     int    `json:"orphans"`
	BuiltAt     string `json:"builtAt"`
}

// BuildInput carries everything a rebuild needs. OpenDrift holds the ids
// of variables with an unresolved drift item; LockedClauses holds ids of
// clauses locked for review.
type BuildInput struct {
	WorkspaceID   string
	Revision      int
	Clauses       []store.Clause
	Variables     []store.Variable
	OpenDrift     map[string]bool
	LockedClauses map[string]bool
	BuiltAt       string
}

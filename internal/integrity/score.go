// Package integrity computes the 0-100 health score for a workspace graph.
// Scoring is a pure function of a graph state and the open drift items, so
// the same inputs always produce the same score.
package integrity

import (
	"math"

	"dealgraph/api/internal/config"
	"dealgraph/api/internal/graph"
	"dealgraph/api/internal/store"
)

// Report is the scored breakdown returned alongside the graph.
type Report struct {
	Score          int `json:"score"`
	DriftPenalty   int `json:"driftPenalty"`
	WarningPenalty int `json:"warningPenalty"`
	OrphanPenalty  int `json:"orphanPenalty"`
	OpenDrift      int `json:"openDrift"`
	Warnings       int `json:"warnings"`
	Orphans        int `json:"orphans"`
	Variables      int `json:"variables"`
}

// Score computes the integrity report for st. Each unresolved drift item
// costs the configured penalty scaled by the strongest edge touching its
// variable, each warning costs a flat penalty, and orphaned variables cost
// a share of the orphan penalty proportional to how much of the graph they
// make up. An empty graph is perfectly healthy.
func Score(st graph.State, drift []store.DriftItem, cfg config.IntegrityConfig) Report {
	r := Report{
		Warnings: st.Warnings,
		Orphans:  st.Orphans,
	}
	for _, n := range st.Nodes {
		if n.Kind == graph.NodeVariable {
			r.Variables++
		}
	}
	if r.Variables == 0 {
		r.Score = 100
		return r
	}

	var driftPenalty float64
	for _, d := range drift {
		if d.Status != store.DriftUnresolved {
			continue
		}
		r.OpenDrift++
		driftPenalty += cfg.DriftPenalty * float64(graph.MaxIncidentWeight(st, d.VariableID))
	}
	r.DriftPenalty = int(math.Round(driftPenalty))

	r.WarningPenalty = int(math.Round(cfg.WarningPenalty * float64(st.Warnings)))

	if st.Orphans > 0 {
		share := float64(st.Orphans) / float64(r.Variables)
		r.OrphanPenalty = int(math.Round(cfg.OrphanPenalty * share))
	}

	score := 100 - r.DriftPenalty - r.WarningPenalty - r.OrphanPenalty
	if score < 0 {
		score = 0
	}
	r.Score = score
	return r
}

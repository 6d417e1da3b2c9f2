package integrity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dealgraph/api/internal/config"
	"dealgraph/api/internal/graph"
	"dealgraph/api/internal/store"
)

func graphWith(nodes []graph.Node, edges []graph.Edge, warnings, orphans int) graph.State {
	return graph.State{WorkspaceID: "ws_1", Nodes: nodes, Edges: edges, Warnings: warnings, Orphans: orphans}
}

func varNode(id string) graph.Node {
	return graph.Node{ID: "var:" + id, Kind: graph.NodeVariable, RefID: id}
}

func TestScoreEmptyGraphIsPerfect(t *testing.T) {
	r := Score(graph.State{}, nil, config.DefaultIntegrity())
	require.Equal(t, 100, r.Score)
	require.Zero(t, r.Variables)
}

func TestScoreCleanGraphIsPerfect(t *testing.T) {
	st := graphWith([]graph.Node{varNode("v1"), varNode("v2")}, []graph.Edge{
		{ID: "e1", SourceID: "clause:c1", TargetID: "var:v1", Kind: graph.EdgeVerbatim, Weight: graph.WeightVerbatim},
		{ID: "e2", SourceID: "clause:c1", TargetID: "var:v2", Kind: graph.EdgeKeyword, Weight: graph.WeightKeyword},
	}, 0, 0)

	r := Score(st, nil, config.DefaultIntegrity())
	require.Equal(t, 100, r.Score)
	require.Equal(t, 2, r.Variables)
}

func TestScoreWeighsDriftByStrongestEdge(t *testing.T) {
	st := graphWith([]graph.Node{varNode("v1"), varNode("v2")}, []graph.Edge{
		{ID: "e1", SourceID: "clause:c1", TargetID: "var:v1", Kind: graph.EdgeVerbatim, Weight: graph.WeightVerbatim},
		{ID: "e2", SourceID: "clause:c1", TargetID: "var:v2", Kind: graph.EdgeKeyword, Weight: graph.WeightKeyword},
	}, 0, 0)
	cfg := config.DefaultIntegrity()

	strong := Score(st, []store.DriftItem{{VariableID: "v1", Status: store.DriftUnresolved}}, cfg)
	weak := Score(st, []store.DriftItem{{VariableID: "v2", Status: store.DriftUnresolved}}, cfg)

	require.Equal(t, int(cfg.DriftPenalty)*graph.WeightVerbatim, strong.DriftPenalty)
	require.Equal(t, int(cfg.DriftPenalty)*graph.WeightKeyword, weak.DriftPenalty)
	require.Less(t, strong.Score, weak.Score)
}

func TestScoreIgnoresResolvedDrift(t *testing.T) {
	st := graphWith([]graph.Node{varNode("v1")}, nil, 0, 0)
	r := Score(st, []store.DriftItem{
		{VariableID: "v1", Status: store.DriftApproved},
		{VariableID: "v1", Status: store.DriftReverted},
	}, config.DefaultIntegrity())
	require.Equal(t, 100, r.Score)
	require.Zero(t, r.OpenDrift)
}

func TestScoreOrphanShare(t *testing.T) {
	cfg := config.DefaultIntegrity()

	// One orphan out of four variables costs a quarter of the orphan penalty.
	st := graphWith([]graph.Node{varNode("v1"), varNode("v2"), varNode("v3"), varNode("v4")}, nil, 0, 1)
	r := Score(st, nil, cfg)
	require.Equal(t, 5, r.OrphanPenalty)
	require.Equal(t, 95, r.Score)

	// All orphaned costs the whole penalty.
	st.Orphans = 4
	r = Score(st, nil, cfg)
	require.Equal(t, int(cfg.OrphanPenalty), r.OrphanPenalty)
}

func TestScoreClampsAtZero(t *testing.T) {
	nodes := []graph.Node{varNode("v1")}
	var edges []graph.Edge
	drift := make([]store.DriftItem, 0, 25)
	for i := 0; i < 25; i++ {
		drift = append(drift, store.DriftItem{VariableID: "v1", Status: store.DriftUnresolved})
	}
	r := Score(graphWith(nodes, edges, 10, 0), drift, config.DefaultIntegrity())
	require.Equal(t, 0, r.Score)
}

func TestScoreWarningPenalty(t *testing.T) {
	st := graphWith([]graph.Node{varNode("v1")}, nil, 3, 0)
	cfg := config.DefaultIntegrity()
	r := Score(st, nil, cfg)
	require.Equal(t, 3*int(cfg.WarningPenalty), r.WarningPenalty)
	require.Equal(t, 100-3*int(cfg.WarningPenalty), r.Score)
}

package publish

import (
	"encoding/json"
	"time"

	"dealgraph/api/internal/store"
)

const (
	StatusReady    = "READY"
	StatusInReview = "IN_REVIEW"
)

// Connector describes a downstream servicing channel the golden record
// can be delivered through.
type Connector struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Status string `json:"status"`
}

// CovenantEntry is the covenant-schedule view of one covenant or ratio
// variable, with both sides of any divergence visible.
type CovenantEntry struct {
	VariableID    string `json:"variableId"`
	Label         string `json:"label"`
	BaselineValue string `json:"baselineValue,omitempty"`
	CurrentValue  string `json:"currentValue"`
	HasDrift      bool   `json:"hasDrift"`
}

// GoldenSummary is the on-demand view of a workspace's publishability.
// It is recomputed from live state on every read, never cached.
type GoldenSummary struct {
	Status                   string          `json:"status"`
	IntegrityScore           int             `json:"integrityScore"`
	UnresolvedHighDriftCount int             `json:"unresolvedHighDriftCount"`
	Connectors               []Connector     `json:"connectors"`
	Covenants                []CovenantEntry `json:"covenants"`
	SchemaJSON               string          `json:"schemaJson"`
	LastPublishAt            *time.Time      `json:"lastPublishAt,omitempty"`
	LastExportAt             *time.Time      `json:"lastExportAt,omitempty"`
}

var connectorTargets = []Connector{
	{Name: "servicing-feed", Format: "json"},
	{Name: "covenant-schedule", Format: "csv"},
	{Name: "term-sheet", Format: "xlsx"},
}

// BuildSummary assembles the golden record summary from the current gate
// decision, live variables, and the open-drift set. SchemaJSON carries the
// record that a publish at this moment would freeze.
func BuildSummary(decision Decision, variables []store.Variable, openDrift map[string]bool, record GoldenRecord, state store.PublishState) GoldenSummary {
	status := StatusInReview
	connectorStatus := "blocked"
	if decision.Allowed {
		status = StatusReady
		connectorStatus = "ready"
	}

	connectors := make([]Connector, 0, len(connectorTargets))
	for _, c := range connectorTargets {
		c.Status = connectorStatus
		connectors = append(connectors, c)
	}

	covenants := make([]CovenantEntry, 0)
	for _, v := range variables {
		if v.Type != store.VarCovenant && v.Type != store.VarRatio {
			continue
		}
		entry := CovenantEntry{
			VariableID:   v.ID,
			Label:        v.Label,
			CurrentValue: v.Value,
			HasDrift:     openDrift[v.ID],
		}
		if v.BaselineValue != nil {
			entry.BaselineValue = *v.BaselineValue
		}
		covenants = append(covenants, entry)
	}

	schema, err := json.Marshal(record)
	if err != nil {
		schema = []byte("{}")
	}

	return GoldenSummary{
		Status:                   status,
		IntegrityScore:           decision.Score,
		UnresolvedHighDriftCount: decision.UnresolvedHigh,
		Connectors:               connectors,
		Covenants:                covenants,
		SchemaJSON:               string(schema),
		LastPublishAt:            state.LastPublishAt,
		LastExportAt:             state.LastExportAt,
	}
}

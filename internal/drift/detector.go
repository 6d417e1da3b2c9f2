// Package drift decides when a variable's current value has diverged from
// its approved baseline, and how severe that divergence is. Detection is
// pure: the detector never touches storage, it only reports what the
// caller should do about the open drift item, if any.
package drift

import (
	"dealgraph/api/internal/config"
	"dealgraph/api/internal/store"
)

// Actions the caller should take after evaluation.
const (
	ActionNone   = "none"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionClose  = "close"
)

// Outcome is the result of evaluating one variable against its baseline.
type Outcome struct {
	Action      string
	Severity    string
	Escalated   bool
	Deescalated bool
}

// Detector evaluates divergence under a drift policy.
type Detector struct {
	cfg config.DriftConfig
}

func NewDetector(cfg config.DriftConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Evaluate compares v's current value to its baseline. open is the
// variable's unresolved drift item, or nil when there is none.
//
// A variable with no approved baseline can never drift. Values that are
// equivalent after normalization close any open item; divergent values
// create one or update the open one, re-grading severity as the gap
// moves across the policy threshold.
func (d *Detector) Evaluate(v store.Variable, c store.Clause, open *store.DriftItem) Outcome {
	if v.BaselineValue == nil {
		return Outcome{Action: ActionNone}
	}

	if Equivalent(*v.BaselineValue, v.Value) {
		if open != nil {
			return Outcome{Action: ActionClose}
		}
		return Outcome{Action: ActionNone}
	}

	sev := d.severity(v, c, *v.BaselineValue, v.Value)
	if open == nil {
		return Outcome{Action: ActionCreate, Severity: sev}
	}

	out := Outcome{Action: ActionUpdate, Severity: sev}
	out.Escalated = rank(sev) > rank(open.Severity)
	out.Deescalated = rank(sev) < rank(open.Severity)
	return out
}

// severity grades a divergence. A sensitive clause grades HIGH outright.
// Financial, covenant, and ratio values grade HIGH only when the relative
// change strictly exceeds the policy threshold; a change of exactly the
// threshold, a smaller one, or one with no computable magnitude stays
// MEDIUM. Any textual change to a definition is MEDIUM. Everything else
// grades LOW.
func (d *Detector) severity(v store.Variable, c store.Clause, baseline, current string) string {
	if c.IsSensitive {
		return store.SeverityHigh
	}
	switch v.Type {
	case store.VarFinancial, store.VarCovenant, store.VarRatio:
		if delta, ok := relativeDelta(baseline, current); ok && delta > d.cfg.HighRelativeDelta {
			return store.SeverityHigh
		}
		return store.SeverityMedium
	case store.VarDefinition:
		return store.SeverityMedium
	}
	return store.SeverityLow
}

func rank(severity string) int {
	switch severity {
	case store.SeverityHigh:
		return 3
	case store.SeverityMedium:
		return 2
	case store.SeverityLow:
		return 1
	}
	return 0
}

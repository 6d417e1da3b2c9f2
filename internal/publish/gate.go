// Package publish guards golden-record publication. A workspace may only
// publish when its graph is healthy: the integrity score meets the policy
// minimum and no HIGH severity drift is left unresolved.
package publish

import (
	"fmt"

	"dealgraph/api/internal/config"
)

// Decision is the gate's verdict. Reason is empty when publication is
// allowed; otherwise it names the first rule that blocked it.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	Score          int    `json:"score"`
	MinScore       int    `json:"minScore"`
	UnresolvedHigh int    `json:"unresolvedHigh"`
}

// Evaluate applies the publish rules in order: score first, then open
// HIGH drift. Both failing reports only the score, the reviewer fixes
// drift on the way to a better score anyway.
func Evaluate(score, unresolvedHigh int, cfg config.PublishConfig) Decision {
	d := Decision{
		Score:          score,
		MinScore:       cfg.MinIntegrityScore,
		UnresolvedHigh: unresolvedHigh,
	}
	if score < cfg.MinIntegrityScore {
		d.Reason = fmt.Sprintf("Integrity score below minimum (%d < %d)", score, cfg.MinIntegrityScore)
		return d
	}
	if unresolvedHigh > 0 {
		d.Reason = fmt.Sprintf("%d unresolved HIGH drift items", unresolvedHigh)
		return d
	}
	d.Allowed = true
	return d
}

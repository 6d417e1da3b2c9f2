// Package recon turns an uploaded counsel markup into a reconciliation
// session: a reviewable batch of proposed value changes, each matched to
// a variable in the workspace with a confidence grade.
package recon

import (
	"dealgraph/api/internal/store"
)

// ExtractedItem is one proposed change pulled out of a markup document
// before it is matched against the workspace.
type ExtractedItem struct {
	Snippet       string
	VariableID    string
	ProposedValue string
	Confidence    string
}

// BuildSession assembles a session and its items from extracted proposals.
// Baseline and current values are filled from the live variables so the
// reviewer sees the three-way diff; proposals targeting unknown variables
// keep their snippet but carry no target. Every item starts pending, so
// the session counts satisfy applied + rejected + pending = total.
func BuildSession(workspaceID, fileName, objectKey, uploadedBy string, extracted []ExtractedItem, variables []store.Variable) (store.ReconSession, []store.ReconItem) {
	byID := make(map[string]store.Variable, len(variables))
	for _, v := range variables {
		byID[v.ID] = v
	}

	items := make([]store.ReconItem, 0, len(extracted))
	for _, e := range extracted {
		item := store.ReconItem{
			WorkspaceID:     workspaceID,
			IncomingSnippet: e.Snippet,
			ProposedValue:   e.ProposedValue,
			Confidence:      e.Confidence,
			Decision:        store.DecisionPending,
		}
		if v, ok := byID[e.VariableID]; ok {
			item.TargetVariableID = v.ID
			item.TargetClauseID = v.ClauseID
			item.CurrentValue = v.Value
			if v.BaselineValue != nil {
				item.BaselineValue = *v.BaselineValue
			}
		} else {
			// Unmatched proposals stay in the session for manual review
			// but can only be rejected.
			item.Confidence = store.ConfidenceLow
		}
		items = append(items, item)
	}

	session := store.ReconSession{
		WorkspaceID:  workspaceID,
		FileName:     fileName,
		ObjectKey:    objectKey,
		UploadedBy:   uploadedBy,
		TotalItems:   len(items),
		PendingCount: len(items),
	}
	return session, items
}

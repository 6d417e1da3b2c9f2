package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"dealgraph/api/internal/metrics"
	"dealgraph/api/internal/recon"
	"dealgraph/api/internal/store"
	"dealgraph/api/internal/util"
)

type ReconSessionView struct {
	Session store.ReconSession `json:"session"`
	Items   []store.ReconItem  `json:"items"`
}

type ReconDecisionInput struct {
	Reason   string `json:"reason"`
	Category string `json:"category"`
}

type ApplyAllResult struct {
	Applied int      `json:"applied"`
	Skipped int      `json:"skipped"`
	ItemIDs []string `json:"itemIds"`
}

// UploadMarkup ingests a counterparty markup: the raw file goes to object
// storage when one is configured, the text is scanned for value proposals,
// and a reconciliation session is opened with one pending item per match.
func (s *Service) UploadMarkup(ctx context.Context, session Session, workspaceID, fileName string, content []byte) (ReconSessionView, error) {
	if len(content) == 0 {
		return ReconSessionView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "file is empty", nil)
	}
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return ReconSessionView{}, err
	}

	variables, err := s.store.ListVariables(ctx, workspaceID)
	if err != nil {
		return ReconSessionView{}, err
	}

	sessionID := util.NewID("rs")
	objectKey := ""
	if s.docs != nil {
		key, err := s.docs.Put(ctx, workspaceID, sessionID, fileName, "text/plain", content)
		if err != nil {
			// Extraction still works from the in-memory bytes.
			zap.L().Error("markup upload to object store failed", zap.String("session", sessionID), zap.Error(err))
		} else {
			objectKey = key
		}
	}

	extracted := recon.Extract(string(content), variables)
	rs, items := recon.BuildSession(workspaceID, fileName, objectKey, session.UserName, extracted, variables)
	rs.ID = sessionID
	for i := range items {
		items[i].ID = util.NewID("ri")
		items[i].SessionID = sessionID
	}

	if err := s.store.CreateReconSessionTx(ctx, rs, items); err != nil {
		return ReconSessionView{}, err
	}

	s.audit(ctx, store.AuditEvent{
		WorkspaceID: workspaceID,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      "recon.upload",
		EntityType:  "recon_session",
		EntityID:    sessionID,
		AfterValue:  fileName,
	})
	zap.L().Info("reconciliation session opened",
		zap.String("workspace", workspaceID),
		zap.String("session", sessionID),
		zap.Int("items", len(items)))

	return ReconSessionView{Session: rs, Items: items}, nil
}

func (s *Service) ListReconSessions(ctx context.Context, workspaceID string) ([]store.ReconSession, error) {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListReconSessions(ctx, workspaceID)
}

func (s *Service) GetReconSession(ctx context.Context, sessionID string) (ReconSessionView, error) {
	rs, err := s.store.GetReconSession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReconSessionView{}, domainError(http.StatusNotFound, "NOT_FOUND", "reconciliation session not found", nil)
	}
	if err != nil {
		return ReconSessionView{}, err
	}
	items, err := s.store.ListReconItems(ctx, sessionID)
	if err != nil {
		return ReconSessionView{}, err
	}
	return ReconSessionView{Session: rs, Items: items}, nil
}

// MarkupDownloadURL returns a presigned link to the original uploaded file.
func (s *Service) MarkupDownloadURL(ctx context.Context, sessionID string) (string, error) {
	rs, err := s.store.GetReconSession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "reconciliation session not found", nil)
	}
	if err != nil {
		return "", err
	}
	if s.docs == nil || rs.ObjectKey == "" {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "original file is not stored", nil)
	}
	return s.docs.Presign(ctx, rs.ObjectKey, 15*time.Minute)
}

// ApplyReconItem accepts the proposal: the target variable takes the
// proposed value and drift is re-evaluated immediately.
func (s *Service) ApplyReconItem(ctx context.Context, session Session, itemID string, in ReconDecisionInput) (store.ReconItem, error) {
	item, err := s.store.GetReconItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ReconItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "reconciliation item not found", nil)
	}
	if err != nil {
		return store.ReconItem{}, err
	}
	if item.TargetVariableID == "" {
		return store.ReconItem{}, domainError(http.StatusConflict, "CONFLICT", "item has no target variable", nil)
	}

	lock := s.variableLock(item.TargetVariableID)
	lock.Lock()
	defer lock.Unlock()

	variable, err := s.store.ApplyReconItemTx(ctx, store.ApplyReconParams{
		ItemID:      itemID,
		SessionID:   item.SessionID,
		WorkspaceID: item.WorkspaceID,
		VariableID:  item.TargetVariableID,
		NewValue:    item.ProposedValue,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Reason:      in.Reason,
		Category:    in.Category,
		Before:      item.CurrentValue,
	})
	if errors.Is(err, store.ErrItemDecided) {
		return store.ReconItem{}, domainError(http.StatusConflict, "CONFLICT", "item is already decided", nil)
	}
	if err != nil {
		return store.ReconItem{}, err
	}
	metrics.ReconItemsDecided.WithLabelValues(store.DecisionApplied).Inc()

	if err := s.evaluateDrift(ctx, session, variable); err != nil {
		zap.L().Error("drift evaluation failed", zap.String("variable", variable.ID), zap.Error(err))
	}
	return s.store.GetReconItem(ctx, itemID)
}

func (s *Service) RejectReconItem(ctx context.Context, session Session, itemID string, in ReconDecisionInput) (store.ReconItem, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return store.ReconItem{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "rejection requires a reason", nil)
	}
	item, err := s.store.GetReconItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ReconItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "reconciliation item not found", nil)
	}
	if err != nil {
		return store.ReconItem{}, err
	}

	err = s.store.RejectReconItemTx(ctx, itemID, item.SessionID, item.WorkspaceID, session.UserID, session.UserName, in.Reason, in.Category)
	if errors.Is(err, store.ErrItemDecided) {
		return store.ReconItem{}, domainError(http.StatusConflict, "CONFLICT", "item is already decided", nil)
	}
	if err != nil {
		return store.ReconItem{}, err
	}
	metrics.ReconItemsDecided.WithLabelValues(store.DecisionRejected).Inc()
	return s.store.GetReconItem(ctx, itemID)
}

// ApplyAllHighConfidence bulk-applies every pending HIGH confidence item
// in a session. Items that lost their race or target are skipped, not
// failed.
func (s *Service) ApplyAllHighConfidence(ctx context.Context, session Session, sessionID string) (ApplyAllResult, error) {
	view, err := s.GetReconSession(ctx, sessionID)
	if err != nil {
		return ApplyAllResult{}, err
	}

	result := ApplyAllResult{ItemIDs: []string{}}
	for _, item := range view.Items {
		if item.Decision != store.DecisionPending || item.Confidence != store.ConfidenceHigh || item.TargetVariableID == "" {
			continue
		}
		_, err := s.ApplyReconItem(ctx, session, item.ID, ReconDecisionInput{Reason: "bulk apply of high confidence matches"})
		if err != nil {
			var de *DomainError
			if errors.As(err, &de) && de.Status == http.StatusConflict {
				result.Skipped++
				continue
			}
			return result, err
		}
		result.Applied++
		result.ItemIDs = append(result.ItemIDs, item.ID)
	}
	return result, nil
}

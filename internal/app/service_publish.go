package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"dealgraph/api/internal/export"
	"dealgraph/api/internal/ledger"
	"dealgraph/api/internal/metrics"
	"dealgraph/api/internal/publish"
	"dealgraph/api/internal/store"
)

// PublishStatus is the gate check result plus publication history metadata.
type PublishStatus struct {
	Decision     publish.Decision `json:"decision"`
	PublishCount int              `json:"publishCount"`
	LastPublish  *time.Time       `json:"lastPublishAt,omitempty"`
}

type PublishResult struct {
	Record publish.GoldenRecord `json:"record"`
	Entry  ledger.Entry         `json:"entry"`
}

// CanPublish runs the gate without publishing: a fresh sync, scoring, and
// the unresolved-HIGH count.
func (s *Service) CanPublish(ctx context.Context, workspaceID string) (PublishStatus, error) {
	view, err := s.SyncToGraph(ctx, workspaceID)
	if err != nil {
		return PublishStatus{}, err
	}
	unresolvedHigh, err := s.store.CountUnresolvedHigh(ctx, workspaceID)
	if err != nil {
		return PublishStatus{}, err
	}
	decision := publish.Evaluate(view.Report.Score, unresolvedHigh, s.cfg.Publish)

	state, err := s.store.GetPublishState(ctx, workspaceID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return PublishStatus{}, err
	}
	return PublishStatus{
		Decision:     decision,
		PublishCount: state.PublishCount,
		LastPublish:  state.LastPublishAt,
	}, nil
}

// GetGoldenRecord recomputes the publishability summary from live state:
// gate decision, covenant schedule, and the record a publish right now
// would freeze. Never cached.
func (s *Service) GetGoldenRecord(ctx context.Context, workspaceID string) (publish.GoldenSummary, error) {
	view, err := s.SyncToGraph(ctx, workspaceID)
	if err != nil {
		return publish.GoldenSummary{}, err
	}
	unresolvedHigh, err := s.store.CountUnresolvedHigh(ctx, workspaceID)
	if err != nil {
		return publish.GoldenSummary{}, err
	}
	decision := publish.Evaluate(view.Report.Score, unresolvedHigh, s.cfg.Publish)

	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return publish.GoldenSummary{}, err
	}
	clauses, err := s.store.ListClauses(ctx, workspaceID)
	if err != nil {
		return publish.GoldenSummary{}, err
	}
	variables, err := s.store.ListVariables(ctx, workspaceID)
	if err != nil {
		return publish.GoldenSummary{}, err
	}
	openDrift, err := s.store.OpenDriftVariableIDs(ctx, workspaceID)
	if err != nil {
		return publish.GoldenSummary{}, err
	}
	state, err := s.store.GetPublishState(ctx, workspaceID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return publish.GoldenSummary{}, err
	}

	record := publish.BuildGoldenRecord(ws, clauses, variables, view.Report, state.PublishCount+1, "", time.Now().UTC())
	return publish.BuildSummary(decision, variables, openDrift, record, state), nil
}

// Publish runs the gate and, if it passes, freezes the approved baselines
// into a golden record, commits it to the workspace ledger, and tags it
// with the publish sequence number.
func (s *Service) Publish(ctx context.Context, session Session, workspaceID, reason, category string) (PublishResult, error) {
	view, err := s.SyncToGraph(ctx, workspaceID)
	if err != nil {
		return PublishResult{}, err
	}
	unresolvedHigh, err := s.store.CountUnresolvedHigh(ctx, workspaceID)
	if err != nil {
		return PublishResult{}, err
	}
	decision := publish.Evaluate(view.Report.Score, unresolvedHigh, s.cfg.Publish)
	if !decision.Allowed {
		metrics.PublishGateDecisions.WithLabelValues("blocked").Inc()
		return PublishResult{}, domainError(http.StatusConflict, "PUBLISH_BLOCKED", decision.Reason, map[string]int{
			"score":          decision.Score,
			"minScore":       decision.MinScore,
			"unresolvedHigh": decision.UnresolvedHigh,
		})
	}
	metrics.PublishGateDecisions.WithLabelValues("allowed").Inc()

	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return PublishResult{}, err
	}
	clauses, err := s.store.ListClauses(ctx, workspaceID)
	if err != nil {
		return PublishResult{}, err
	}
	variables, err := s.store.ListVariables(ctx, workspaceID)
	if err != nil {
		return PublishResult{}, err
	}

	publishedAt := time.Now().UTC()
	sequence, err := s.store.RecordPublish(ctx, workspaceID, publishedAt)
	if err != nil {
		return PublishResult{}, err
	}

	record := publish.BuildGoldenRecord(ws, clauses, variables, view.Report, sequence, session.UserName, publishedAt)
	entry, err := s.ledger.RecordPublish(workspaceID, record, session.UserName, sequence)
	if err != nil {
		return PublishResult{}, err
	}

	s.audit(ctx, store.AuditEvent{
		WorkspaceID: workspaceID,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      "workspace.publish",
		EntityType:  "workspace",
		EntityID:    workspaceID,
		AfterValue:  fmt.Sprintf("publish-%d score=%d", sequence, view.Report.Score),
		Reason:      reason,
		Category:    category,
	})
	zap.L().Info("golden record published",
		zap.String("workspace", workspaceID),
		zap.Int("sequence", sequence),
		zap.String("hash", entry.Hash),
		zap.Int("score", view.Report.Score))

	return PublishResult{Record: record, Entry: entry}, nil
}

// PublishedRecord fetches a past publication from the ledger. Empty tag
// means the latest publication.
func (s *Service) PublishedRecord(ctx context.Context, workspaceID, tag string) (publish.GoldenRecord, error) {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return publish.GoldenRecord{}, err
	}
	if tag == "" {
		history, err := s.ledger.History(workspaceID, 1)
		if err != nil {
			return publish.GoldenRecord{}, err
		}
		if len(history) == 0 {
			return publish.GoldenRecord{}, domainError(http.StatusNotFound, "NOT_FOUND", "workspace has never been published", nil)
		}
		tag = history[0].Tag
	}
	data, err := s.ledger.RecordByTag(workspaceID, tag)
	if err != nil {
		return publish.GoldenRecord{}, domainError(http.StatusNotFound, "NOT_FOUND", "no golden record at that tag", map[string]string{"tag": tag})
	}
	var record publish.GoldenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return publish.GoldenRecord{}, fmt.Errorf("decode golden record: %w", err)
	}
	return record, nil
}

func (s *Service) PublishHistory(ctx context.Context, workspaceID string, limit int) ([]ledger.Entry, error) {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.ledger.History(workspaceID, limit)
}

// Export renders the latest published golden record in the requested format.
func (s *Service) Export(ctx context.Context, session Session, workspaceID, format string) (export.Result, error) {
	record, err := s.PublishedRecord(ctx, workspaceID, "")
	if err != nil {
		return export.Result{}, err
	}
	result, err := export.Render(record, format)
	if err != nil {
		return export.Result{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), map[string][]string{"formats": export.ExportedFormats()})
	}
	if err := s.store.RecordExport(ctx, workspaceID, time.Now().UTC()); err != nil {
		zap.L().Error("export bookkeeping failed", zap.String("workspace", workspaceID), zap.Error(err))
	}
	metrics.ExportsRendered.WithLabelValues(format).Inc()
	s.audit(ctx, store.AuditEvent{
		WorkspaceID: workspaceID,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      "export.render",
		EntityType:  "workspace",
		EntityID:    workspaceID,
		AfterValue:  format,
	})
	return result, nil
}

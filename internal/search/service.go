package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		zap.L().Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		zap.L().Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexClause indexes a clause (fire-and-forget to Meilisearch).
func (s *Service) IndexClause(c ClauseRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexClause(c); err != nil {
			zap.L().Warn("index clause", zap.String("id", c.ID), zap.Error(err))
		}
	}()
}

// IndexDrift indexes a drift item (fire-and-forget to Meilisearch).
func (s *Service) IndexDrift(d DriftRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDrift(d); err != nil {
			zap.L().Warn("index drift item", zap.String("id", d.ID), zap.Error(err))
		}
	}()
}

// DeleteDrift removes a drift item from the search index (fire-and-forget).
func (s *Service) DeleteDrift(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDrift(id); err != nil {
			zap.L().Warn("delete drift item from index", zap.String("id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG reads all searchable entities from PostgreSQL and pushes
// them to Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	clauses, drift, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		zap.L().Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexClauses(clauses); err != nil {
		zap.L().Warn("reindex clauses", zap.Error(err))
	}
	if err := s.meili.IndexDriftItems(drift); err != nil {
		zap.L().Warn("reindex drift items", zap.Error(err))
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

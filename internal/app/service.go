package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dealgraph/api/internal/auth"
	"dealgraph/api/internal/authpw"
	"dealgraph/api/internal/config"
	"dealgraph/api/internal/drift"
	"dealgraph/api/internal/graph"
	"dealgraph/api/internal/integrity"
	"dealgraph/api/internal/ledger"
	"dealgraph/api/internal/metrics"
	"dealgraph/api/internal/search"
	"dealgraph/api/internal/snapshot"
	"dealgraph/api/internal/store"
	"dealgraph/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

// GraphView is the sync result: the rebuilt graph plus its health report.
type GraphView struct {
	State  graph.State      `json:"state"`
	Report integrity.Report `json:"report"`
}

// ClauseView bundles a clause with the variables bound to it.
type ClauseView struct {
	Clause    store.Clause     `json:"clause"`
	Variables []store.Variable `json:"variables"`
}

type BindVariableInput struct {
	ClauseID string `json:"clauseId"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Value    string `json:"value"`
	Unit     string `json:"unit"`
}

type UpdateVariableInput struct {
	Value           string `json:"value"`
	ExpectedVersion int    `json:"expectedVersion"`
}

type ResolveDriftInput struct {
	Resolution string `json:"resolution"`
	Reason     string `json:"reason"`
	Category   string `json:"category"`
}

var allowedVariableTypes = map[string]struct{}{
	store.VarFinancial:  {},
	store.VarDefinition: {},
	store.VarCovenant:   {},
	store.VarRatio:      {},
}

var allowedResolutions = map[string]struct{}{
	store.DriftOverridden: {},
	store.DriftReverted:   {},
	store.DriftApproved:   {},
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error

	ListWorkspaces(context.Context) ([]store.Workspace, error)
	GetWorkspace(context.Context, string) (store.Workspace, error)
	InsertWorkspace(context.Context, store.Workspace) error

	ListClauses(context.Context, string) ([]store.Clause, error)
	GetClause(context.Context, string) (store.Clause, error)
	InsertClause(context.Context, store.Clause) error
	UpdateClauseBody(ctx context.Context, id, body, actorName string) error
	SetClauseLock(ctx context.Context, id string, locked bool, actorName string) error
	DocumentOutline(context.Context, string) ([]store.OutlineItem, error)

	ListVariables(context.Context, string) ([]store.Variable, error)
	GetVariable(context.Context, string) (store.Variable, error)
	InsertVariable(context.Context, store.Variable) error
	UpdateVariableValue(ctx context.Context, id, value, actorName string, expectedVersion int) (store.Variable, error)
	SetVariableBaseline(ctx context.Context, id, baseline, actorName string) error
	DeleteVariable(context.Context, string) error

	GetDriftItem(context.Context, string) (store.DriftItem, error)
	GetOpenDriftForVariable(context.Context, string) (*store.DriftItem, error)
	LatestResolvedDriftForVariable(context.Context, string) (*store.DriftItem, error)
	ListDrift(ctx context.Context, workspaceID, status, severity string) ([]store.DriftItem, error)
	OpenDriftVariableIDs(context.Context, string) (map[string]bool, error)
	CountUnresolvedHigh(context.Context, string) (int, error)
	InsertDriftItem(context.Context, store.DriftItem) error
	UpdateDriftCurrent(ctx context.Context, id, currentValue, severity, actorName string, at time.Time) error
	ResolveDriftTx(context.Context, store.ResolveDriftParams) error

	CreateReconSessionTx(context.Context, store.ReconSession, []store.ReconItem) error
	ListReconSessions(context.Context, string) ([]store.ReconSession, error)
	GetReconSession(context.Context, string) (store.ReconSession, error)
	ListReconItems(context.Context, string) ([]store.ReconItem, error)
	GetReconItem(context.Context, string) (store.ReconItem, error)
	ApplyReconItemTx(context.Context, store.ApplyReconParams) (store.Variable, error)
	RejectReconItemTx(ctx context.Context, itemID, sessionID, workspaceID, actorID, actorName, reason, category string) error

	InsertAuditEvent(context.Context, store.AuditEvent) error
	ListAuditEvents(ctx context.Context, workspaceID string, limit int) ([]store.AuditEvent, error)

	GetPublishState(context.Context, string) (store.PublishState, error)
	RecordPublish(ctx context.Context, workspaceID string, at time.Time) (int, error)
	RecordExport(ctx context.Context, workspaceID string, at time.Time) error

	Ping(ctx context.Context) error
}

type publishLedger interface {
	RecordPublish(workspaceID string, record any, actor string, sequence int) (ledger.Entry, error)
	RecordByTag(workspaceID, tag string) ([]byte, error)
	History(workspaceID string, limit int) ([]ledger.Entry, error)
}

// MarkupStore retains original uploaded markup files. Optional; without
// one, sessions keep only their extracted items.
type MarkupStore interface {
	Put(ctx context.Context, workspaceID, sessionID, fileName, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Presign(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	snapshots snapshot.Store
	search    *search.Service
	docs      MarkupStore
	ledger    publishLedger
	passwords *authpw.Service
	builder   *graph.Builder
	detector  *drift.Detector

	// Per-variable locks serialize the evaluate-then-write drift sequence.
	// The partial unique index backstops this across processes.
	varMu    sync.Mutex
	varLocks map[string]*sync.Mutex
}

type Deps struct {
	Store     *store.PostgresStore
	Snapshots snapshot.Store
	Search    *search.Service
	Docs      MarkupStore
	Ledger    *ledger.Service
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		snapshots: deps.Snapshots,
		search:    deps.Search,
		docs:      deps.Docs,
		ledger:    deps.Ledger,
		passwords: authpw.NewService(deps.Store),
		builder:   graph.NewBuilder(nil),
		detector:  drift.NewDetector(cfg.Drift),
		varLocks:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) variableLock(variableID string) *sync.Mutex {
	s.varMu.Lock()
	defer s.varMu.Unlock()
	lock, ok := s.varLocks[variableID]
	if !ok {
		lock = &sync.Mutex{}
		s.varLocks[variableID] = lock
	}
	return lock
}

// --- auth ---

func (s *Service) Signup(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}
	return s.issueSession(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "FORBIDDEN", err.Error(), nil)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.Auth.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.Auth.TokenSecret), auth.Claims{
		UserID:  user.ID,
		Name:    user.DisplayName,
		Role:    user.Role,
		TokenID: jti,
		Exp:     expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.Auth.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.TokenID,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// --- workspaces and outline ---

func (s *Service) ListWorkspaces(ctx context.Context) ([]store.Workspace, error) {
	return s.store.ListWorkspaces(ctx)
}

func (s *Service) GetWorkspace(ctx context.Context, id string) (store.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Workspace{}, domainError(http.StatusNotFound, "NOT_FOUND", "workspace not found", nil)
	}
	return ws, err
}

func (s *Service) DocumentOutline(ctx context.Context, workspaceID string) ([]store.OutlineItem, error) {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	return s.store.DocumentOutline(ctx, workspaceID)
}

// --- clauses ---

func (s *Service) GetClause(ctx context.Context, clauseID string) (ClauseView, error) {
	clause, err := s.store.GetClause(ctx, clauseID)
	if errors.Is(err, sql.ErrNoRows) {
		return ClauseView{}, domainError(http.StatusNotFound, "NOT_FOUND", "clause not found", nil)
	}
	if err != nil {
		return ClauseView{}, err
	}

	all, err := s.store.ListVariables(ctx, clause.WorkspaceID)
	if err != nil {
		return ClauseView{}, err
	}
	bound := make([]store.Variable, 0)
	for _, v := range all {
		if v.ClauseID == clause.ID {
			bound = append(bound, v)
		}
	}
	return ClauseView{Clause: clause, Variables: bound}, nil
}

func (s *Service) UpdateClauseText(ctx context.Context, session Session, clauseID, body string) (store.Clause, error) {
	if strings.TrimSpace(body) == "" {
		return store.Clause{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "clause body is required", nil)
	}

	before, err := s.store.GetClause(ctx, clauseID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Clause{}, domainError(http.StatusNotFound, "NOT_FOUND", "clause not found", nil)
	}
	if err != nil {
		return store.Clause{}, err
	}

	err = s.store.UpdateClauseBody(ctx, clauseID, body, session.UserName)
	if errors.Is(err, store.ErrClauseLocked) {
		return store.Clause{}, domainError(http.StatusConflict, "CONFLICT", "clause is locked for review", nil)
	}
	if err != nil {
		return store.Clause{}, err
	}

	after, err := s.store.GetClause(ctx, clauseID)
	if err != nil {
		return store.Clause{}, err
	}

	s.audit(ctx, store.AuditEvent{
		WorkspaceID: after.WorkspaceID,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      "clause.update",
		EntityType:  "clause",
		EntityID:    after.ID,
		BeforeValue: before.Body,
		AfterValue:  after.Body,
	})
	if s.search != nil {
		s.search.IndexClause(search.ClauseRecord{
			ID: after.ID, Title: after.Title, Body: after.Body, Type: after.Type, WorkspaceID: after.WorkspaceID,
		})
	}
	return after, nil
}

func (s *Service) SetClauseLock(ctx context.Context, session Session, clauseID string, locked bool) error {
	clause, err := s.store.GetClause(ctx, clauseID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "clause not found", nil)
	}
	if err != nil {
		return err
	}
	if err := s.store.SetClauseLock(ctx, clauseID, locked, session.UserName); err != nil {
		return err
	}
	action := "clause.unlock"
	if locked {
		action = "clause.lock"
	}
	s.audit(ctx, store.AuditEvent{
		WorkspaceID: clause.WorkspaceID,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      action,
		EntityType:  "clause",
		EntityID:    clauseID,
	})
	return nil
}

// --- variables ---

func (s *Service) BindVariable(ctx context.Context, session Session, in BindVariableInput) (store.Variable, error) {
	if strings.TrimSpace(in.Label) == "" || strings.TrimSpace(in.Value) == "" {
		return store.Variable{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "label and value are required", nil)
	}
	if _, ok := allowedVariableTypes[in.Type]; !ok {
		return store.Variable{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown variable type", map[string]string{"type": in.Type})
	}

	clause, err := s.store.GetClause(ctx, in.ClauseID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Variable{}, domainError(http.StatusNotFound, "NOT_FOUND", "clause not found", nil)
	}
	if err != nil {
		return store.Variable{}, err
	}

	v := store.Variable{
		ID:             util.NewID("var"),
		WorkspaceID:    clause.WorkspaceID,
		ClauseID:       clause.ID,
		Label:          strings.TrimSpace(in.Label),
		Type:           in.Type,
		Value:          strings.TrimSpace(in.Value),
		Unit:           strings.TrimSpace(in.Unit),
		LastModifiedBy: session.UserName,
	}
	if err := s.store.InsertVariable(ctx, v); err != nil {
		return store.Variable{}, err
	}

	s.audit(ctx, store.AuditEvent{
		WorkspaceID: v.WorkspaceID,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      "variable.bind",
		EntityType:  "variable",
		EntityID:    v.ID,
		AfterValue:  v.Value,
	})
	return s.store.GetVariable(ctx, v.ID)
}

// UpdateVariable changes a variable's draft value and immediately
// re-evaluates drift against the approved baseline. The whole sequence
// runs under the variable's lock so two concurrent edits cannot race a
// duplicate drift item into existence.
func (s *Service) UpdateVariable(ctx context.Context, session Session, variableID string, in UpdateVariableInput) (store.Variable, error) {
	if strings.TrimSpace(in.Value) == "" {
		return store.Variable{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "value is required", nil)
	}

	lock := s.variableLock(variableID)
	lock.Lock()
	defer lock.Unlock()

	before, err := s.store.GetVariable(ctx, variableID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Variable{}, domainError(http.StatusNotFound, "NOT_FOUND", "variable not found", nil)
	}
	if err != nil {
		return store.Variable{}, err
	}

	v, err := s.store.UpdateVariableValue(ctx, variableID, strings.TrimSpace(in.Value), session.UserName, in.ExpectedVersion)
	if errors.Is(err, store.ErrVersionConflict) {
		return store.Variable{}, domainError(http.StatusConflict, "CONFLICT", "variable was modified by someone else", map[string]int{"currentVersion": before.Version})
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.Variable{}, domainError(http.StatusNotFound, "NOT_FOUND", "variable not found", nil)
	}
	if err != nil {
		return store.Variable{}, err
	}

	s.audit(ctx, store.AuditEvent{
		WorkspaceID: v.WorkspaceID,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      "variable.update",
		EntityType:  "variable",
		EntityID:    v.ID,
		BeforeValue: before.Value,
		AfterValue:  v.Value,
	})

	if err := s.evaluateDrift(ctx, session, v); err != nil {
		// The value write stands; drift bookkeeping failures are logged,
		// the next sync re-evaluates from scratch.
		zap.L().Error("drift evaluation failed", zap.String("variable", v.ID), zap.Error(err))
	}
	return s.store.GetVariable(ctx, v.ID)
}

// evaluateDrift applies the detector's verdict for the variable's current
// state. Caller holds the variable lock.
func (s *Service) evaluateDrift(ctx context.Context, session Session, v store.Variable) error {
	clause, err := s.store.GetClause(ctx, v.ClauseID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	open, err := s.store.GetOpenDriftForVariable(ctx, v.ID)
	if err != nil {
		return err
	}

	out := s.detector.Evaluate(v, clause, open)
	now := time.Now()

	switch out.Action {
	case drift.ActionNone:
		return nil

	case drift.ActionClose:
		// Convergence closes the item as reverted regardless of how the
		// values came back together.
		return s.store.ResolveDriftTx(ctx, store.ResolveDriftParams{
			DriftID:     open.ID,
			WorkspaceID: v.WorkspaceID,
			NewStatus:   store.DriftReverted,
			ActorID:     session.UserID,
			ActorName:   session.UserName,
			Reason:      "value converged with baseline",
			Before:      open.CurrentValue,
			After:       v.Value,
		})

	case drift.ActionCreate:
		// A divergence that was resolved as approved stays accepted until
		// the value moves again; re-opening it on every evaluation would
		// make approval meaningless.
		last, err := s.store.LatestResolvedDriftForVariable(ctx, v.ID)
		if err != nil {
			return err
		}
		if last != nil && last.Status == store.DriftApproved && drift.Equivalent(last.CurrentValue, v.Value) {
			return nil
		}
		item := store.DriftItem{
			ID:                 util.NewID("dr"),
			WorkspaceID:        v.WorkspaceID,
			ClauseID:           v.ClauseID,
			VariableID:         v.ID,
			Title:              v.Label,
			Type:               v.Type,
			Severity:           out.Severity,
			BaselineValue:      *v.BaselineValue,
			BaselineApprovedAt: v.BaselineApprovedAt,
			CurrentValue:       v.Value,
			CurrentModifiedAt:  now,
			CurrentModifiedBy:  session.UserName,
			Status:             store.DriftUnresolved,
		}
		err := s.store.InsertDriftItem(ctx, item)
		if errors.Is(err, store.ErrDriftExists) {
			// Another writer created it first; fold this edit in.
			existing, lookupErr := s.store.GetOpenDriftForVariable(ctx, v.ID)
			if lookupErr != nil || existing == nil {
				return lookupErr
			}
			return s.store.UpdateDriftCurrent(ctx, existing.ID, v.Value, out.Severity, session.UserName, now)
		}
		if err != nil {
			return err
		}
		metrics.DriftCreated.WithLabelValues(out.Severity).Inc()
		s.indexDrift(item)
		return nil

	case drift.ActionUpdate:
		if err := s.store.UpdateDriftCurrent(ctx, open.ID, v.Value, out.Severity, session.UserName, now); err != nil {
			return err
		}
		if out.Escalated {
			s.audit(ctx, store.AuditEvent{
				WorkspaceID: v.WorkspaceID,
				ActorID:     session.UserID,
				ActorName:   session.UserName,
				Action:      "drift.escalated",
				EntityType:  "drift_item",
				EntityID:    open.ID,
				BeforeValue: open.Severity,
				AfterValue:  out.Severity,
			})
		}
		updated := *open
		updated.CurrentValue = v.Value
		updated.Severity = out.Severity
		s.indexDrift(updated)
		return nil
	}
	return fmt.Errorf("unknown drift action %q", out.Action)
}

func (s *Service) DeleteVariable(ctx context.Context, session Session, variableID string) error {
	lock := s.variableLock(variableID)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.store.GetVariable(ctx, variableID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "variable not found", nil)
	}
	if err != nil {
		return err
	}

	open, err := s.store.GetOpenDriftForVariable(ctx, variableID)
	if err != nil {
		return err
	}
	if open != nil {
		return domainError(http.StatusConflict, "CONFLICT", "variable has unresolved drift", map[string]string{"driftId": open.ID})
	}

	if err := s.store.DeleteVariable(ctx, variableID); err != nil {
		return err
	}
	s.audit(ctx, store.AuditEvent{
		WorkspaceID: v.WorkspaceID,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      "variable.delete",
		EntityType:  "variable",
		EntityID:    variableID,
		BeforeValue: v.Value,
	})
	return nil
}

// ApproveBaseline fixes a variable's current value as the approved
// baseline. Any open drift on the variable closes as overridden, since
// the baseline moves to the current value.
func (s *Service) ApproveBaseline(ctx context.Context, session Session, variableID, reason string) (store.Variable, error) {
	lock := s.variableLock(variableID)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.store.GetVariable(ctx, variableID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Variable{}, domainError(http.StatusNotFound, "NOT_FOUND", "variable not found", nil)
	}
	if err != nil {
		return store.Variable{}, err
	}

	open, err := s.store.GetOpenDriftForVariable(ctx, variableID)
	if err != nil {
		return store.Variable{}, err
	}
	if open != nil {
		value := v.Value
		err = s.store.ResolveDriftTx(ctx, store.ResolveDriftParams{
			DriftID:     open.ID,
			WorkspaceID: v.WorkspaceID,
			NewStatus:   store.DriftOverridden,
			ActorID:     session.UserID,
			ActorName:   session.UserName,
			Reason:      reason,
			Mutation:    &store.VariableMutation{VariableID: v.ID, NewBaseline: &value},
			Before:      open.BaselineValue,
			After:       v.Value,
		})
		if err != nil {
			return store.Variable{}, err
		}
		metrics.DriftResolved.WithLabelValues(store.DriftOverridden).Inc()
	} else {
		if err := s.store.SetVariableBaseline(ctx, variableID, v.Value, session.UserName); err != nil {
			return store.Variable{}, err
		}
		s.audit(ctx, store.AuditEvent{
			WorkspaceID: v.WorkspaceID,
			ActorID:     session.UserID,
			ActorName:   session.UserName,
			Action:      "variable.baseline",
			EntityType:  "variable",
			EntityID:    variableID,
			AfterValue:  v.Value,
			Reason:      reason,
		})
	}
	if s.search != nil && open != nil {
		s.search.DeleteDrift(open.ID)
	}
	return s.store.GetVariable(ctx, variableID)
}

// --- drift ---

func (s *Service) ListDrift(ctx context.Context, workspaceID, status, severity string) ([]store.DriftItem, error) {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListDrift(ctx, workspaceID, status, severity)
}

// ResolveDrift applies one of the three terminal resolutions to an
// unresolved drift item:
//
//   - overridden: the current value becomes the new baseline
//   - reverted: the draft value is restored to the baseline
//   - approved: the divergence is accepted as-is, both values stand
//
// Every resolution carries an actor-supplied reason and category for the
// audit trail.
func (s *Service) ResolveDrift(ctx context.Context, session Session, driftID string, in ResolveDriftInput) (store.DriftItem, error) {
	if _, ok := allowedResolutions[in.Resolution]; !ok {
		return store.DriftItem{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown resolution", map[string]string{"resolution": in.Resolution})
	}
	if strings.TrimSpace(in.Reason) == "" {
		return store.DriftItem{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "resolution requires a reason", nil)
	}
	if strings.TrimSpace(in.Category) == "" {
		return store.DriftItem{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "resolution requires a category", nil)
	}

	item, err := s.store.GetDriftItem(ctx, driftID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DriftItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "drift item not found", nil)
	}
	if err != nil {
		return store.DriftItem{}, err
	}

	lock := s.variableLock(item.VariableID)
	lock.Lock()
	defer lock.Unlock()

	var mutation *store.VariableMutation
	switch in.Resolution {
	case store.DriftOverridden:
		current := item.CurrentValue
		mutation = &store.VariableMutation{VariableID: item.VariableID, NewBaseline: &current}
	case store.DriftReverted:
		baseline := item.BaselineValue
		mutation = &store.VariableMutation{VariableID: item.VariableID, NewValue: &baseline}
	}
	// approved mutates nothing: baseline and current value both stand.

	err = s.store.ResolveDriftTx(ctx, store.ResolveDriftParams{
		DriftID:     driftID,
		WorkspaceID: item.WorkspaceID,
		NewStatus:   in.Resolution,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Reason:      in.Reason,
		Category:    in.Category,
		Mutation:    mutation,
		Before:      item.BaselineValue,
		After:       item.CurrentValue,
	})
	if errors.Is(err, store.ErrDriftNotOpen) {
		return store.DriftItem{}, domainError(http.StatusConflict, "CONFLICT", "drift item is already resolved", nil)
	}
	if err != nil {
		return store.DriftItem{}, err
	}

	metrics.DriftResolved.WithLabelValues(in.Resolution).Inc()
	if s.search != nil {
		s.search.DeleteDrift(driftID)
	}
	return s.store.GetDriftItem(ctx, driftID)
}

// --- graph sync ---

// SyncToGraph rebuilds the workspace graph from the live clauses and
// variables and replaces the stored snapshot whole.
func (s *Service) SyncToGraph(ctx context.Context, workspaceID string) (GraphView, error) {
	started := time.Now()

	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return GraphView{}, err
	}

	clauses, err := s.store.ListClauses(ctx, workspaceID)
	if err != nil {
		return GraphView{}, err
	}
	variables, err := s.store.ListVariables(ctx, workspaceID)
	if err != nil {
		return GraphView{}, err
	}

	// Drift bookkeeping can lag the stored values: a failed insert or a
	// direct data load leaves a diverged variable with no open item, so
	// every sync re-runs the detector over the baselined variables before
	// scoring.
	s.reevaluateAllDrift(ctx, variables)

	openDrift, err := s.store.OpenDriftVariableIDs(ctx, workspaceID)
	if err != nil {
		return GraphView{}, err
	}

	locked := make(map[string]bool)
	for _, c := range clauses {
		if c.IsLocked {
			locked[c.ID] = true
		}
	}

	revision := 1
	if prev, err := s.snapshots.Load(ctx, workspaceID); err == nil {
		revision = prev.Revision + 1
	} else if !errors.Is(err, snapshot.ErrNotFound) {
		return GraphView{}, err
	}

	st := s.builder.Build(graph.BuildInput{
		WorkspaceID:   workspaceID,
		Revision:      revision,
		Clauses:       clauses,
		Variables:     variables,
		OpenDrift:     openDrift,
		LockedClauses: locked,
		BuiltAt:       time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.snapshots.Save(ctx, st); err != nil {
		return GraphView{}, err
	}

	openItems, err := s.store.ListDrift(ctx, workspaceID, store.DriftUnresolved, "")
	if err != nil {
		return GraphView{}, err
	}
	report := integrity.Score(st, openItems, s.cfg.Integrity)

	metrics.SyncDuration.WithLabelValues(workspaceID).Observe(time.Since(started).Seconds())
	metrics.IntegrityScore.WithLabelValues(workspaceID).Set(float64(report.Score))
	zap.L().Info("graph synced",
		zap.String("workspace", workspaceID),
		zap.Int("revision", st.Revision),
		zap.Int("nodes", len(st.Nodes)),
		zap.Int("edges", len(st.Edges)),
		zap.Int("score", report.Score))

	return GraphView{State: st, Report: report}, nil
}

// reevaluateAllDrift runs the detector over every baselined variable,
// opening, updating, or closing drift items as the stored values dictate.
// Failures are logged per variable; the sync itself proceeds.
func (s *Service) reevaluateAllDrift(ctx context.Context, variables []store.Variable) {
	session := Session{UserName: "system"}
	for _, v := range variables {
		if v.BaselineValue == nil {
			continue
		}
		lock := s.variableLock(v.ID)
		lock.Lock()
		current, err := s.store.GetVariable(ctx, v.ID)
		if err == nil {
			err = s.evaluateDrift(ctx, session, current)
		}
		lock.Unlock()
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			zap.L().Error("drift re-evaluation failed", zap.String("variable", v.ID), zap.Error(err))
		}
	}
}

// GraphState returns the last synced graph without rebuilding, syncing
// first if the workspace has never been synced.
func (s *Service) GraphState(ctx context.Context, workspaceID string) (GraphView, error) {
	st, err := s.snapshots.Load(ctx, workspaceID)
	if errors.Is(err, snapshot.ErrNotFound) {
		return s.SyncToGraph(ctx, workspaceID)
	}
	if err != nil {
		return GraphView{}, err
	}
	openItems, err := s.store.ListDrift(ctx, workspaceID, store.DriftUnresolved, "")
	if err != nil {
		return GraphView{}, err
	}
	return GraphView{State: st, Report: integrity.Score(st, openItems, s.cfg.Integrity)}, nil
}

// --- search and audit ---

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) AuditLog(ctx context.Context, workspaceID string, limit int) ([]store.AuditEvent, error) {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListAuditEvents(ctx, workspaceID, limit)
}

func (s *Service) audit(ctx context.Context, event store.AuditEvent) {
	if err := s.store.InsertAuditEvent(ctx, event); err != nil {
		zap.L().Error("audit event write failed", zap.String("action", event.Action), zap.Error(err))
	}
}

func (s *Service) indexDrift(item store.DriftItem) {
	if s.search == nil {
		return
	}
	s.search.IndexDrift(search.DriftRecord{
		ID:            item.ID,
		Title:         item.Title,
		BaselineValue: item.BaselineValue,
		CurrentValue:  item.CurrentValue,
		Severity:      item.Severity,
		Status:        item.Status,
		ClauseID:      item.ClauseID,
		WorkspaceID:   item.WorkspaceID,
	})
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SnapshotPing(ctx context.Context) error {
	return s.snapshots.Ping(ctx)
}

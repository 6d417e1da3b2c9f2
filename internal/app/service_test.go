package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"dealgraph/api/internal/authpw"
	"dealgraph/api/internal/config"
	"dealgraph/api/internal/drift"
	"dealgraph/api/internal/graph"
	"dealgraph/api/internal/ledger"
	"dealgraph/api/internal/publish"
	"dealgraph/api/internal/snapshot"
	"dealgraph/api/internal/store"
	"dealgraph/api/internal/util"
)

// memStore is an in-memory dataStore for service tests.
type memStore struct {
	mu         sync.Mutex
	users      map[string]store.User
	emails     map[string]string
	workspaces map[string]store.Workspace
	clauses    map[string]store.Clause
	variables  map[string]store.Variable
	drift      map[string]store.DriftItem
	sessions   map[string]store.ReconSession
	items      map[string]store.ReconItem
	audit      []store.AuditEvent
	publishes  map[string]*store.PublishState
}

func newMemStore() *memStore {
	return &memStore{
		users:      map[string]store.User{},
		emails:     map[string]string{},
		workspaces: map[string]store.Workspace{},
		clauses:    map[string]store.Clause{},
		variables:  map[string]store.Variable{},
		drift:      map[string]store.DriftItem{},
		sessions:   map[string]store.ReconSession{},
		items:      map[string]store.ReconItem{},
		publishes:  map[string]*store.PublishState{},
	}
}

func (m *memStore) EnsureUserByName(_ context.Context, name string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.DisplayName == name {
			return u, nil
		}
	}
	u := store.User{ID: util.NewID("u"), DisplayName: name, Role: "admin"}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.emails[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return m.users[id], nil
}

func (m *memStore) CreateUser(_ context.Context, u store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.emails[u.Email] = u.ID
	return nil
}

func (m *memStore) ListWorkspaces(context.Context) ([]store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		out = append(out, ws)
	}
	return out, nil
}

func (m *memStore) GetWorkspace(_ context.Context, id string) (store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return store.Workspace{}, sql.ErrNoRows
	}
	return ws, nil
}

func (m *memStore) InsertWorkspace(_ context.Context, ws store.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[ws.ID] = ws
	return nil
}

func (m *memStore) ListClauses(_ context.Context, workspaceID string) ([]store.Clause, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Clause
	for _, c := range m.clauses {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memStore) GetClause(_ context.Context, id string) (store.Clause, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clauses[id]
	if !ok {
		return store.Clause{}, sql.ErrNoRows
	}
	return c, nil
}

// validClauseTypes mirrors the CHECK constraint on the clauses table.
var validClauseTypes = map[string]bool{
	store.ClauseFinancial:  true,
	store.ClauseCovenant:   true,
	store.ClauseDefinition: true,
	store.ClauseXref:       true,
	store.ClauseGeneral:    true,
}

func (m *memStore) InsertClause(_ context.Context, c store.Clause) error {
	if !validClauseTypes[c.Type] {
		return fmt.Errorf("invalid clause type %q", c.Type)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clauses[c.ID] = c
	return nil
}

func (m *memStore) UpdateClauseBody(_ context.Context, id, body, actorName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clauses[id]
	if !ok {
		return sql.ErrNoRows
	}
	if c.IsLocked {
		return store.ErrClauseLocked
	}
	c.Body = body
	c.LastModifiedBy = actorName
	c.LastModifiedAt = time.Now()
	m.clauses[id] = c
	return nil
}

func (m *memStore) SetClauseLock(_ context.Context, id string, locked bool, actorName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clauses[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.IsLocked = locked
	if locked {
		c.LockedBy = actorName
	} else {
		c.LockedBy = ""
	}
	m.clauses[id] = c
	return nil
}

func (m *memStore) DocumentOutline(_ context.Context, workspaceID string) ([]store.OutlineItem, error) {
	clauses, _ := m.ListClauses(context.Background(), workspaceID)
	out := make([]store.OutlineItem, 0, len(clauses))
	for _, c := range clauses {
		out = append(out, store.OutlineItem{ClauseID: c.ID, Title: c.Title, Type: c.Type, Position: c.Position})
	}
	return out, nil
}

func (m *memStore) ListVariables(_ context.Context, workspaceID string) ([]store.Variable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Variable
	for _, v := range m.variables {
		if v.WorkspaceID == workspaceID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetVariable(_ context.Context, id string) (store.Variable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variables[id]
	if !ok {
		return store.Variable{}, sql.ErrNoRows
	}
	return v, nil
}

func (m *memStore) InsertVariable(_ context.Context, v store.Variable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.Version == 0 {
		v.Version = 1
	}
	m.variables[v.ID] = v
	return nil
}

func (m *memStore) UpdateVariableValue(_ context.Context, id, value, actorName string, expectedVersion int) (store.Variable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variables[id]
	if !ok {
		return store.Variable{}, sql.ErrNoRows
	}
	if v.Version != expectedVersion {
		return store.Variable{}, store.ErrVersionConflict
	}
	v.Value = value
	v.Version++
	v.LastModifiedBy = actorName
	v.LastModifiedAt = time.Now()
	m.variables[id] = v
	return v, nil
}

func (m *memStore) SetVariableBaseline(_ context.Context, id, baseline, actorName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variables[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now()
	v.BaselineValue = &baseline
	v.BaselineApprovedAt = &now
	v.LastModifiedBy = actorName
	m.variables[id] = v
	return nil
}

func (m *memStore) DeleteVariable(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.variables, id)
	return nil
}

func (m *memStore) GetDriftItem(_ context.Context, id string) (store.DriftItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drift[id]
	if !ok {
		return store.DriftItem{}, sql.ErrNoRows
	}
	return d, nil
}

func (m *memStore) GetOpenDriftForVariable(_ context.Context, variableID string) (*store.DriftItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drift {
		if d.VariableID == variableID && d.Status == store.DriftUnresolved {
			copied := d
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) LatestResolvedDriftForVariable(_ context.Context, variableID string) (*store.DriftItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *store.DriftItem
	for _, d := range m.drift {
		if d.VariableID != variableID || d.Status == store.DriftUnresolved {
			continue
		}
		if latest == nil || (d.ApprovedAt != nil && latest.ApprovedAt != nil && d.ApprovedAt.After(*latest.ApprovedAt)) {
			copied := d
			latest = &copied
		}
	}
	return latest, nil
}

func (m *memStore) ListDrift(_ context.Context, workspaceID, status, severity string) ([]store.DriftItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.DriftItem
	for _, d := range m.drift {
		if d.WorkspaceID != workspaceID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		if severity != "" && d.Severity != severity {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) OpenDriftVariableIDs(_ context.Context, workspaceID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, d := range m.drift {
		if d.WorkspaceID == workspaceID && d.Status == store.DriftUnresolved {
			out[d.VariableID] = true
		}
	}
	return out, nil
}

func (m *memStore) CountUnresolvedHigh(_ context.Context, workspaceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, d := range m.drift {
		if d.WorkspaceID == workspaceID && d.Status == store.DriftUnresolved && d.Severity == store.SeverityHigh {
			count++
		}
	}
	return count, nil
}

func (m *memStore) InsertDriftItem(_ context.Context, item store.DriftItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drift {
		if d.VariableID == item.VariableID && d.Status == store.DriftUnresolved {
			return store.ErrDriftExists
		}
	}
	m.drift[item.ID] = item
	return nil
}

func (m *memStore) UpdateDriftCurrent(_ context.Context, id, currentValue, severity, actorName string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drift[id]
	if !ok || d.Status != store.DriftUnresolved {
		return store.ErrDriftNotOpen
	}
	d.CurrentValue = currentValue
	d.Severity = severity
	d.CurrentModifiedBy = actorName
	d.CurrentModifiedAt = at
	m.drift[id] = d
	return nil
}

func (m *memStore) ResolveDriftTx(_ context.Context, p store.ResolveDriftParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drift[p.DriftID]
	if !ok || d.Status != store.DriftUnresolved {
		return store.ErrDriftNotOpen
	}
	now := time.Now()
	d.Status = p.NewStatus
	d.ApprovedBy = p.ActorName
	d.ApprovedAt = &now
	d.ApprovalReason = p.Reason
	m.drift[p.DriftID] = d

	if p.Mutation != nil {
		v := m.variables[p.Mutation.VariableID]
		if p.Mutation.NewValue != nil {
			v.Value = *p.Mutation.NewValue
			v.Version++
		}
		if p.Mutation.NewBaseline != nil {
			v.BaselineValue = p.Mutation.NewBaseline
			v.BaselineApprovedAt = &now
		}
		m.variables[p.Mutation.VariableID] = v
	}
	m.audit = append(m.audit, store.AuditEvent{
		WorkspaceID: p.WorkspaceID,
		ActorID:     p.ActorID,
		ActorName:   p.ActorName,
		Action:      "drift." + p.NewStatus,
		EntityType:  "drift_item",
		EntityID:    p.DriftID,
		BeforeValue: p.Before,
		AfterValue:  p.After,
		Reason:      p.Reason,
		Category:    p.Category,
	})
	return nil
}

func (m *memStore) CreateReconSessionTx(_ context.Context, session store.ReconSession, items []store.ReconItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	for _, item := range items {
		m.items[item.ID] = item
	}
	return nil
}

func (m *memStore) ListReconSessions(_ context.Context, workspaceID string) ([]store.ReconSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ReconSession
	for _, s := range m.sessions {
		if s.WorkspaceID == workspaceID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetReconSession(_ context.Context, id string) (store.ReconSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return store.ReconSession{}, sql.ErrNoRows
	}
	return s, nil
}

func (m *memStore) ListReconItems(_ context.Context, sessionID string) ([]store.ReconItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ReconItem
	for _, item := range m.items {
		if item.SessionID == sessionID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetReconItem(_ context.Context, id string) (store.ReconItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return store.ReconItem{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) ApplyReconItemTx(_ context.Context, p store.ApplyReconParams) (store.Variable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[p.ItemID]
	if !ok {
		return store.Variable{}, sql.ErrNoRows
	}
	if item.Decision != store.DecisionPending {
		return store.Variable{}, store.ErrItemDecided
	}
	now := time.Now()
	item.Decision = store.DecisionApplied
	item.DecisionReason = p.Reason
	item.DecidedBy = p.ActorName
	item.DecidedAt = &now
	m.items[p.ItemID] = item

	session := m.sessions[p.SessionID]
	session.AppliedCount++
	session.PendingCount--
	m.sessions[p.SessionID] = session

	v := m.variables[p.VariableID]
	v.Value = p.NewValue
	v.Version++
	v.LastModifiedBy = p.ActorName
	m.variables[p.VariableID] = v
	return v, nil
}

func (m *memStore) RejectReconItemTx(_ context.Context, itemID, sessionID, workspaceID, actorID, actorName, reason, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return sql.ErrNoRows
	}
	if item.Decision != store.DecisionPending {
		return store.ErrItemDecided
	}
	now := time.Now()
	item.Decision = store.DecisionRejected
	item.DecisionReason = reason
	item.DecidedBy = actorName
	item.DecidedAt = &now
	m.items[itemID] = item

	session := m.sessions[sessionID]
	session.RejectedCount++
	session.PendingCount--
	m.sessions[sessionID] = session
	return nil
}

func (m *memStore) InsertAuditEvent(_ context.Context, event store.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, event)
	return nil
}

func (m *memStore) ListAuditEvents(_ context.Context, workspaceID string, limit int) ([]store.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.AuditEvent
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if m.audit[i].WorkspaceID == workspaceID {
			out = append(out, m.audit[i])
		}
	}
	return out, nil
}

func (m *memStore) GetPublishState(_ context.Context, workspaceID string) (store.PublishState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.publishes[workspaceID]; ok {
		return *p, nil
	}
	return store.PublishState{WorkspaceID: workspaceID}, nil
}

func (m *memStore) RecordPublish(_ context.Context, workspaceID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.publishes[workspaceID]
	if !ok {
		p = &store.PublishState{WorkspaceID: workspaceID}
		m.publishes[workspaceID] = p
	}
	p.PublishCount++
	p.LastPublishAt = &at
	return p.PublishCount, nil
}

func (m *memStore) RecordExport(_ context.Context, workspaceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.publishes[workspaceID]
	if !ok {
		p = &store.PublishState{WorkspaceID: workspaceID}
		m.publishes[workspaceID] = p
	}
	p.LastExportAt = &at
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// memSnapshots keeps graph snapshots in a map.
type memSnapshots struct {
	mu     sync.Mutex
	states map[string]graph.State
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{states: map[string]graph.State{}}
}

func (m *memSnapshots) Save(_ context.Context, st graph.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.WorkspaceID] = st
	return nil
}

func (m *memSnapshots) Load(_ context.Context, workspaceID string) (graph.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[workspaceID]
	if !ok {
		return graph.State{}, snapshot.ErrNotFound
	}
	return st, nil
}

func (m *memSnapshots) Ping(context.Context) error { return nil }
func (m *memSnapshots) Close() error               { return nil }

// memLedger records publishes without touching git.
type memLedger struct {
	mu      sync.Mutex
	records map[string]map[string][]byte
	entries map[string][]ledger.Entry
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[string]map[string][]byte{}, entries: map[string][]ledger.Entry{}}
}

func (m *memLedger) RecordPublish(workspaceID string, record any, actor string, sequence int) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(record)
	if err != nil {
		return ledger.Entry{}, err
	}
	if m.records[workspaceID] == nil {
		m.records[workspaceID] = map[string][]byte{}
	}
	tag := fmt.Sprintf("publish-%d", sequence)
	m.records[workspaceID][tag] = data
	entry := ledger.Entry{Hash: fmt.Sprintf("%07d", sequence), Tag: tag, PublishedBy: actor, PublishedAt: time.Now()}
	m.entries[workspaceID] = append([]ledger.Entry{entry}, m.entries[workspaceID]...)
	return entry, nil
}

func (m *memLedger) RecordByTag(workspaceID, tag string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[workspaceID][tag]
	if !ok {
		return nil, errors.New("tag not found")
	}
	return data, nil
}

func (m *memLedger) History(workspaceID string, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.entries[workspaceID]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return append([]ledger.Entry{}, entries...), nil
}

type testEnv struct {
	service *Service
	store   *memStore
	session Session
	ws      store.Workspace
	clause  store.Clause
	margin  store.Variable
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Config{
		Auth:      config.AuthConfig{TokenSecret: "test-secret", AccessTTL: 15 * time.Minute},
		Drift:     config.DefaultDrift(),
		Integrity: config.DefaultIntegrity(),
		Publish:   config.DefaultPublish(),
	}

	ms := newMemStore()
	svc := &Service{
		cfg:       cfg,
		store:     ms,
		snapshots: newMemSnapshots(),
		ledger:    newMemLedger(),
		builder:   graph.NewBuilder(nil),
		detector:  drift.NewDetector(cfg.Drift),
		varLocks:  map[string]*sync.Mutex{},
	}

	ws := store.Workspace{ID: "ws_1", Name: "Project Meridian", Slug: "project-meridian", Status: "active"}
	if err := ms.InsertWorkspace(context.Background(), ws); err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
	clause := store.Clause{
		ID:          "cl_1",
		WorkspaceID: ws.ID,
		Title:       "Applicable Margin",
		Body:        "The Applicable Margin shall be 2.75% per annum.",
		Type:        store.ClauseFinancial,
		Position:    1,
	}
	if err := ms.InsertClause(context.Background(), clause); err != nil {
		t.Fatalf("insert clause: %v", err)
	}
	margin := store.Variable{
		ID:          "var_margin",
		WorkspaceID: ws.ID,
		ClauseID:    clause.ID,
		Label:       "Applicable Margin",
		Type:        store.VarFinancial,
		Value:       "2.75%",
		Unit:        "%",
		Version:     1,
	}
	if err := ms.InsertVariable(context.Background(), margin); err != nil {
		t.Fatalf("insert variable: %v", err)
	}
	if err := ms.SetVariableBaseline(context.Background(), margin.ID, "2.75%", "Approver"); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	return &testEnv{
		service: svc,
		store:   ms,
		session: Session{UserID: "u_1", UserName: "Dana", Role: "approver"},
		ws:      ws,
		clause:  clause,
		margin:  margin,
	}
}

func openDriftFor(t *testing.T, env *testEnv, variableID string) store.DriftItem {
	t.Helper()
	open, err := env.store.GetOpenDriftForVariable(context.Background(), variableID)
	if err != nil {
		t.Fatalf("lookup open drift: %v", err)
	}
	if open == nil {
		t.Fatalf("expected open drift for %s", variableID)
	}
	return *open
}

func TestUpdateVariableCreatesDriftItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{
		Value:           "3.25%",
		ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("update variable: %v", err)
	}
	if v.Value != "3.25%" {
		t.Fatalf("expected updated value, got %q", v.Value)
	}
	if v.Version != 2 {
		t.Fatalf("expected version 2, got %d", v.Version)
	}

	item := openDriftFor(t, env, env.margin.ID)
	if item.Severity != store.SeverityHigh {
		t.Fatalf("18%% delta should be HIGH, got %s", item.Severity)
	}
	if item.BaselineValue != "2.75%" || item.CurrentValue != "3.25%" {
		t.Fatalf("unexpected drift values: %q -> %q", item.BaselineValue, item.CurrentValue)
	}
}

func TestUpdateVariableConvergenceClosesDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	item := openDriftFor(t, env, env.margin.ID)

	// Formatting differs but the normalized value matches the baseline.
	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "2.750%", ExpectedVersion: 2}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	resolved, err := env.store.GetDriftItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get drift item: %v", err)
	}
	if resolved.Status != store.DriftReverted {
		t.Fatalf("expected reverted, got %s", resolved.Status)
	}
}

func TestUpdateVariableVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.00%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	_, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.10%", ExpectedVersion: 1})
	var de *DomainError
	if !errors.As(err, &de) || de.Status != http.StatusConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestResolveDriftOverrideMovesBaseline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	item := openDriftFor(t, env, env.margin.ID)

	resolved, err := env.service.ResolveDrift(ctx, env.session, item.ID, ResolveDriftInput{
		Resolution: store.DriftOverridden,
		Reason:     "renegotiated with the arranger",
		Category:   "commercial",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != store.DriftOverridden {
		t.Fatalf("expected overridden, got %s", resolved.Status)
	}

	v, _ := env.store.GetVariable(ctx, env.margin.ID)
	if v.BaselineValue == nil || *v.BaselineValue != "3.25%" {
		t.Fatalf("override should promote current value to baseline, got %v", v.BaselineValue)
	}
}

func TestResolveDriftRevertRestoresDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	item := openDriftFor(t, env, env.margin.ID)

	if _, err := env.service.ResolveDrift(ctx, env.session, item.ID, ResolveDriftInput{
		Resolution: store.DriftReverted,
		Reason:     "draft change not agreed",
		Category:   "commercial",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v, _ := env.store.GetVariable(ctx, env.margin.ID)
	if v.Value != "2.75%" {
		t.Fatalf("revert should restore baseline value, got %q", v.Value)
	}
}

func TestResolveDriftRequiresReasonAndCategory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	item := openDriftFor(t, env, env.margin.ID)

	for _, resolution := range []string{store.DriftOverridden, store.DriftReverted, store.DriftApproved} {
		_, err := env.service.ResolveDrift(ctx, env.session, item.ID, ResolveDriftInput{Resolution: resolution})
		var de *DomainError
		if !errors.As(err, &de) || de.Status != http.StatusBadRequest {
			t.Fatalf("%s without a reason should fail validation, got %v", resolution, err)
		}
		_, err = env.service.ResolveDrift(ctx, env.session, item.ID, ResolveDriftInput{Resolution: resolution, Reason: "agreed"})
		if !errors.As(err, &de) || de.Status != http.StatusBadRequest {
			t.Fatalf("%s without a category should fail validation, got %v", resolution, err)
		}
	}

	resolved, err := env.service.ResolveDrift(ctx, env.session, item.ID, ResolveDriftInput{
		Resolution: store.DriftApproved,
		Reason:     "negotiated concession on pricing",
		Category:   "commercial",
	})
	if err != nil {
		t.Fatalf("resolve with reason and category: %v", err)
	}
	if resolved.ApprovalReason != "negotiated concession on pricing" {
		t.Fatalf("expected reason on item, got %q", resolved.ApprovalReason)
	}
}

func TestResolveDriftApproveKeepsBothValues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	item := openDriftFor(t, env, env.margin.ID)

	if _, err := env.service.ResolveDrift(ctx, env.session, item.ID, ResolveDriftInput{
		Resolution: store.DriftApproved,
		Reason:     "accepted for this amendment cycle",
		Category:   "commercial",
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	v, _ := env.store.GetVariable(ctx, env.margin.ID)
	if v.BaselineValue == nil || *v.BaselineValue != "2.75%" {
		t.Fatalf("approve must not move the baseline, got %v", v.BaselineValue)
	}
	if v.Value != "3.25%" {
		t.Fatalf("approve must not touch the draft value, got %q", v.Value)
	}

	// The accepted divergence stays accepted: a sync must not reopen it,
	// and the gate must pass.
	if _, err := env.service.SyncToGraph(ctx, env.ws.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if open, _ := env.store.GetOpenDriftForVariable(ctx, env.margin.ID); open != nil {
		t.Fatalf("sync reopened an approved divergence: %+v", open)
	}
	status, err := env.service.CanPublish(ctx, env.ws.ID)
	if err != nil {
		t.Fatalf("can publish: %v", err)
	}
	if !status.Decision.Allowed {
		t.Fatalf("approved drift should not block publication: %s", status.Decision.Reason)
	}

	// A further edit away from the accepted value opens fresh drift.
	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.50%", ExpectedVersion: 2}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if open, _ := env.store.GetOpenDriftForVariable(ctx, env.margin.ID); open == nil {
		t.Fatal("a new edit after approval should open fresh drift")
	}
}

func TestResolveDriftTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	item := openDriftFor(t, env, env.margin.ID)

	if _, err := env.service.ResolveDrift(ctx, env.session, item.ID, ResolveDriftInput{
		Resolution: store.DriftReverted,
		Reason:     "draft change not agreed",
		Category:   "commercial",
	}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, err := env.service.ResolveDrift(ctx, env.session, item.ID, ResolveDriftInput{
		Resolution: store.DriftOverridden,
		Reason:     "second attempt",
		Category:   "commercial",
	})
	var de *DomainError
	if !errors.As(err, &de) || de.Status != http.StatusConflict {
		t.Fatalf("expected conflict on double resolve, got %v", err)
	}
}

func TestDeleteVariableWithOpenDriftConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	err := env.service.DeleteVariable(ctx, env.session, env.margin.ID)
	var de *DomainError
	if !errors.As(err, &de) || de.Status != http.StatusConflict {
		t.Fatalf("expected conflict deleting drifting variable, got %v", err)
	}
}

func TestSyncToGraphIncrementsRevision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.service.SyncToGraph(ctx, env.ws.ID)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.State.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", first.State.Revision)
	}
	if first.Report.Score != 100 {
		t.Fatalf("clean workspace should score 100, got %d", first.Report.Score)
	}

	second, err := env.service.SyncToGraph(ctx, env.ws.ID)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.State.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", second.State.Revision)
	}
}

func TestSyncReflectsDriftInScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	view, err := env.service.SyncToGraph(ctx, env.ws.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if view.Report.Score >= 100 {
		t.Fatalf("drifting workspace should lose points, got %d", view.Report.Score)
	}
	var found bool
	for _, node := range view.State.Nodes {
		if node.RefID == env.margin.ID && node.HasDrift {
			found = true
		}
	}
	if !found {
		t.Fatal("drifting variable should be flagged on its node")
	}
}

func TestPublishBlockedByUnresolvedHigh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, err := env.service.Publish(ctx, env.session, env.ws.ID, "quarterly publish", "scheduled")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if de.Status != http.StatusConflict || de.Code != "PUBLISH_BLOCKED" {
		t.Fatalf("expected publish block, got %d %s", de.Status, de.Code)
	}
}

func TestPublishProducesGoldenRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.service.Publish(ctx, env.session, env.ws.ID, "initial publish", "closing")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.Record.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", result.Record.Sequence)
	}
	if result.Entry.Tag != "publish-1" {
		t.Fatalf("expected tag publish-1, got %s", result.Entry.Tag)
	}
	if len(result.Record.Variables) != 1 || result.Record.Variables[0].BaselineValue != "2.75%" {
		t.Fatalf("golden record should carry the approved baseline: %+v", result.Record.Variables)
	}

	fetched, err := env.service.PublishedRecord(ctx, env.ws.ID, "")
	if err != nil {
		t.Fatalf("fetch published record: %v", err)
	}
	if fetched.Sequence != 1 || fetched.WorkspaceID != env.ws.ID {
		t.Fatalf("unexpected fetched record: %+v", fetched)
	}
}

func TestSyncOpensDriftForDivergedVariable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A value that diverged without drift bookkeeping, as after a failed
	// insert or a direct data load.
	env.store.mu.Lock()
	v := env.store.variables[env.margin.ID]
	v.Value = "3.90%"
	v.Version++
	env.store.variables[env.margin.ID] = v
	env.store.mu.Unlock()

	if _, err := env.service.SyncToGraph(ctx, env.ws.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}

	open, err := env.store.GetOpenDriftForVariable(ctx, env.margin.ID)
	if err != nil {
		t.Fatalf("get open drift: %v", err)
	}
	if open == nil {
		t.Fatal("sync should open a drift item for the diverged variable")
	}
	if open.Severity != store.SeverityHigh {
		t.Fatalf("a 40%% move should grade HIGH, got %s", open.Severity)
	}

	status, err := env.service.CanPublish(ctx, env.ws.ID)
	if err != nil {
		t.Fatalf("can publish: %v", err)
	}
	if status.Decision.Allowed {
		t.Fatal("unbooked divergence must not slip past the publish gate")
	}
}

func TestBootstrapSeedsDemoWorkspace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Empty the store so the seed path actually runs.
	env.store.mu.Lock()
	env.store.workspaces = map[string]store.Workspace{}
	env.store.clauses = map[string]store.Clause{}
	env.store.variables = map[string]store.Variable{}
	env.store.mu.Unlock()

	if err := env.service.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	workspaces, err := env.store.ListWorkspaces(ctx)
	if err != nil || len(workspaces) != 1 {
		t.Fatalf("expected one seeded workspace, got %d (err %v)", len(workspaces), err)
	}
	clauses, err := env.store.ListClauses(ctx, workspaces[0].ID)
	if err != nil {
		t.Fatalf("list clauses: %v", err)
	}
	if len(clauses) != 4 {
		t.Fatalf("expected four seed clauses, got %d", len(clauses))
	}
	for _, c := range clauses {
		if !validClauseTypes[c.Type] {
			t.Fatalf("seed clause %q has type %q outside the schema enum", c.Title, c.Type)
		}
	}
}

func TestGoldenRecordSummaryReflectsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	summary, err := env.service.GetGoldenRecord(ctx, env.ws.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Status != publish.StatusReady {
		t.Fatalf("clean workspace should be READY, got %s", summary.Status)
	}
	if summary.IntegrityScore != 100 || summary.UnresolvedHighDriftCount != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Connectors) != 3 {
		t.Fatalf("expected three connector targets, got %d", len(summary.Connectors))
	}
	for _, c := range summary.Connectors {
		if c.Status != "ready" {
			t.Fatalf("connector %s should be ready, got %s", c.Name, c.Status)
		}
	}
	if len(summary.SchemaJSON) == 0 {
		t.Fatal("summary should embed the golden record schema")
	}

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	summary, err = env.service.GetGoldenRecord(ctx, env.ws.ID)
	if err != nil {
		t.Fatalf("summary after drift: %v", err)
	}
	if summary.Status != publish.StatusInReview {
		t.Fatalf("workspace with HIGH drift should be IN_REVIEW, got %s", summary.Status)
	}
	if summary.UnresolvedHighDriftCount != 1 {
		t.Fatalf("expected one unresolved high drift, got %d", summary.UnresolvedHighDriftCount)
	}
}

func TestPublishUsesBaselineNotDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A MEDIUM drift does not block publication, but the golden record
	// must keep the approved baseline, not the drifted draft.
	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "2.80%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	item := openDriftFor(t, env, env.margin.ID)
	if item.Severity != store.SeverityMedium {
		t.Fatalf("small delta should be MEDIUM, got %s", item.Severity)
	}

	result, err := env.service.Publish(ctx, env.session, env.ws.ID, "", "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.Record.Variables[0].BaselineValue != "2.75%" {
		t.Fatalf("expected baseline in golden record, got %q", result.Record.Variables[0].BaselineValue)
	}
}

func TestUpdateClauseLockedConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.service.SetClauseLock(ctx, env.session, env.clause.ID, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, err := env.service.UpdateClauseText(ctx, env.session, env.clause.ID, "amended body")
	var de *DomainError
	if !errors.As(err, &de) || de.Status != http.StatusConflict {
		t.Fatalf("expected conflict editing locked clause, got %v", err)
	}
}

func TestApproveBaselineClosesOpenDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.UpdateVariable(ctx, env.session, env.margin.ID, UpdateVariableInput{Value: "3.25%", ExpectedVersion: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	item := openDriftFor(t, env, env.margin.ID)

	v, err := env.service.ApproveBaseline(ctx, env.session, env.margin.ID, "agreed with lenders")
	if err != nil {
		t.Fatalf("approve baseline: %v", err)
	}
	if v.BaselineValue == nil || *v.BaselineValue != "3.25%" {
		t.Fatalf("baseline should move to current value, got %v", v.BaselineValue)
	}
	resolved, _ := env.store.GetDriftItem(ctx, item.ID)
	if resolved.Status != store.DriftOverridden {
		t.Fatalf("moving the baseline should close drift as overridden, got %s", resolved.Status)
	}
}

func TestUploadMarkupOpensSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	markup := `We propose revising the "Applicable Margin" to 3.00%.` + "\n" +
		"Unrelated commentary about closing mechanics." + "\n"
	view, err := env.service.UploadMarkup(ctx, env.session, env.ws.ID, "counsel-markup.txt", []byte(markup))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if view.Session.TotalItems != 1 || view.Session.PendingCount != 1 {
		t.Fatalf("expected one pending item, got %+v", view.Session)
	}
	item := view.Items[0]
	if item.TargetVariableID != env.margin.ID {
		t.Fatalf("expected proposal matched to margin variable, got %q", item.TargetVariableID)
	}
	if item.Confidence != store.ConfidenceHigh {
		t.Fatalf("quoted label should match with high confidence, got %s", item.Confidence)
	}
	if item.ProposedValue != "3.00%" {
		t.Fatalf("expected proposed value 3.00%%, got %q", item.ProposedValue)
	}
}

func TestApplyReconItemUpdatesVariableAndDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	markup := `We propose revising the "Applicable Margin" to 3.25%.` + "\n"
	view, err := env.service.UploadMarkup(ctx, env.session, env.ws.ID, "markup.txt", []byte(markup))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	item, err := env.service.ApplyReconItem(ctx, env.session, view.Items[0].ID, ReconDecisionInput{Reason: "accepted"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if item.Decision != store.DecisionApplied {
		t.Fatalf("expected applied, got %s", item.Decision)
	}

	v, _ := env.store.GetVariable(ctx, env.margin.ID)
	if v.Value != "3.25%" {
		t.Fatalf("variable should take proposed value, got %q", v.Value)
	}
	// Applying a divergent value opens drift like any other edit.
	openDriftFor(t, env, env.margin.ID)

	session, _ := env.store.GetReconSession(ctx, view.Session.ID)
	if session.AppliedCount != 1 || session.PendingCount != 0 {
		t.Fatalf("session counts should roll up, got %+v", session)
	}
}

func TestRejectReconItemRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	markup := `We propose revising the "Applicable Margin" to 3.25%.` + "\n"
	view, err := env.service.UploadMarkup(ctx, env.session, env.ws.ID, "markup.txt", []byte(markup))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	_, err = env.service.RejectReconItem(ctx, env.session, view.Items[0].ID, ReconDecisionInput{})
	var de *DomainError
	if !errors.As(err, &de) || de.Status != http.StatusBadRequest {
		t.Fatalf("expected validation error, got %v", err)
	}

	item, err := env.service.RejectReconItem(ctx, env.session, view.Items[0].ID, ReconDecisionInput{Reason: "not acceptable to the sponsor"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if item.Decision != store.DecisionRejected {
		t.Fatalf("expected rejected, got %s", item.Decision)
	}
}

func TestApplyAllHighConfidence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Second variable so the markup yields two proposals with different
	// confidence grades.
	lev := store.Variable{
		ID:          "var_lev",
		WorkspaceID: env.ws.ID,
		ClauseID:    env.clause.ID,
		Label:       "Leverage Ratio",
		Type:        store.VarRatio,
		Value:       "4.50x",
		Unit:        "x",
		Version:     1,
	}
	if err := env.store.InsertVariable(ctx, lev); err != nil {
		t.Fatalf("insert variable: %v", err)
	}

	markup := `We propose revising the "Applicable Margin" to 3.00%.` + "\n" +
		"The leverage ratio should move to 4.75x." + "\n"
	view, err := env.service.UploadMarkup(ctx, env.session, env.ws.ID, "markup.txt", []byte(markup))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(view.Items) != 2 {
		t.Fatalf("expected two proposals, got %d", len(view.Items))
	}

	result, err := env.service.ApplyAllHighConfidence(ctx, env.session, view.Session.ID)
	if err != nil {
		t.Fatalf("apply all: %v", err)
	}
	if result.Applied != 1 {
		t.Fatalf("only the quoted-label proposal is high confidence, got %d applied", result.Applied)
	}

	v, _ := env.store.GetVariable(ctx, env.margin.ID)
	if v.Value != "3.00%" {
		t.Fatalf("high confidence proposal should apply, got %q", v.Value)
	}
	levAfter, _ := env.store.GetVariable(ctx, lev.ID)
	if levAfter.Value != "4.50x" {
		t.Fatalf("lower confidence proposal must stay pending, got %q", levAfter.Value)
	}
}

func TestBindVariableValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.BindVariable(ctx, env.session, BindVariableInput{
		ClauseID: env.clause.ID,
		Label:    "Floor",
		Type:     "percentage",
		Value:    "0.50%",
	})
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}

	v, err := env.service.BindVariable(ctx, env.session, BindVariableInput{
		ClauseID: env.clause.ID,
		Label:    "SOFR Floor",
		Type:     store.VarFinancial,
		Value:    "0.50%",
		Unit:     "%",
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if v.ClauseID != env.clause.ID || !strings.HasPrefix(v.ID, "var_") {
		t.Fatalf("unexpected variable: %+v", v)
	}
}

func TestSignupAndSessionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.service.passwords = authpw.NewService(env.store)
	ctx := context.Background()

	session, err := env.service.Signup(ctx, "dana@example.com", "correct-horse", "Dana")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if session.Token == "" {
		t.Fatal("expected access token")
	}

	parsed, err := env.service.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if parsed.UserID != session.UserID || parsed.UserName != "Dana" {
		t.Fatalf("unexpected session: %+v", parsed)
	}

	if _, err := env.service.Login(ctx, "dana@example.com", "wrong"); err == nil {
		t.Fatal("expected login failure with wrong password")
	}
	if _, err := env.service.Login(ctx, "dana@example.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

package store

import "time"

// Clause types.
const (
	ClauseFinancial  = "financial"
	ClauseCovenant   = "covenant"
	ClauseDefinition = "definition"
	ClauseXref       = "xref"
	ClauseGeneral    = "general"
)

// Variable types.
const (
	VarFinancial  = "financial"
	VarDefinition = "definition"
	VarCovenant   = "covenant"
	VarRatio      = "ratio"
)

// Drift severities.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// Drift statuses. Overridden, reverted and approved are terminal.
const (
	DriftUnresolved = "unresolved"
	DriftOverridden = "overridden"
	DriftReverted   = "reverted"
	DriftApproved   = "approved"
)

// Reconciliation item decisions.
const (
	DecisionPending  = "pending"
	DecisionApplied  = "applied"
	DecisionRejected = "rejected"
)

// Reconciliation confidence levels.
const (
	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
	ConfidenceLow    = "LOW"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Workspace struct {
	ID        string
	Name      string
	Slug      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clause struct {
	ID             string
	WorkspaceID    string
	Title          string
	Body           string
	Type           string
	Position       int
	IsSensitive    bool
	IsLocked       bool
	LockedBy       string
	LastModifiedBy string
	LastModifiedAt time.Time
}

// Variable is a value bound to exactly one clause. BaselineValue is nil until
// approval fixes it; afterwards it only changes through an explicit baseline
// override. Version backs optimistic concurrency on value writes.
type Variable struct {
	ID                 string
	WorkspaceID        string
	ClauseID           string
	Label              string
	Type               string
	Value              string
	Unit               string
	BaselineValue      *string
	BaselineApprovedAt *time.Time
	Version            int
	LastModifiedBy     string
	CreatedAt          time.Time
	LastModifiedAt     time.Time
}

// DriftItem records a divergence between a variable's baseline and current
// value. At most one unresolved item exists per variable; the partial unique
// index in the schema enforces that below the service layer.
type DriftItem struct {
	ID                 string
	WorkspaceID        string
	ClauseID           string
	VariableID         string
	Title              string
	Type               string
	Severity           string
	BaselineValue      string
	BaselineApprovedAt *time.Time
	CurrentValue       string
	CurrentModifiedAt  time.Time
	CurrentModifiedBy  string
	Status             string
	ApprovedBy         string
	ApprovedAt         *time.Time
	ApprovalReason     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ReconSession groups the items extracted from one uploaded markup.
type ReconSession struct {
	ID            string
	WorkspaceID   string
	FileName      string
	ObjectKey     string
	UploadedBy    string
	TotalItems    int
	AppliedCount  int
	RejectedCount int
	PendingCount  int
	CreatedAt     time.Time
}

type ReconItem struct {
	ID               string
	SessionID        string
	WorkspaceID      string
	IncomingSnippet  string
	TargetClauseID   string
	TargetVariableID string
	Confidence       string
	BaselineValue    string
	CurrentValue     string
	ProposedValue    string
	Decision         string
	DecisionReason   string
	DecidedBy        string
	DecidedAt        *time.Time
	CreatedAt        time.Time
}

// AuditEvent captures the before/after state of every mutation so the audit
// log can record a diff.
type AuditEvent struct {
	ID          int64
	WorkspaceID string
	ActorID     string
	ActorName   string
	Action      string
	EntityType  string
	EntityID    string
	BeforeValue string
	AfterValue  string
	Reason      string
	Category    string
	CreatedAt   time.Time
}

// PublishState tracks golden-record publication metadata per workspace.
type PublishState struct {
	WorkspaceID   string
	PublishCount  int
	LastPublishAt *time.Time
	LastExportAt  *time.Time
}

type OutlineItem struct {
	ClauseID      string
	Title         string
	Type          string
	Position      int
	IsSensitive   bool
	IsLocked      bool
	VariableCount int
	DriftCount    int
}

package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultClause ResultType = "clause"
	ResultDrift  ResultType = "drift"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	ClauseID    string     `json:"clauseId"`
	WorkspaceID string     `json:"workspaceId"`
	Severity    string     `json:"severity,omitempty"`
	Status      string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterWorkspaceID string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ClauseRecord is the data we index for a clause.
type ClauseRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
}

// DriftRecord is the data we index for a drift item.
type DriftRecord struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	BaselineValue string `json:"baselineValue"`
	CurrentValue  string `json:"currentValue"`
	Severity      string `json:"severity"`
	Status        string `json:"status"`
	ClauseID      string `json:"clauseId"`
	WorkspaceID   string `json:"workspaceId"`
}

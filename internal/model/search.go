package model

import "time"

// SearchStatus tracks the lifecycle of a search invocation.
type SearchStatus string

const (
	SearchPending   SearchStatus = "pending"
	SearchCompleted SearchStatus = "completed"
	SearchFailed    SearchStatus = "failed"
)

// SearchRecord is created when a search starts and finalized exactly once:
// pending -> completed|failed, immutable thereafter.
type SearchRecord struct {
	ID          int64        `json:"id" db:"id"`
	Query       string       `json:"query" db:"query"`
	City        string       `json:"city,omitempty" db:"city"`
	Ring        int          `json:"ring,omitempty" db:"ring"`
	Status      SearchStatus `json:"status" db:"status"`
	ResultCount int          `json:"result_count" db:"result_count"`
	LatencyMS   int          `json:"latency_ms" db:"latency_ms"`
	SessionID   string       `json:"session_id,omitempty" db:"session_id"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// SearchResult links a search to a company it discovered or touched.
type SearchResult struct {
	SearchID  int64 `json:"search_id" db:"search_id"`
	CompanyID int64 `json:"company_id" db:"company_id"`
	Rank      int   `json:"rank" db:"rank"`
}

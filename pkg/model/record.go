package model

import "time"

// RecordStatus marks the lifecycle state of a harvested record.
type RecordStatus string

const (
	RecordStatusOK                 RecordStatus = ""
	RecordStatusBlocked            RecordStatus = "blocked"
	RecordStatusError              RecordStatus = "error"
	RecordStatusFailedAfterRetries RecordStatus = "failed_after_retries"
)

// NicknameRetryExhausted is the sentinel nickname carried by a terminal
// failure record when the retry budget runs out.
const NicknameRetryExhausted = "RETRY_EXHAUSTED"

// ProfileRecord is one harvested profile detail page. URL is the unique key
// across all record sets. Records are immutable once written to a CSV row;
// corrections happen by reconciliation, never by in-place mutation.
type ProfileRecord struct {
	URL       string       `json:"url"`
	Nickname  string       `json:"nickname"`
	Canton    string       `json:"canton,omitempty"`
	City      string       `json:"city,omitempty"`
	Category  string       `json:"category,omitempty"`
	Phone     string       `json:"phone,omitempty"`
	Active    bool         `json:"active"`
	Certified bool         `json:"certified"`
	About     string       `json:"about,omitempty"`
	Visits    int          `json:"visits"`
	Likes     int          `json:"likes"`
	Followers int          `json:"followers"`
	Reviews   int          `json:"reviews"`
	Services  []string     `json:"services,omitempty"`
	Link      string       `json:"link,omitempty"`
	Status    RecordStatus `json:"status,omitempty"`

	// Diagnostics, populated only on terminal failure.
	LastError     string             `json:"lastError,omitempty"`
	LastDetection *BlockingDetection `json:"lastDetection,omitempty"`
}

// ListingRecord is one row discovered on a listing page.
type ListingRecord struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	ProfileURL string `json:"profileUrl"`
}

// CrawlJob describes one requested crawl cycle.
type CrawlJob struct {
	SessionID string    `json:"sessionId"`
	StartURL  string    `json:"startUrl"`
	MaxPages  int       `json:"maxPages"`
	Workers   int       `json:"workers"`
	QueuedAt  time.Time `json:"queuedAt"`
}

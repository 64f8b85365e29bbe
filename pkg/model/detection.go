package model

import "net/http"

// BlockType categorizes how a fetch attempt was judged to be blocked.
type BlockType string

const (
	BlockTypeHTTPStatus          BlockType = "HTTP_STATUS"
	BlockTypeChallengePage       BlockType = "CHALLENGE_PAGE"
	BlockTypeErrorPage           BlockType = "ERROR_PAGE"
	BlockTypeNavigationError     BlockType = "NAVIGATION_ERROR"
	BlockTypeCloudflareChallenge BlockType = "CLOUDFLARE_CHALLENGE"
	BlockTypeAccessDenied        BlockType = "ACCESS_DENIED"
	BlockTypeBlockedStatus       BlockType = "BLOCKED_STATUS"
	BlockTypeCloudflareRedirect  BlockType = "CLOUDFLARE_REDIRECT"
	BlockTypeIncompleteData      BlockType = "INCOMPLETE_DATA"
	BlockTypeNoData              BlockType = "NO_DATA"
)

// BlockingDetection is the verdict about one fetch attempt. Confidence is the
// raw additive accumulation of independent signals; it may exceed 1.0 and is
// never clamped before the threshold check. Computed fresh per attempt and
// never persisted on its own.
type BlockingDetection struct {
	IsBlocked  bool      `json:"isBlocked"`
	BlockType  BlockType `json:"blockType,omitempty"`
	Confidence float64   `json:"confidence"`
	Indicators []string  `json:"indicators,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
}

// FetchResult is what a PageFetcher produced for one navigation. A non-2xx
// status is still a result, not an error; only transport failures are errors.
type FetchResult struct {
	StatusCode int
	Headers    http.Header
	Content    string
	FinalURL   string
}

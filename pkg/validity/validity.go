package validity

import (
	"net/url"
	"strings"

	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
)

// challengeMarkers are phrases that, appearing inside extracted text fields,
// betray a challenge page that rendered with HTTP 200. This is the second
// line of defense behind the HTTP-level classifier.
var challengeMarkers = []string{
	"just a moment",
	"checking your browser",
	"cloudflare",
	"ddos protection",
	"verify you are human",
	"attention required",
}

// sentinelNicknames are placeholder values earlier stages write into the
// nickname field; exact match, including localized challenge titles.
var sentinelNicknames = map[string]bool{
	"ACCESS_DENIED":              true,
	"ERROR":                      true,
	"FAILED":                     true,
	model.NicknameRetryExhausted: true,
	"Just a moment...":           true,
	"Un momento...":              true,
	"Einen Moment...":            true,
}

var invalidStatuses = map[model.RecordStatus]bool{
	model.RecordStatusBlocked:            true,
	model.RecordStatusError:              true,
	model.RecordStatusFailedAfterRetries: true,
}

// cdnDomain is the protection provider's own domain; an outbound link
// pointing there is a redirect artifact, not profile data.
const cdnDomain = "cloudflare.com"

// Checker decides whether an extracted record reflects a real profile or a
// disguised block page. All methods are pure functions over the record.
type Checker struct{}

// NewChecker creates a validity checker.
func NewChecker() *Checker {
	return &Checker{}
}

// IsValid reports whether the record is eligible for persistence. Rules are
// applied in order; any match makes the record invalid.
func (c *Checker) IsValid(record *model.ProfileRecord) bool {
	nickname := strings.ToLower(record.Nickname)
	about := strings.ToLower(record.About)
	for _, marker := range challengeMarkers {
		if strings.Contains(nickname, marker) || strings.Contains(about, marker) {
			return false
		}
	}

	if sentinelNicknames[record.Nickname] {
		return false
	}

	if invalidStatuses[record.Status] {
		return false
	}

	if len(strings.TrimSpace(record.Nickname)) < 2 {
		return false
	}

	if record.Link != "" && linksToCDN(record.Link) {
		return false
	}

	return true
}

// DetermineBlockType maps an invalid record back to a coarse block category.
// Logging and statistics only; it never drives control flow.
func (c *Checker) DetermineBlockType(record *model.ProfileRecord) model.BlockType {
	if isEmptyRecord(record) {
		return model.BlockTypeNoData
	}

	nickname := strings.ToLower(record.Nickname)
	about := strings.ToLower(record.About)
	for _, marker := range challengeMarkers {
		if strings.Contains(nickname, marker) || strings.Contains(about, marker) {
			return model.BlockTypeCloudflareChallenge
		}
	}

	if record.Nickname == "ACCESS_DENIED" {
		return model.BlockTypeAccessDenied
	}

	if invalidStatuses[record.Status] {
		return model.BlockTypeBlockedStatus
	}

	if record.Link != "" && linksToCDN(record.Link) {
		return model.BlockTypeCloudflareRedirect
	}

	return model.BlockTypeIncompleteData
}

func isEmptyRecord(record *model.ProfileRecord) bool {
	return record.Nickname == "" &&
		record.About == "" &&
		record.Canton == "" &&
		record.City == "" &&
		record.Phone == "" &&
		record.Link == "" &&
		record.Status == model.RecordStatusOK
}

func linksToCDN(link string) bool {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return strings.Contains(strings.ToLower(link), cdnDomain)
	}
	host := strings.ToLower(u.Hostname())
	return host == cdnDomain || strings.HasSuffix(host, "."+cdnDomain)
}

package detection

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
	"github.com/lantuyan/crawler-f1-sub000/pkg/stats"
	"go.uber.org/zap"
)

// Signal weights. Confidence accumulates additively from independent
// evidence; no single signal is authoritative and the raw sum is never
// clamped before the threshold check.
const (
	weightHTTPStatus     = 0.7
	weightChallenge      = 0.3
	weightErrorPhrase    = 0.4
	weightThinContent    = 0.2
	weightCDNFingerprint = 0.1

	blockedThreshold = 0.5

	// Content shorter than this that is not a full HTML document is treated
	// as a thin-content signal.
	minContentLength = 500
)

// blockedStatusCodes are the HTTP statuses the CDN-protection layer serves
// when it refuses a request outright.
var blockedStatusCodes = map[int]bool{
	403: true,
	503: true,
	520: true,
	521: true,
	522: true,
	523: true,
	524: true,
	525: true,
	526: true,
	527: true,
	530: true,
}

// challengePhrases mark interstitial challenge pages. Matching is
// case-insensitive and each match compounds the confidence.
var challengePhrases = []string{
	"checking your browser",
	"cloudflare ray id",
	"cf-browser-verification",
	"just a moment",
	"ddos protection by",
	"please wait while we verify",
	"verify you are human",
}

// errorPhrases mark denial and error pages served instead of content.
var errorPhrases = []string{
	"error 1020",
	"access denied",
	"blocked by cloudflare",
	"rate limited",
	"attention required",
	"you have been blocked",
	"why have i been blocked",
}

// Classifier inspects one fetch attempt and produces a blocking verdict.
type Classifier struct {
	stats  stats.Collector
	logger *zap.Logger
}

// NewClassifier creates a classifier reporting to the given collector.
func NewClassifier(collector stats.Collector, logger *zap.Logger) *Classifier {
	if collector == nil {
		collector = stats.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		stats:  collector,
		logger: logger,
	}
}

// Classify produces a verdict for one fetch attempt from its HTTP status,
// response headers and content. BlockType priority: a blocking HTTP status
// wins, otherwise the first content category that matched.
func (c *Classifier) Classify(result *model.FetchResult) *model.BlockingDetection {
	c.stats.RecordRequest()

	detection := &model.BlockingDetection{
		StatusCode: result.StatusCode,
	}

	hardSignal := false
	if blockedStatusCodes[result.StatusCode] {
		detection.BlockType = model.BlockTypeHTTPStatus
		detection.Confidence += weightHTTPStatus
		detection.Indicators = append(detection.Indicators, fmt.Sprintf("blocking HTTP status %d", result.StatusCode))
		hardSignal = true
	}

	if result.Content != "" {
		lower := strings.ToLower(result.Content)

		for _, phrase := range challengePhrases {
			if strings.Contains(lower, phrase) {
				if detection.BlockType == "" {
					detection.BlockType = model.BlockTypeChallengePage
				}
				detection.Confidence += weightChallenge
				detection.Indicators = append(detection.Indicators, fmt.Sprintf("challenge phrase %q", phrase))
			}
		}

		for _, phrase := range errorPhrases {
			if strings.Contains(lower, phrase) {
				if detection.BlockType == "" {
					detection.BlockType = model.BlockTypeErrorPage
				}
				detection.Confidence += weightErrorPhrase
				detection.Indicators = append(detection.Indicators, fmt.Sprintf("error phrase %q", phrase))
			}
		}

		if len(result.Content) < minContentLength && !looksLikeFullDocument(lower) {
			detection.Confidence += weightThinContent
			detection.Indicators = append(detection.Indicators, "minimal content length")
		}
	}

	if names := cdnFingerprints(result.Headers); len(names) > 0 {
		detection.Confidence += weightCDNFingerprint
		detection.Indicators = append(detection.Indicators, "cdn headers: "+strings.Join(names, ", "))
	}

	detection.IsBlocked = hardSignal || detection.Confidence >= blockedThreshold

	if detection.IsBlocked {
		c.stats.RecordBlocked(detection.BlockType)
		c.logger.Warn("Blocking detected",
			zap.String("block_type", string(detection.BlockType)),
			zap.Float64("confidence", detection.Confidence),
			zap.Int("status_code", result.StatusCode),
			zap.Strings("indicators", detection.Indicators))
	}

	return detection
}

// looksLikeFullDocument reports whether lowered content reads as a complete
// HTML page rather than a fragment or an interstitial stub.
func looksLikeFullDocument(lower string) bool {
	if strings.Contains(lower, "</html>") {
		return true
	}
	return strings.Contains(lower, "<html") && strings.Contains(lower, "<body")
}

// cdnFingerprints returns the CDN-protection headers present in the response.
func cdnFingerprints(headers http.Header) []string {
	if headers == nil {
		return nil
	}

	var names []string
	if headers.Get("Cf-Ray") != "" {
		names = append(names, "cf-ray")
	}
	if headers.Get("Cf-Cache-Status") != "" {
		names = append(names, "cf-cache-status")
	}
	if strings.Contains(strings.ToLower(headers.Get("Server")), "cloudflare") {
		names = append(names, "server")
	}
	return names
}

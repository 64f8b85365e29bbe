package fetch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
	"go.uber.org/zap"
)

// FieldRule maps one profile field to the CSS selector that locates it.
type FieldRule struct {
	Field     string `json:"field"`
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
}

// ExtractionRules describes how to pull a profile record out of a detail
// page.
type ExtractionRules struct {
	Fields []FieldRule `json:"fields"`
}

// DefaultProfileRules returns the selector set for the target site's
// profile pages.
func DefaultProfileRules() ExtractionRules {
	return ExtractionRules{
		Fields: []FieldRule{
			{Field: "nickname", Selector: "h1"},
			{Field: "canton", Selector: ".profile-location .canton"},
			{Field: "city", Selector: ".profile-location .city"},
			{Field: "category", Selector: ".profile-category"},
			{Field: "phone", Selector: ".profile-contact .phone"},
			{Field: "active", Selector: ".badge-active"},
			{Field: "certified", Selector: ".badge-certified"},
			{Field: "about", Selector: ".about-me"},
			{Field: "visits", Selector: ".profile-stats .visits"},
			{Field: "likes", Selector: ".profile-stats .likes"},
			{Field: "followers", Selector: ".profile-stats .followers"},
			{Field: "reviews", Selector: ".profile-stats .reviews"},
			{Field: "services", Selector: ".services-list li"},
			{Field: "link", Selector: "link[rel=canonical]", Attribute: "href"},
		},
	}
}

// Extractor parses a fetched page into a profile record.
type Extractor interface {
	Extract(result *model.FetchResult) (*model.ProfileRecord, error)
}

// ProfileExtractor applies extraction rules with goquery.
type ProfileExtractor struct {
	rules  ExtractionRules
	logger *zap.Logger
}

// NewProfileExtractor creates an extractor for the given rule set.
func NewProfileExtractor(rules ExtractionRules, logger *zap.Logger) *ProfileExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileExtractor{rules: rules, logger: logger}
}

// Extract builds a profile record from the page. Missing fields yield empty
// values; only an unparseable document is an error. Validity of the record
// is judged by the caller.
func (e *ProfileExtractor) Extract(result *model.FetchResult) (*model.ProfileRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.Content))
	if err != nil {
		return nil, fmt.Errorf("parse profile page: %w", err)
	}

	record := &model.ProfileRecord{
		URL:  result.FinalURL,
		Link: result.FinalURL,
	}

	for _, rule := range e.rules.Fields {
		selection := doc.Find(rule.Selector)
		switch rule.Field {
		case "nickname":
			record.Nickname = fieldValue(selection, rule)
		case "canton":
			record.Canton = fieldValue(selection, rule)
		case "city":
			record.City = fieldValue(selection, rule)
		case "category":
			record.Category = fieldValue(selection, rule)
		case "phone":
			record.Phone = fieldValue(selection, rule)
		case "about":
			record.About = fieldValue(selection, rule)
		case "active":
			record.Active = selection.Length() > 0
		case "certified":
			record.Certified = selection.Length() > 0
		case "visits":
			record.Visits = parseCount(fieldValue(selection, rule))
		case "likes":
			record.Likes = parseCount(fieldValue(selection, rule))
		case "followers":
			record.Followers = parseCount(fieldValue(selection, rule))
		case "reviews":
			record.Reviews = parseCount(fieldValue(selection, rule))
		case "services":
			selection.Each(func(_ int, item *goquery.Selection) {
				if service := strings.TrimSpace(item.Text()); service != "" {
					record.Services = append(record.Services, service)
				}
			})
		case "link":
			if value := fieldValue(selection, rule); value != "" {
				record.Link = value
			}
		default:
			e.logger.Debug("Unknown extraction field", zap.String("field", rule.Field))
		}
	}

	return record, nil
}

// fieldValue reads the first match as trimmed text, or a named attribute.
func fieldValue(selection *goquery.Selection, rule FieldRule) string {
	if selection.Length() == 0 {
		return ""
	}
	if rule.Attribute != "" {
		value, _ := selection.First().Attr(rule.Attribute)
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(selection.First().Text())
}

// parseCount reads a human formatted counter like "1,234" as an integer.
func parseCount(text string) int {
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	count, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return count
}

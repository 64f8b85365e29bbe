// Package discovery walks the site's listing pages and collects the
// profile URLs a crawl cycle will visit.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/lantuyan/crawler-f1-sub000/pkg/csvstore"
	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
)

// Selectors locates listing rows and pagination on the target site.
type Selectors struct {
	Row         string `json:"row"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	ProfileLink string `json:"profile_link"`
	NextPage    string `json:"next_page"`
}

// DefaultSelectors returns the selector set for the target site's listing
// pages.
func DefaultSelectors() Selectors {
	return Selectors{
		Row:         ".listing-item",
		Name:        ".listing-name",
		Location:    ".listing-location",
		ProfileLink: "a.profile-link",
		NextPage:    "a.pagination-next",
	}
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config tunes a listing crawl.
type Config struct {
	StartURL  string
	MaxPages  int
	Delay     time.Duration
	UserAgent string
}

// ListingCrawler pages through the listing index, deduplicating profiles by
// URL. Discovered rows are also appended to the listing CSV when an
// appender is attached.
type ListingCrawler struct {
	config    Config
	selectors Selectors
	appender  *csvstore.Appender
	logger    *zap.Logger
}

// NewListingCrawler creates a listing crawler. The appender may be nil to
// skip CSV persistence.
func NewListingCrawler(config Config, selectors Selectors, appender *csvstore.Appender, logger *zap.Logger) *ListingCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 50
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	return &ListingCrawler{
		config:    config,
		selectors: selectors,
		appender:  appender,
		logger:    logger,
	}
}

// Discover walks listing pages from startURL until pagination runs out,
// the page budget is spent, or the context ends. Empty startURL and zero
// maxPages fall back to the configured values. Cancellation is cooperative:
// it is checked between pages, an in-flight page finishes.
func (lc *ListingCrawler) Discover(ctx context.Context, startURL string, maxPages int) ([]model.ListingRecord, error) {
	if startURL == "" {
		startURL = lc.config.StartURL
	}
	if maxPages <= 0 {
		maxPages = lc.config.MaxPages
	}

	start, err := url.Parse(startURL)
	if err != nil || start.Host == "" {
		return nil, fmt.Errorf("invalid start url %q", startURL)
	}

	// Domain checks compare hostnames without the port, so ported hosts
	// must be registered portless.
	collector := colly.NewCollector(
		colly.UserAgent(lc.config.UserAgent),
		colly.AllowedDomains(start.Hostname()),
	)
	collector.Limit(&colly.LimitRule{
		DomainGlob: "*",
		Delay:      lc.config.Delay,
	})

	var (
		records  []model.ListingRecord
		seen     = make(map[string]struct{})
		nextPage string
		pageErr  error
	)

	collector.OnHTML(lc.selectors.Row, func(e *colly.HTMLElement) {
		profileURL := e.Request.AbsoluteURL(e.ChildAttr(lc.selectors.ProfileLink, "href"))
		if profileURL == "" {
			return
		}
		if _, dup := seen[profileURL]; dup {
			return
		}
		seen[profileURL] = struct{}{}

		record := model.ListingRecord{
			Name:       e.ChildText(lc.selectors.Name),
			Location:   e.ChildText(lc.selectors.Location),
			ProfileURL: profileURL,
		}
		records = append(records, record)

		if lc.appender != nil {
			if result := lc.appender.Append(csvstore.ListingRow(record)); result.Err != nil {
				lc.logger.Warn("Failed to persist listing row",
					zap.String("profile_url", profileURL),
					zap.Error(result.Err))
			}
		}
	})

	collector.OnHTML(lc.selectors.NextPage, func(e *colly.HTMLElement) {
		nextPage = e.Request.AbsoluteURL(e.Attr("href"))
	})

	collector.OnError(func(r *colly.Response, err error) {
		pageErr = err
		lc.logger.Warn("Listing page fetch failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err))
	})

	pageURL := startURL
	pagesVisited := 0
	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			lc.logger.Info("Listing discovery stopped by cancellation",
				zap.Int("pages_visited", pagesVisited))
			break
		}

		nextPage = ""
		pageErr = nil
		if err := collector.Visit(pageURL); err != nil {
			pageErr = err
		}
		collector.Wait()
		pagesVisited++

		if pageErr != nil && page == 1 && len(records) == 0 {
			return nil, fmt.Errorf("listing discovery failed on first page %s: %w", pageURL, pageErr)
		}
		if nextPage == "" || nextPage == pageURL {
			break
		}
		pageURL = nextPage
	}

	lc.logger.Info("Listing discovery completed",
		zap.Int("pages_visited", pagesVisited),
		zap.Int("profiles_found", len(records)))

	return records, nil
}

package service

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/lantuyan/crawler-f1-sub000/pkg/config"
	"github.com/lantuyan/crawler-f1-sub000/pkg/crawler"
	"github.com/lantuyan/crawler-f1-sub000/pkg/csvstore"
	apperrors "github.com/lantuyan/crawler-f1-sub000/pkg/errors"
	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
	"github.com/lantuyan/crawler-f1-sub000/pkg/reconciliation"
	"github.com/lantuyan/crawler-f1-sub000/pkg/retry"
	"github.com/lantuyan/crawler-f1-sub000/pkg/stats"
	"github.com/lantuyan/crawler-f1-sub000/pkg/storage"
)

// StartCrawlRequest defines the input for starting a crawl session
type StartCrawlRequest struct {
	StartURL string `json:"startUrl,omitempty" validate:"omitempty,url"`
	MaxPages int    `json:"maxPages,omitempty" validate:"omitempty,gte=0"`
	Workers  int    `json:"workers,omitempty" validate:"omitempty,gte=0"`
}

// StartCrawlResponse defines the response for starting a crawl session
type StartCrawlResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	QueuedAt  string `json:"queuedAt"`
}

// StopCrawlResponse defines the response for stopping a crawl session
type StopCrawlResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	StoppedAt string `json:"stoppedAt"`
}

// StatsResponse defines the response for the stats snapshot
type StatsResponse struct {
	Active       bool             `json:"active"`
	SessionID    string           `json:"sessionId,omitempty"`
	StartedAt    string           `json:"startedAt,omitempty"`
	BreakerState string           `json:"breakerState,omitempty"`
	Stats        stats.Snapshot   `json:"stats"`
	LastSession  *crawler.Summary `json:"lastSession,omitempty"`
	LastError    string           `json:"lastError,omitempty"`
}

// ReconcileRequest defines the input for a manual reconciliation. Empty
// paths mean the configured detail pair.
type ReconcileRequest struct {
	CurrentPath string `json:"currentPath,omitempty"`
	StoredPath  string `json:"storedPath,omitempty"`
}

// ReconcileResponse defines the response for a reconciliation run
type ReconcileResponse struct {
	NewRecords        int    `json:"newRecords"`
	DuplicatesRemoved int    `json:"duplicatesRemoved"`
	ObsoleteRecords   int    `json:"obsoleteRecords"`
	TotalCurrent      int    `json:"totalCurrent"`
	TotalStored       int    `json:"totalStored"`
	Changed           bool   `json:"changed"`
	Duration          string `json:"duration"`
	Message           string `json:"message"`
}

// ListProfilesRequest defines the input for listing mirrored profiles
type ListProfilesRequest struct {
	Canton     *string `json:"canton,omitempty"`
	City       *string `json:"city,omitempty"`
	Category   *string `json:"category,omitempty"`
	ActiveOnly bool    `json:"activeOnly,omitempty"`
	Limit      int     `json:"limit,omitempty" validate:"omitempty,gte=0,lte=500"`
	Offset     int     `json:"offset,omitempty" validate:"omitempty,gte=0"`
}

// ProfileResponse represents a single mirrored profile
type ProfileResponse struct {
	URL       string   `json:"url"`
	Nickname  string   `json:"nickname"`
	Canton    string   `json:"canton,omitempty"`
	City      string   `json:"city,omitempty"`
	Category  string   `json:"category,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Active    bool     `json:"active"`
	Certified bool     `json:"certified"`
	About     string   `json:"about,omitempty"`
	Visits    int      `json:"visits"`
	Likes     int      `json:"likes"`
	Followers int      `json:"followers"`
	Reviews   int      `json:"reviews"`
	Services  []string `json:"services,omitempty"`
	Link      string   `json:"link,omitempty"`
	Status    string   `json:"status,omitempty"`
	FirstSeen string   `json:"firstSeen"`
	LastSeen  string   `json:"lastSeen"`
}

// ListProfilesResponse defines the response for listing mirrored profiles
type ListProfilesResponse struct {
	Profiles []ProfileResponse `json:"profiles"`
	Total    int               `json:"total"`
}

// Service defines the crawler control service interface
type Service interface {
	StartCrawl(ctx context.Context, req StartCrawlRequest) (StartCrawlResponse, error)
	StopCrawl(ctx context.Context) (StopCrawlResponse, error)
	GetStats(ctx context.Context) (StatsResponse, error)
	Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResponse, error)
	ListProfiles(ctx context.Context, req ListProfilesRequest) (ListProfilesResponse, error)
	GetProfile(ctx context.Context, profileURL string) (ProfileResponse, error)
}

// service implements the Service interface
type service struct {
	manager    *crawler.Manager
	pair       *csvstore.FilePair
	reconciler *reconciliation.CSVReconciler
	stats      stats.Collector
	store      storage.ProfileStore
	breaker    *retry.CircuitBreaker
	cfg        config.Config
	logger     *zap.Logger
}

// NewService creates a new Service instance with all dependencies. store and
// breaker may be nil when the mirror or the site guard is disabled.
func NewService(
	manager *crawler.Manager,
	pair *csvstore.FilePair,
	reconciler *reconciliation.CSVReconciler,
	statsCollector stats.Collector,
	store storage.ProfileStore,
	breaker *retry.CircuitBreaker,
	cfg config.Config,
	logger *zap.Logger,
) Service {
	if statsCollector == nil {
		statsCollector = stats.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		manager:    manager,
		pair:       pair,
		reconciler: reconciler,
		stats:      statsCollector,
		store:      store,
		breaker:    breaker,
		cfg:        cfg,
		logger:     logger,
	}
}

// StartCrawl starts a new crawl session
func (s *service) StartCrawl(ctx context.Context, req StartCrawlRequest) (StartCrawlResponse, error) {
	s.logger.Info("Starting crawl session",
		zap.String("start_url", req.StartURL),
		zap.Int("max_pages", req.MaxPages),
		zap.Int("workers", req.Workers))

	if err := s.validateStartCrawlRequest(req); err != nil {
		return StartCrawlResponse{}, err
	}

	job := model.CrawlJob{
		StartURL: req.StartURL,
		MaxPages: req.MaxPages,
		Workers:  req.Workers,
	}

	sessionID, err := s.manager.StartCrawl(job)
	if err != nil {
		s.logger.Warn("Crawl session rejected", zap.Error(err))
		return StartCrawlResponse{}, err
	}

	response := StartCrawlResponse{
		SessionID: sessionID,
		Status:    "started",
		Message:   "Crawl session started",
		QueuedAt:  time.Now().Format(time.RFC3339),
	}

	s.logger.Info("Crawl session started",
		zap.String("session_id", sessionID),
		zap.Duration("worst_case_per_url", s.cfg.WorstCasePerURL()))

	return response, nil
}

// validateStartCrawlRequest validates the start crawl request
func (s *service) validateStartCrawlRequest(req StartCrawlRequest) error {
	if req.StartURL == "" && s.cfg.TargetBaseURL == "" {
		return apperrors.NewAppError(apperrors.ErrCodeValidation,
			"No start URL given and no target base URL configured")
	}
	if req.StartURL != "" {
		parsed, err := url.Parse(req.StartURL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return apperrors.NewAppError(apperrors.ErrCodeValidation,
				"Start URL must be an absolute http or https URL").
				WithDetails(req.StartURL)
		}
	}
	if req.MaxPages < 0 {
		return apperrors.NewAppError(apperrors.ErrCodeValidation, "maxPages must not be negative")
	}
	if req.Workers < 0 {
		return apperrors.NewAppError(apperrors.ErrCodeValidation, "workers must not be negative")
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/lantuyan/crawler-f1-sub000/pkg/errors"
	"github.com/lantuyan/crawler-f1-sub000/pkg/storage"
)

// StopCrawl cancels the active crawl session
func (s *service) StopCrawl(ctx context.Context) (StopCrawlResponse, error) {
	status := s.manager.Status()

	s.logger.Info("Stopping crawl session", zap.String("session_id", status.SessionID))

	if err := s.manager.StopCrawl(); err != nil {
		s.logger.Warn("Stop requested with no active session")
		return StopCrawlResponse{}, err
	}

	response := StopCrawlResponse{
		SessionID: status.SessionID,
		Status:    "stopping",
		Message:   "Cancellation requested, workers drain at the next URL boundary",
		StoppedAt: time.Now().Format(time.RFC3339),
	}

	s.logger.Info("Crawl session stop requested", zap.String("session_id", status.SessionID))

	return response, nil
}

// GetStats returns a snapshot of the crawl counters and session state
func (s *service) GetStats(ctx context.Context) (StatsResponse, error) {
	status := s.manager.Status()

	response := StatsResponse{
		Active:      status.Active,
		SessionID:   status.SessionID,
		Stats:       s.stats.Snapshot(),
		LastSession: status.LastSummary,
		LastError:   status.LastError,
	}
	if status.StartedAt != nil {
		response.StartedAt = status.StartedAt.Format(time.RFC3339)
	}
	if s.breaker != nil {
		response.BreakerState = s.breaker.State().String()
	}

	return response, nil
}

// Reconcile runs a manual reconciliation over the detail pair, or over
// explicit paths when the request names them. Rejected while a crawl
// session is active because the cycle reconciles on its own.
func (s *service) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResponse, error) {
	if s.manager.IsActive() {
		return ReconcileResponse{}, apperrors.ErrCrawlActive
	}

	currentPath := req.CurrentPath
	storedPath := req.StoredPath
	configured := currentPath == "" && storedPath == ""
	if configured {
		currentPath = s.pair.Current
		storedPath = s.pair.Stored
	}
	if currentPath == "" || storedPath == "" {
		return ReconcileResponse{}, apperrors.NewAppError(apperrors.ErrCodeValidation,
			"Both currentPath and storedPath must be set, or neither")
	}

	s.logger.Info("Manual reconciliation requested",
		zap.String("current", currentPath),
		zap.String("stored", storedPath))

	if configured {
		s.pair.Lock()
		defer s.pair.Unlock()
	}

	report, err := s.reconciler.Reconcile(ctx, currentPath, storedPath)
	if err != nil {
		s.logger.Error("Manual reconciliation failed", zap.Error(err))
		return ReconcileResponse{}, apperrors.WrapError(err,
			apperrors.ErrCodeReconcileFailed, "Reconciliation failed")
	}

	response := ReconcileResponse{
		NewRecords:        report.NewRecords,
		DuplicatesRemoved: report.DuplicatesRemoved,
		ObsoleteRecords:   report.ObsoleteRecords,
		TotalCurrent:      report.TotalCurrent,
		TotalStored:       report.TotalStored,
		Changed:           report.Changed(),
		Duration:          report.Duration.String(),
		Message:           "Reconciliation completed",
	}

	s.logger.Info("Manual reconciliation completed",
		zap.Int("new_records", report.NewRecords),
		zap.Int("duplicates_removed", report.DuplicatesRemoved),
		zap.Int("obsolete_records", report.ObsoleteRecords))

	return response, nil
}

// ListProfiles queries the relational mirror with optional filters
func (s *service) ListProfiles(ctx context.Context, req ListProfilesRequest) (ListProfilesResponse, error) {
	if s.store == nil {
		return ListProfilesResponse{}, apperrors.ErrMirrorDisabled
	}

	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Limit > 500 {
		req.Limit = 500
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	filters := storage.ProfileFilters{
		Canton:     req.Canton,
		City:       req.City,
		Category:   req.Category,
		ActiveOnly: req.ActiveOnly,
		Limit:      req.Limit,
		Offset:     req.Offset,
	}

	profiles, err := s.store.ListProfiles(ctx, filters)
	if err != nil {
		s.logger.Error("Failed to list mirrored profiles", zap.Error(err))
		return ListProfilesResponse{}, apperrors.WrapError(err,
			apperrors.ErrCodeStorageError, "Failed to list profiles")
	}

	responses := make([]ProfileResponse, len(profiles))
	for i, profile := range profiles {
		responses[i] = profileResponse(profile)
	}

	return ListProfilesResponse{
		Profiles: responses,
		Total:    len(responses),
	}, nil
}

// GetProfile retrieves a single mirrored profile by URL
func (s *service) GetProfile(ctx context.Context, profileURL string) (ProfileResponse, error) {
	if s.store == nil {
		return ProfileResponse{}, apperrors.ErrMirrorDisabled
	}
	if profileURL == "" {
		return ProfileResponse{}, apperrors.NewAppError(apperrors.ErrCodeValidation, "url is required")
	}

	profile, err := s.store.GetProfileByURL(ctx, profileURL)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ProfileResponse{}, apperrors.NewAppError(apperrors.ErrCodeNotFound,
				"Profile not found").WithDetails(profileURL)
		}
		s.logger.Error("Failed to get mirrored profile", zap.String("url", profileURL), zap.Error(err))
		return ProfileResponse{}, apperrors.WrapError(err,
			apperrors.ErrCodeStorageError, "Failed to get profile")
	}

	return profileResponse(profile), nil
}

// profileResponse converts a mirror row to the response format
func profileResponse(p *storage.Profile) ProfileResponse {
	return ProfileResponse{
		URL:       p.URL,
		Nickname:  p.Nickname,
		Canton:    p.Canton,
		City:      p.City,
		Category:  p.Category,
		Phone:     p.Phone,
		Active:    p.Active,
		Certified: p.Certified,
		About:     p.About,
		Visits:    p.Visits,
		Likes:     p.Likes,
		Followers: p.Followers,
		Reviews:   p.Reviews,
		Services:  []string(p.Services),
		Link:      p.Link,
		Status:    p.Status,
		FirstSeen: p.FirstSeen.Format(time.RFC3339),
		LastSeen:  p.LastSeen.Format(time.RFC3339),
	}
}

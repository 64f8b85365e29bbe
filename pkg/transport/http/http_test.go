package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lantuyan/crawler-f1-sub000/pkg/endpoint"
	apperrors "github.com/lantuyan/crawler-f1-sub000/pkg/errors"
	"github.com/lantuyan/crawler-f1-sub000/pkg/service"
)

const testAPIKey = "test-api-key-12345"

// stubService implements service.Service with canned responses
type stubService struct {
	startResp     service.StartCrawlResponse
	startErr      error
	stopResp      service.StopCrawlResponse
	stopErr       error
	statsResp     service.StatsResponse
	reconcileResp service.ReconcileResponse
	reconcileErr  error
	listResp      service.ListProfilesResponse
	listErr       error
	profileResp   service.ProfileResponse
	profileErr    error

	lastStart      service.StartCrawlRequest
	lastReconcile  service.ReconcileRequest
	lastList       service.ListProfilesRequest
	lastProfileURL string
}

func (ss *stubService) StartCrawl(ctx context.Context, req service.StartCrawlRequest) (service.StartCrawlResponse, error) {
	ss.lastStart = req
	return ss.startResp, ss.startErr
}

func (ss *stubService) StopCrawl(ctx context.Context) (service.StopCrawlResponse, error) {
	return ss.stopResp, ss.stopErr
}

func (ss *stubService) GetStats(ctx context.Context) (service.StatsResponse, error) {
	return ss.statsResp, nil
}

func (ss *stubService) Reconcile(ctx context.Context, req service.ReconcileRequest) (service.ReconcileResponse, error) {
	ss.lastReconcile = req
	return ss.reconcileResp, ss.reconcileErr
}

func (ss *stubService) ListProfiles(ctx context.Context, req service.ListProfilesRequest) (service.ListProfilesResponse, error) {
	ss.lastList = req
	return ss.listResp, ss.listErr
}

func (ss *stubService) GetProfile(ctx context.Context, profileURL string) (service.ProfileResponse, error) {
	ss.lastProfileURL = profileURL
	return ss.profileResp, ss.profileErr
}

// stubHealth implements service.HealthService with a fixed status
type stubHealth struct {
	status service.HealthStatus
}

func (sh *stubHealth) CheckHealth(ctx context.Context) service.HealthResponse {
	return service.HealthResponse{
		Status:    sh.status,
		Timestamp: time.Now(),
		Version:   "test",
		Uptime:    "1s",
	}
}

func (sh *stubHealth) CheckOutputFiles(ctx context.Context) service.ComponentHealth {
	return service.ComponentHealth{Name: "output_files", Status: sh.status}
}

func (sh *stubHealth) CheckDatabase(ctx context.Context) service.ComponentHealth {
	return service.ComponentHealth{Name: "database", Status: sh.status}
}

func (sh *stubHealth) CheckCrawlTarget(ctx context.Context) service.ComponentHealth {
	return service.ComponentHealth{Name: "crawl_target", Status: sh.status}
}

func newTestAPI(t *testing.T, svc service.Service, health service.HealthService) *httptest.Server {
	t.Helper()

	endpoints := endpoint.MakeEndpoints(svc, health)
	handler := NewHTTPHandler(endpoints, HTTPConfig{
		APIKey:            testAPIKey,
		MaxBodySize:       1 << 20,
		RequestsPerSecond: 100,
		BurstSize:         100,
		Logger:            zap.NewNop(),
		AllowedOrigins:    []string{"*"},
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// callAPI makes an authenticated JSON request against the test server
func callAPI(t *testing.T, server *httptest.Server, method, path string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req, err := http.NewRequest(method, server.URL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

func TestStartCrawlRoute(t *testing.T) {
	svc := &stubService{
		startResp: service.StartCrawlResponse{SessionID: "sess-1", Status: "started"},
	}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodPost, "/crawl",
		service.StartCrawlRequest{StartURL: "https://example.test/girls", MaxPages: 2})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var started service.StartCrawlResponse
	decodeBody(t, resp, &started)
	if started.SessionID != "sess-1" {
		t.Errorf("Expected session sess-1, got %q", started.SessionID)
	}
	if svc.lastStart.StartURL != "https://example.test/girls" {
		t.Errorf("Service saw start URL %q", svc.lastStart.StartURL)
	}
	if svc.lastStart.MaxPages != 2 {
		t.Errorf("Service saw maxPages %d, want 2", svc.lastStart.MaxPages)
	}
}

func TestStartCrawlRouteValidatesTheURL(t *testing.T) {
	svc := &stubService{}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodPost, "/crawl",
		service.StartCrawlRequest{StartURL: "/relative/only"})

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", resp.StatusCode)
	}

	var errResp apperrors.ErrorResponse
	decodeBody(t, resp, &errResp)
	if errResp.Code != apperrors.ErrCodeValidation {
		t.Errorf("Expected code VALIDATION_ERROR, got %q", errResp.Code)
	}
}

func TestStartCrawlRouteMapsConflicts(t *testing.T) {
	svc := &stubService{startErr: apperrors.ErrCrawlActive}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodPost, "/crawl", service.StartCrawlRequest{})

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", resp.StatusCode)
	}

	var errResp apperrors.ErrorResponse
	decodeBody(t, resp, &errResp)
	if errResp.Code != apperrors.ErrCodeCrawlActive {
		t.Errorf("Expected code CRAWL_ACTIVE, got %q", errResp.Code)
	}
}

func TestStartCrawlRouteRejectsBrokenJSON(t *testing.T) {
	server := newTestAPI(t, &stubService{}, &stubHealth{status: service.HealthStatusHealthy})

	req, err := http.NewRequest(http.MethodPost, server.URL+"/crawl", bytes.NewReader([]byte(`{"startUrl": `)))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestStopCrawlRoute(t *testing.T) {
	svc := &stubService{
		stopResp: service.StopCrawlResponse{SessionID: "sess-1", Status: "stopping"},
	}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodPost, "/crawl/stop", nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var stopped service.StopCrawlResponse
	decodeBody(t, resp, &stopped)
	if stopped.Status != "stopping" {
		t.Errorf("Expected status 'stopping', got %q", stopped.Status)
	}
}

func TestStopCrawlRouteWithoutASession(t *testing.T) {
	svc := &stubService{stopErr: apperrors.ErrCrawlNotActive}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodPost, "/crawl/stop", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", resp.StatusCode)
	}
}

func TestStatsRoute(t *testing.T) {
	svc := &stubService{
		statsResp: service.StatsResponse{Active: true, SessionID: "sess-1"},
	}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodGet, "/stats", nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var stats service.StatsResponse
	decodeBody(t, resp, &stats)
	if !stats.Active || stats.SessionID != "sess-1" {
		t.Errorf("Unexpected stats response: %+v", stats)
	}
}

func TestReconcileRoute(t *testing.T) {
	svc := &stubService{
		reconcileResp: service.ReconcileResponse{NewRecords: 3, Changed: true, Message: "Reconciliation completed"},
	}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodPost, "/reconcile",
		service.ReconcileRequest{CurrentPath: "/data/current.csv", StoredPath: "/data/stored.csv"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var report service.ReconcileResponse
	decodeBody(t, resp, &report)
	if report.NewRecords != 3 {
		t.Errorf("Expected 3 new records, got %d", report.NewRecords)
	}
	if svc.lastReconcile.CurrentPath != "/data/current.csv" {
		t.Errorf("Service saw current path %q", svc.lastReconcile.CurrentPath)
	}
}

func TestListProfilesRouteDecodesTheQuery(t *testing.T) {
	svc := &stubService{
		listResp: service.ListProfilesResponse{Profiles: []service.ProfileResponse{{Nickname: "Anna"}}, Total: 1},
	}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodGet, "/profiles?canton=ZH&city=Zurich&active=true&limit=5&offset=2", nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var list service.ListProfilesResponse
	decodeBody(t, resp, &list)
	if list.Total != 1 {
		t.Errorf("Expected total 1, got %d", list.Total)
	}

	if svc.lastList.Canton == nil || *svc.lastList.Canton != "ZH" {
		t.Errorf("Service saw canton %v", svc.lastList.Canton)
	}
	if svc.lastList.City == nil || *svc.lastList.City != "Zurich" {
		t.Errorf("Service saw city %v", svc.lastList.City)
	}
	if !svc.lastList.ActiveOnly {
		t.Error("Expected activeOnly to be set")
	}
	if svc.lastList.Limit != 5 || svc.lastList.Offset != 2 {
		t.Errorf("Service saw limit=%d offset=%d", svc.lastList.Limit, svc.lastList.Offset)
	}
}

func TestListProfilesRouteRejectsBadQueries(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "non-boolean active", query: "?active=banana"},
		{name: "limit above the cap", query: "?limit=9999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestAPI(t, &stubService{}, &stubHealth{status: service.HealthStatusHealthy})

			resp := callAPI(t, server, http.MethodGet, "/profiles"+tt.query, nil)
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestGetProfileRoute(t *testing.T) {
	svc := &stubService{
		profileResp: service.ProfileResponse{URL: "https://example.test/p/anna", Nickname: "Anna"},
	}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodGet, "/profile?url=https%3A%2F%2Fexample.test%2Fp%2Fanna", nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var profile service.ProfileResponse
	decodeBody(t, resp, &profile)
	if profile.Nickname != "Anna" {
		t.Errorf("Expected Anna, got %q", profile.Nickname)
	}
	if svc.lastProfileURL != "https://example.test/p/anna" {
		t.Errorf("Service saw URL %q", svc.lastProfileURL)
	}
}

func TestGetProfileRouteRequiresAURL(t *testing.T) {
	server := newTestAPI(t, &stubService{}, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodGet, "/profile", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestGetProfileRouteMapsNotFound(t *testing.T) {
	svc := &stubService{
		profileErr: apperrors.NewAppError(apperrors.ErrCodeNotFound, "Profile not found"),
	}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodGet, "/profile?url=https%3A%2F%2Fexample.test%2Fp%2Fghost", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestProfileRoutesWithoutAMirror(t *testing.T) {
	svc := &stubService{listErr: apperrors.ErrMirrorDisabled}
	server := newTestAPI(t, svc, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodGet, "/profiles", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("Expected status 501, got %d", resp.StatusCode)
	}
}

func TestRoutesRequireTheAPIKey(t *testing.T) {
	server := newTestAPI(t, &stubService{}, &stubHealth{status: service.HealthStatusHealthy})

	resp, err := http.Get(server.URL + "/stats")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without an API key, got %d", resp.StatusCode)
	}
}

func TestHealthRouteNeedsNoKey(t *testing.T) {
	server := newTestAPI(t, &stubService{}, &stubHealth{status: service.HealthStatusHealthy})

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Health check request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var health service.HealthResponse
	decodeBody(t, resp, &health)
	if health.Status != service.HealthStatusHealthy {
		t.Errorf("Expected status 'healthy', got %q", health.Status)
	}
}

func TestHealthRouteReports503WhenUnhealthy(t *testing.T) {
	server := newTestAPI(t, &stubService{}, &stubHealth{status: service.HealthStatusUnhealthy})

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Health check request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
}

func TestReadinessRoute(t *testing.T) {
	tests := []struct {
		name       string
		status     service.HealthStatus
		wantCode   int
		wantStatus string
	}{
		{name: "ready", status: service.HealthStatusHealthy, wantCode: http.StatusOK, wantStatus: "ready"},
		{name: "degraded still ready", status: service.HealthStatusDegraded, wantCode: http.StatusOK, wantStatus: "ready"},
		{name: "not ready", status: service.HealthStatusUnhealthy, wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestAPI(t, &stubService{}, &stubHealth{status: tt.status})

			resp, err := http.Get(server.URL + "/health/ready")
			if err != nil {
				t.Fatalf("Readiness request failed: %v", err)
			}

			if resp.StatusCode != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, resp.StatusCode)
			}

			var body map[string]string
			decodeBody(t, resp, &body)
			if body["status"] != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, body["status"])
			}
		})
	}
}

func TestLivenessRoute(t *testing.T) {
	server := newTestAPI(t, &stubService{}, &stubHealth{status: service.HealthStatusUnhealthy})

	resp, err := http.Get(server.URL + "/health/live")
	if err != nil {
		t.Fatalf("Liveness request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Liveness must stay 200 while the process runs, got %d", resp.StatusCode)
	}

	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "alive" {
		t.Errorf("Expected status 'alive', got %q", body["status"])
	}
}

func TestResponseEnvelopeHeaders(t *testing.T) {
	server := newTestAPI(t, &stubService{}, &stubHealth{status: service.HealthStatusHealthy})

	req, err := http.NewRequest(http.MethodGet, server.URL+"/health", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Origin", "https://dashboard.example.test")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected a request ID header")
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.test" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestUnknownMethodOnARoute(t *testing.T) {
	server := newTestAPI(t, &stubService{}, &stubHealth{status: service.HealthStatusHealthy})

	resp := callAPI(t, server, http.MethodGet, "/crawl", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", resp.StatusCode)
	}
}

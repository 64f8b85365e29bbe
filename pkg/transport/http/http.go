package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	httptransport "github.com/go-kit/kit/transport/http"
	"go.uber.org/zap"

	"github.com/lantuyan/crawler-f1-sub000/pkg/endpoint"
	apperrors "github.com/lantuyan/crawler-f1-sub000/pkg/errors"
	"github.com/lantuyan/crawler-f1-sub000/pkg/middleware"
	"github.com/lantuyan/crawler-f1-sub000/pkg/service"
)

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	APIKey            string
	MaxBodySize       int64
	RequestsPerSecond int
	BurstSize         int
	Logger            *zap.Logger
	AllowedOrigins    []string
}

// NewHTTPHandler sets up HTTP handlers for the endpoints with middleware.
func NewHTTPHandler(endpoints endpoint.Endpoints, config HTTPConfig) http.Handler {
	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(encodeError),
	}

	mux := http.NewServeMux()

	mux.Handle("POST /crawl", httptransport.NewServer(
		endpoints.StartCrawl,
		decodeStartCrawlRequest,
		encodeResponse,
		options...,
	))

	mux.Handle("POST /crawl/stop", httptransport.NewServer(
		endpoints.StopCrawl,
		decodeEmptyRequest,
		encodeResponse,
		options...,
	))

	mux.Handle("GET /stats", httptransport.NewServer(
		endpoints.GetStats,
		decodeEmptyRequest,
		encodeResponse,
		options...,
	))

	mux.Handle("POST /reconcile", httptransport.NewServer(
		endpoints.Reconcile,
		decodeReconcileRequest,
		encodeResponse,
		options...,
	))

	mux.Handle("GET /profiles", httptransport.NewServer(
		endpoints.ListProfiles,
		decodeListProfilesRequest,
		encodeResponse,
		options...,
	))

	mux.Handle("GET /profile", httptransport.NewServer(
		endpoints.GetProfile,
		decodeGetProfileRequest,
		encodeResponse,
		options...,
	))

	// Health endpoints carry no authentication
	mux.Handle("GET /health", httptransport.NewServer(
		endpoints.CheckHealth,
		decodeEmptyRequest,
		encodeHealthResponse,
		options...,
	))

	mux.Handle("GET /health/ready", httptransport.NewServer(
		endpoints.CheckHealth,
		decodeEmptyRequest,
		encodeReadinessResponse,
		options...,
	))

	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	})

	// Apply middleware stack
	var handler http.Handler = mux

	// Apply middleware in reverse order (last applied = first executed)
	handler = middleware.ErrorLogging(config.Logger)(handler)
	handler = middleware.RequestLogging(middleware.LoggingConfig{
		Logger:           config.Logger,
		LogRequestBody:   false,
		LogResponseBody:  false,
		SensitiveHeaders: []string{"authorization", "x-api-key"},
	})(handler)
	handler = middleware.StructuredLogging(config.Logger)(handler)
	handler = middleware.RequestValidation(middleware.ValidationConfig{
		MaxBodySize: config.MaxBodySize,
		Logger:      config.Logger,
	})(handler)
	handler = middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: config.RequestsPerSecond,
		BurstSize:         config.BurstSize,
		Logger:            config.Logger,
	})(handler)
	handler = middleware.APIKeyAuth(middleware.AuthConfig{
		APIKey: config.APIKey,
		Logger: config.Logger,
	})(handler)
	handler = middleware.CORS(config.AllowedOrigins)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID()(handler)

	return handler
}

func decodeStartCrawlRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req service.StartCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.NewAppError(apperrors.ErrCodeBadRequest, "Invalid request body").WithCause(err)
	}
	if err := middleware.ValidateStruct(req); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeValidation, "Invalid request").WithDetails(err.Error())
	}
	return req, nil
}

func decodeReconcileRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req service.ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.NewAppError(apperrors.ErrCodeBadRequest, "Invalid request body").WithCause(err)
	}
	return req, nil
}

func decodeListProfilesRequest(_ context.Context, r *http.Request) (interface{}, error) {
	req := service.ListProfilesRequest{}

	query := r.URL.Query()

	if canton := query.Get("canton"); canton != "" {
		req.Canton = &canton
	}

	if city := query.Get("city"); city != "" {
		req.City = &city
	}

	if category := query.Get("category"); category != "" {
		req.Category = &category
	}

	if active := query.Get("active"); active != "" {
		parsed, err := strconv.ParseBool(active)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeValidation, "active must be a boolean")
		}
		req.ActiveOnly = parsed
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			req.Offset = offset
		}
	}

	if err := middleware.ValidateStruct(req); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeValidation, "Invalid request").WithDetails(err.Error())
	}

	return req, nil
}

func decodeGetProfileRequest(_ context.Context, r *http.Request) (interface{}, error) {
	profileURL := r.URL.Query().Get("url")
	if profileURL == "" {
		return nil, apperrors.NewAppError(apperrors.ErrCodeValidation, "url query parameter is required")
	}
	return profileURL, nil
}

func decodeEmptyRequest(_ context.Context, r *http.Request) (interface{}, error) {
	return nil, nil
}

func encodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(response)
}

// encodeHealthResponse maps the aggregate health status to the HTTP status.
func encodeHealthResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if health, ok := response.(service.HealthResponse); ok && health.Status == service.HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	return json.NewEncoder(w).Encode(response)
}

// encodeReadinessResponse reduces the health report to ready/not-ready.
func encodeReadinessResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	health, ok := response.(service.HealthResponse)
	if !ok || health.Status == service.HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
	}
	return json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// encodeError writes coded application errors with their HTTP status.
func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")

	if appErr := apperrors.GetAppError(err); appErr != nil {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(appErr.ToErrorResponse())
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

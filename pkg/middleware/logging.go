package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Context key types for logging
type loggingContextKey string

const (
	loggerKey        loggingContextKey = "logger"
	requestLoggerKey loggingContextKey = "request_logger"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Logger           *zap.Logger
	LogRequestBody   bool
	LogResponseBody  bool
	SensitiveHeaders []string // Headers to redact in logs
	SensitiveFields  []string // JSON fields to redact in logs
}

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
	body       []byte
	logBody    bool
}

func newResponseWriter(w http.ResponseWriter, logBody bool) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		logBody:        logBody,
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size

	if rw.logBody {
		rw.body = append(rw.body, data...)
	}

	return size, err
}

// Hijack implements http.Hijacker interface
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// RequestLogging middleware logs HTTP requests and responses
func RequestLogging(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := RequestIDFromContext(r.Context())

			wrapped := newResponseWriter(w, config.LogResponseBody)

			logRequest(config, r, requestID)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)

			logResponse(config, r, wrapped, duration, requestID)
		})
	}
}

// logRequest logs the incoming HTTP request
func logRequest(config LoggingConfig, r *http.Request, requestID string) {
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("query", r.URL.RawQuery),
		zap.String("remote_addr", getClientIP(r)),
		zap.String("user_agent", r.UserAgent()),
		zap.Int64("content_length", r.ContentLength),
	}

	// Add sanitized headers
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			if isSensitiveHeader(name, config.SensitiveHeaders) {
				headers[name] = "[REDACTED]"
			} else {
				headers[name] = values[0]
			}
		}
	}
	fields = append(fields, zap.Any("headers", headers))

	config.Logger.Info("HTTP request", fields...)
}

// logResponse logs the HTTP response
func logResponse(config LoggingConfig, r *http.Request, rw *responseWriter, duration time.Duration, requestID string) {
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status_code", rw.statusCode),
		zap.Int("response_size", rw.size),
		zap.Duration("duration", duration),
	}

	// Add response body if logging is enabled and body is not too large
	if config.LogResponseBody && len(rw.body) > 0 && len(rw.body) < 10240 {
		fields = append(fields, zap.String("response_body", string(rw.body)))
	}

	// Log with appropriate level based on status code
	if rw.statusCode >= 500 {
		config.Logger.Error("HTTP response", fields...)
	} else if rw.statusCode >= 400 {
		config.Logger.Warn("HTTP response", fields...)
	} else {
		config.Logger.Info("HTTP response", fields...)
	}
}

// StructuredLogging middleware adds structured logging context
func StructuredLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), loggerKey, logger)

			requestLogger := logger.With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", getClientIP(r)),
			)

			ctx = context.WithValue(ctx, requestLoggerKey, requestLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext returns the request-scoped logger set by
// StructuredLogging, or a no-op logger.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(requestLoggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// ErrorLogging middleware logs panics and errors
func ErrorLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID := RequestIDFromContext(r.Context())

					logger.Error("HTTP handler panic",
						zap.String("request_id", requestID),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("remote_addr", getClientIP(r)),
						zap.Any("panic", err),
					)

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// isSensitiveHeader checks if a header should be redacted
func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	headerLower := strings.ToLower(headerName)

	defaultSensitive := []string{
		"authorization",
		"x-api-key",
		"cookie",
		"set-cookie",
		"x-auth-token",
		"x-access-token",
	}

	for _, sensitive := range defaultSensitive {
		if headerLower == sensitive {
			return true
		}
	}

	for _, sensitive := range sensitiveHeaders {
		if strings.ToLower(sensitive) == headerLower {
			return true
		}
	}

	return false
}

// Package fetch retrieves pages from the target site over HTTP and parses
// profile content out of them.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// PageFetcher retrieves pages on behalf of the retry orchestrator.
type PageFetcher interface {
	// Fetch performs a full page load. Non-2xx responses are returned as
	// results, not errors; only transport failures produce an error.
	Fetch(ctx context.Context, url string) (*model.FetchResult, error)
	// FetchContent re-reads the page body, used after a challenge has had
	// time to settle.
	FetchContent(ctx context.Context, url string) (string, error)
}

// SessionHandle exposes the mutable per-session identity that
// countermeasures rotate between attempts.
type SessionHandle interface {
	SetUserAgent(ua string)
	SetHeaders(headers map[string]string)
	ClearCookiesAndStorage()
}

// Options tunes an HTTP fetcher session.
type Options struct {
	Timeout       time.Duration
	MaxBodyBytes  int64
	MaxRedirects  int
	RatePerSecond float64
	RateBurst     int
}

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 2 << 20
	defaultMaxRedirects = 10
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// HTTPFetcher is a single crawl session backed by net/http. It implements
// both PageFetcher and SessionHandle; workers hold one session each so that
// identity rotation on one worker never disturbs another.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	options Options
	logger  *zap.Logger

	mu        sync.Mutex
	userAgent string
	headers   map[string]string
}

// NewHTTPFetcher creates a session with its own cookie jar and transport.
func NewHTTPFetcher(options Options, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.Timeout <= 0 {
		options.Timeout = defaultTimeout
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = defaultMaxBodyBytes
	}
	if options.MaxRedirects <= 0 {
		options.MaxRedirects = defaultMaxRedirects
	}

	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: options.Timeout,
	}

	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   options.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= options.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", options.MaxRedirects)
			}
			return nil
		},
	}

	var limiter *rate.Limiter
	if options.RatePerSecond > 0 {
		burst := options.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.RatePerSecond), burst)
	}

	return &HTTPFetcher{
		client:    client,
		limiter:   limiter,
		options:   options,
		logger:    logger,
		userAgent: defaultUserAgent,
	}
}

// Fetch performs a GET against url and returns status, headers and decoded
// body. The caller classifies the result; a blocked or failed page is still
// a result here.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*model.FetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	f.mu.Lock()
	req.Header.Set("User-Agent", f.userAgent)
	for name, value := range f.headers {
		req.Header.Set(name, value)
	}
	f.mu.Unlock()

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp, f.options.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}

	f.logger.Debug("Fetched page",
		zap.String("url", url),
		zap.Int("status_code", resp.StatusCode),
		zap.Int("content_length", len(body)),
		zap.Duration("duration", time.Since(start)))

	return &model.FetchResult{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Content:    body,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// FetchContent re-reads the page and returns only its body.
func (f *HTTPFetcher) FetchContent(ctx context.Context, url string) (string, error) {
	result, err := f.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// SetUserAgent changes the User-Agent sent on subsequent requests.
func (f *HTTPFetcher) SetUserAgent(ua string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userAgent = ua
}

// SetHeaders replaces the extra headers sent on subsequent requests.
func (f *HTTPFetcher) SetHeaders(headers map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = make(map[string]string, len(headers))
	for name, value := range headers {
		f.headers[name] = value
	}
}

// ClearCookiesAndStorage discards every cookie held by the session.
func (f *HTTPFetcher) ClearCookiesAndStorage() {
	jar, _ := cookiejar.New(nil)
	f.mu.Lock()
	f.client.Jar = jar
	f.mu.Unlock()
}

// decodeBody reads at most maxBytes of the response body, converting to
// UTF-8 based on the declared content type.
func decodeBody(resp *http.Response, maxBytes int64) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return "", err
	}
	reader, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		// Undecodable charset declarations fall back to the raw bytes.
		return string(raw), nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(raw), nil
	}
	return string(decoded), nil
}

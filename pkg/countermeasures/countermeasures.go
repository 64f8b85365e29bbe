package countermeasures

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lantuyan/crawler-f1-sub000/pkg/fetch"
	"go.uber.org/zap"
)

// User-Agent pool spanning the major desktop browsers and operating systems.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// Accept-Language pool matching the target site's audience.
var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"de-CH,de;q=0.9,en;q=0.8",
	"fr-CH,fr;q=0.9,en;q=0.8",
	"it-CH,it;q=0.9,en;q=0.8",
}

// Config tunes the rotator.
type Config struct {
	// PauseBase is slept after each rotation to pace retries; 0 disables the
	// pause. Deliberately fixed, not exponential.
	PauseBase time.Duration
	// PauseJitter adds up to this much random extra sleep.
	PauseJitter time.Duration
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64
}

// Rotator applies anti-detection countermeasures to a session between retry
// attempts. It only prepares the session for the next attempt; it never
// decides whether that attempt happens.
type Rotator struct {
	config Config
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRotator creates a rotator.
func NewRotator(config Config, logger *zap.Logger) *Rotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rotator{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Rotate rotates the session identity: fresh user agent, matching header
// set, cleared cookies and storage, then an optional fixed-plus-jitter pause.
func (r *Rotator) Rotate(ctx context.Context, session fetch.SessionHandle, attempt int) {
	r.mu.Lock()
	ua := userAgents[r.rng.Intn(len(userAgents))]
	lang := acceptLanguages[r.rng.Intn(len(acceptLanguages))]
	var jitter time.Duration
	if r.config.PauseJitter > 0 {
		jitter = time.Duration(r.rng.Int63n(int64(r.config.PauseJitter)))
	}
	r.mu.Unlock()

	session.SetUserAgent(ua)
	session.SetHeaders(standardHeaders(lang))
	session.ClearCookiesAndStorage()

	r.logger.Debug("Rotated crawl identity",
		zap.Int("attempt", attempt),
		zap.String("user_agent", ua),
		zap.String("accept_language", lang))

	if pause := r.config.PauseBase + jitter; pause > 0 {
		select {
		case <-time.After(pause):
		case <-ctx.Done():
		}
	}
}

// standardHeaders builds the header set sent alongside the rotated identity.
func standardHeaders(acceptLanguage string) map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           acceptLanguage,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Upgrade-Insecure-Requests": "1",
	}
}

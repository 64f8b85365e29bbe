package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	// HTTP control surface
	HTTPPort string
	APIKey   string

	// Crawl target
	TargetBaseURL    string
	ListingStartPath string

	// Output stores
	OutputDir  string
	CurrentCSV string
	StoredCSV  string
	ListingCSV string

	// Crawl behavior
	CrawlWorkers         int
	MaxPages             int
	MaxRetryAttempts     int
	RetryDelay           time.Duration
	ChallengeSettleDelay time.Duration
	FetchTimeout         time.Duration
	RateLimitRPS         float64
	RateLimitBurst       int

	// Site circuit breaker
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// Maintenance
	MirrorSyncInterval time.Duration

	// Optional extraction rules file
	CrawlRulesFile string

	// Optional relational mirror
	DatabaseURL             string
	DatabaseMaxOpenConns    int
	DatabaseConnMaxLifetime time.Duration

	// Control surface rate limiting
	APIRateLimitRPS   int
	APIRateLimitBurst int
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() Config {
	return Config{
		HTTPPort: getEnv("PORT", "8080"),
		APIKey:   getEnv("API_KEY", ""),

		TargetBaseURL:    getEnv("TARGET_BASE_URL", ""),
		ListingStartPath: getEnv("LISTING_START_PATH", "/"),

		OutputDir:  getEnv("OUTPUT_DIR", "data"),
		CurrentCSV: getEnv("CURRENT_CSV", "current.csv"),
		StoredCSV:  getEnv("STORED_CSV", "stored.csv"),
		ListingCSV: getEnv("LISTING_CSV", "listing.csv"),

		CrawlWorkers:         getEnvInt("CRAWL_WORKERS", 4),
		MaxPages:             getEnvInt("MAX_PAGES", 50),
		MaxRetryAttempts:     getEnvInt("MAX_RETRY_ATTEMPTS", 8),
		RetryDelay:           getEnvDuration("RETRY_DELAY", 100*time.Millisecond),
		ChallengeSettleDelay: getEnvDuration("CHALLENGE_SETTLE_DELAY", 100*time.Millisecond),
		FetchTimeout:         getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		RateLimitRPS:         getEnvFloat("RATE_LIMIT_RPS", 2.0),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 1),

		BreakerMaxFailures:  getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerResetTimeout: getEnvDuration("BREAKER_RESET_TIMEOUT", 60*time.Second),

		MirrorSyncInterval: getEnvDuration("MIRROR_SYNC_INTERVAL", time.Hour),

		CrawlRulesFile: getEnv("CRAWL_RULES_FILE", ""),

		DatabaseURL:             getEnv("DATABASE_URL", ""),
		DatabaseMaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 10),
		DatabaseConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),

		APIRateLimitRPS:   getEnvInt("API_RATE_LIMIT_RPS", 10),
		APIRateLimitBurst: getEnvInt("API_RATE_LIMIT_BURST", 20),
	}
}

// CurrentPath returns the full path of the current detail CSV.
func (c Config) CurrentPath() string {
	return filepath.Join(c.OutputDir, c.CurrentCSV)
}

// StoredPath returns the full path of the stored detail CSV.
func (c Config) StoredPath() string {
	return filepath.Join(c.OutputDir, c.StoredCSV)
}

// ListingPath returns the full path of the listing CSV.
func (c Config) ListingPath() string {
	return filepath.Join(c.OutputDir, c.ListingCSV)
}

// MirrorEnabled reports whether the relational mirror is configured.
func (c Config) MirrorEnabled() bool {
	return c.DatabaseURL != ""
}

// WorstCasePerURL is the upper bound on wall-clock time one URL can consume
// in the retry loop, derived so operators can reason about session latency.
func (c Config) WorstCasePerURL() time.Duration {
	return time.Duration(c.MaxRetryAttempts) * (c.FetchTimeout + c.RetryDelay)
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvFloat(key string, defaultVal float64) float64 {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return defaultVal
	}
	return v
}

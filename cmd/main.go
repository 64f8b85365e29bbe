package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lantuyan/crawler-f1-sub000/logging"
	"github.com/lantuyan/crawler-f1-sub000/pkg/config"
	"github.com/lantuyan/crawler-f1-sub000/pkg/countermeasures"
	"github.com/lantuyan/crawler-f1-sub000/pkg/crawler"
	"github.com/lantuyan/crawler-f1-sub000/pkg/csvstore"
	"github.com/lantuyan/crawler-f1-sub000/pkg/detection"
	"github.com/lantuyan/crawler-f1-sub000/pkg/discovery"
	"github.com/lantuyan/crawler-f1-sub000/pkg/endpoint"
	"github.com/lantuyan/crawler-f1-sub000/pkg/fetch"
	"github.com/lantuyan/crawler-f1-sub000/pkg/reconciliation"
	"github.com/lantuyan/crawler-f1-sub000/pkg/retry"
	"github.com/lantuyan/crawler-f1-sub000/pkg/service"
	"github.com/lantuyan/crawler-f1-sub000/pkg/stats"
	"github.com/lantuyan/crawler-f1-sub000/pkg/storage"
	mirrorsync "github.com/lantuyan/crawler-f1-sub000/pkg/sync"
	httptransport "github.com/lantuyan/crawler-f1-sub000/pkg/transport/http"
	"github.com/lantuyan/crawler-f1-sub000/pkg/validity"
)

var version = "latest"

func main() {
	viper.AutomaticEnv()
	viper.SetDefault(logging.LogLevelKey, "info")
	viper.SetDefault(logging.LogFormatKey, logging.LogFormatConsole)
	viper.SetDefault("LOG_FILE", "logs/crawler.log")

	// Initialize logger
	logger := logging.SetupLogger(viper.GetString("LOG_FILE"))
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// Load configuration
	cfg := config.LoadConfig()
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.Fatal("Failed to create output directory",
			zap.String("dir", cfg.OutputDir),
			zap.Error(err))
	}

	rules, err := config.LoadRules(cfg.CrawlRulesFile)
	if err != nil {
		logger.Fatal("Failed to load crawl rules",
			zap.String("file", cfg.CrawlRulesFile),
			zap.Error(err))
	}

	// Optional relational mirror
	var (
		db    *storage.DB
		store storage.ProfileStore
	)
	if cfg.MirrorEnabled() {
		db, err = storage.NewDB(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to mirror database", zap.Error(err))
		}
		defer db.Close()

		if err := db.RunMigrations(); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}
		store = storage.NewProfileStore(db, logger)
	}

	// Collaborators shared across workers
	statsCollector := stats.NewCrawlStats(logger)
	classifier := detection.NewClassifier(statsCollector, logger)
	checker := validity.NewChecker()
	rotator := countermeasures.NewRotator(countermeasures.Config{}, logger)

	pair := csvstore.NewFilePair(cfg.CurrentPath(), cfg.StoredPath())
	currentAppender := csvstore.NewAppender(pair.Current, csvstore.ProfileSchema(), logger)
	listingAppender := csvstore.NewAppender(cfg.ListingPath(), csvstore.ListingSchema(), logger)
	reconciler := reconciliation.NewCSVReconciler(csvstore.ProfileSchema(), logger)

	breakerConfig := retry.DefaultCircuitBreakerConfig("target-site")
	breakerConfig.MaxFailures = cfg.BreakerMaxFailures
	breakerConfig.ResetTimeout = cfg.BreakerResetTimeout
	breakerConfig.Logger = logger
	breaker := retry.NewCircuitBreaker(breakerConfig)

	var listingDelay time.Duration
	if cfg.RateLimitRPS > 0 {
		listingDelay = time.Duration(float64(time.Second) / cfg.RateLimitRPS)
	}
	discoverer := discovery.NewListingCrawler(discovery.Config{
		StartURL: cfg.TargetBaseURL + cfg.ListingStartPath,
		MaxPages: cfg.MaxPages,
		Delay:    listingDelay,
	}, listingSelectors(rules), listingAppender, logger)

	// Each worker gets its own session and retry loop so that identity
	// rotation on one worker never disturbs another's cookies.
	factory := func(workerID int) (crawler.ProfileFetcher, error) {
		workerLogger := logger.With(zap.Int("worker_id", workerID))
		fetcher := fetch.NewHTTPFetcher(fetch.Options{
			Timeout:       cfg.FetchTimeout,
			RatePerSecond: cfg.RateLimitRPS,
			RateBurst:     cfg.RateLimitBurst,
		}, workerLogger)
		extractor := fetch.NewProfileExtractor(extractionRules(rules), workerLogger)

		return retry.NewOrchestrator(retry.OrchestratorConfig{
			MaxAttempts:          cfg.MaxRetryAttempts,
			RetryDelay:           cfg.RetryDelay,
			ChallengeSettleDelay: cfg.ChallengeSettleDelay,
		}, retry.OrchestratorDeps{
			Fetcher:    fetcher,
			Session:    fetcher,
			Extractor:  extractor,
			Classifier: classifier,
			Checker:    checker,
			Rotator:    rotator,
			Stats:      statsCollector,
			Logger:     workerLogger,
		}), nil
	}

	engine := crawler.NewEngine(cfg.CrawlWorkers, crawler.EngineDeps{
		Discoverer: discoverer,
		Factory:    factory,
		Appender:   currentAppender,
		Pair:       pair,
		Reconciler: reconciler,
		Breaker:    breaker,
		Store:      store,
		Stats:      statsCollector,
		Logger:     logger,
	})
	manager := crawler.NewManager(engine, logger)

	// Periodic stored-CSV to mirror re-sync
	if store != nil {
		syncService := mirrorsync.NewMirrorSyncService(pair, store, manager, logger, cfg.MirrorSyncInterval)
		if err := syncService.Start(context.Background()); err != nil {
			logger.Fatal("Failed to start mirror sync service", zap.Error(err))
		}
		defer syncService.Stop()
	}

	// Initialize services
	svc := service.NewService(manager, pair, reconciler, statsCollector, store, breaker, cfg, logger)
	healthSvc := service.NewHealthService(db, breaker, cfg, logger, version)

	// Create endpoints
	endpoints := endpoint.MakeEndpoints(svc, healthSvc)

	// Set up HTTP handler
	handler := httptransport.NewHTTPHandler(endpoints, httptransport.HTTPConfig{
		APIKey:            cfg.APIKey,
		MaxBodySize:       1 << 20,
		RequestsPerSecond: cfg.APIRateLimitRPS,
		BurstSize:         cfg.APIRateLimitBurst,
		Logger:            logger,
		AllowedOrigins:    []string{"*"},
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("Starting server",
			zap.String("port", cfg.HTTPPort),
			zap.String("target", cfg.TargetBaseURL),
			zap.Bool("mirror_enabled", cfg.MirrorEnabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Handle signals
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for a signal
	<-sigchan
	logger.Info("Received termination signal. Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	// An active cycle finishes its in-flight attempts before we let the
	// deferred teardown close the mirror connection under it.
	manager.Shutdown()
	logger.Info("Shutdown complete")
}

// extractionRules maps the optional rules file onto the extractor
// configuration, falling back to the built-in selector set.
func extractionRules(rules *config.RulesConfig) fetch.ExtractionRules {
	if rules == nil || len(rules.Profile) == 0 {
		return fetch.DefaultProfileRules()
	}
	fields := make([]fetch.FieldRule, len(rules.Profile))
	for i, rule := range rules.Profile {
		fields[i] = fetch.FieldRule{
			Field:     rule.Field,
			Selector:  rule.Selector,
			Attribute: rule.Attribute,
		}
	}
	return fetch.ExtractionRules{Fields: fields}
}

// listingSelectors maps the optional rules file onto the listing crawler
// selectors, falling back to the built-in set.
func listingSelectors(rules *config.RulesConfig) discovery.Selectors {
	if rules == nil || rules.Listing.Row == "" {
		return discovery.DefaultSelectors()
	}
	return discovery.Selectors{
		Row:         rules.Listing.Row,
		Name:        rules.Listing.Name,
		Location:    rules.Listing.Location,
		ProfileLink: rules.Listing.ProfileLink,
		NextPage:    rules.Listing.NextPage,
	}
}

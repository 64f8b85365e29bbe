// Package crawler runs complete crawl cycles: listing discovery, parallel
// profile harvesting through the retry orchestrator, CSV reconciliation
// and the optional database mirror.
package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lantuyan/crawler-f1-sub000/pkg/csvstore"
	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
	"github.com/lantuyan/crawler-f1-sub000/pkg/reconciliation"
	"github.com/lantuyan/crawler-f1-sub000/pkg/retry"
	"github.com/lantuyan/crawler-f1-sub000/pkg/stats"
	"github.com/lantuyan/crawler-f1-sub000/pkg/storage"
)

// Discoverer finds the profile URLs a cycle should visit.
type Discoverer interface {
	Discover(ctx context.Context, startURL string, maxPages int) ([]model.ListingRecord, error)
}

// ProfileFetcher runs the never-throws retry loop for one URL.
type ProfileFetcher interface {
	FetchWithRetry(ctx context.Context, url string) (*model.ProfileRecord, *model.BlockingDetection)
}

// FetcherFactory builds one independent fetch pipeline per worker, so that
// identity rotation on one worker never disturbs another's session.
type FetcherFactory func(workerID int) (ProfileFetcher, error)

// Summary is the outcome of one crawl cycle.
type Summary struct {
	SessionID          string                 `json:"sessionId"`
	StartedAt          time.Time              `json:"startedAt"`
	Duration           time.Duration          `json:"duration"`
	ProfilesDiscovered int                    `json:"profilesDiscovered"`
	ProfilesHarvested  int                    `json:"profilesHarvested"`
	ProfilesFailed     int                    `json:"profilesFailed"`
	SkippedByBreaker   int                    `json:"skippedByBreaker"`
	Cancelled          bool                   `json:"cancelled"`
	Reconciliation     *reconciliation.Report `json:"reconciliation,omitempty"`
	Stats              stats.Snapshot         `json:"stats"`
}

// Engine wires one crawl cycle end to end. Workers process disjoint slices
// of the discovered URL list; the CSV pair and the stats collector are the
// only shared mutable state between them.
type Engine struct {
	workers    int
	discoverer Discoverer
	factory    FetcherFactory
	appender   *csvstore.Appender
	pair       *csvstore.FilePair
	reconciler *reconciliation.CSVReconciler
	breaker    *retry.CircuitBreaker
	store      storage.ProfileStore
	stats      stats.Collector
	logger     *zap.Logger
}

// EngineDeps collects the engine's collaborators. Breaker and Store may be
// nil; Stats and Logger fall back to no-ops.
type EngineDeps struct {
	Discoverer Discoverer
	Factory    FetcherFactory
	Appender   *csvstore.Appender
	Pair       *csvstore.FilePair
	Reconciler *reconciliation.CSVReconciler
	Breaker    *retry.CircuitBreaker
	Store      storage.ProfileStore
	Stats      stats.Collector
	Logger     *zap.Logger
}

// NewEngine creates a crawl engine running the given number of parallel
// workers per cycle.
func NewEngine(workers int, deps EngineDeps) *Engine {
	if workers <= 0 {
		workers = 1
	}
	if deps.Stats == nil {
		deps.Stats = stats.Nop()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		workers:    workers,
		discoverer: deps.Discoverer,
		factory:    deps.Factory,
		appender:   deps.Appender,
		pair:       deps.Pair,
		reconciler: deps.Reconciler,
		breaker:    deps.Breaker,
		store:      deps.Store,
		stats:      deps.Stats,
		logger:     deps.Logger,
	}
}

// tally aggregates worker outcomes. Workers share it under its mutex.
type tally struct {
	mu        sync.Mutex
	harvested int
	failed    int
	skipped   int
	valids    []*model.ProfileRecord
}

// Run executes one crawl cycle. Worker failures are data, not errors; Run
// fails only when discovery yields nothing usable or reconciliation cannot
// rewrite the CSV pair. The returned summary is non-nil even on error.
func (e *Engine) Run(ctx context.Context, job model.CrawlJob) (*Summary, error) {
	summary := &Summary{
		SessionID: job.SessionID,
		StartedAt: time.Now(),
	}
	if summary.SessionID == "" {
		summary.SessionID = uuid.New().String()
	}

	workers := e.workers
	if job.Workers > 0 {
		workers = job.Workers
	}

	e.logger.Info("Crawl cycle starting",
		zap.String("session_id", summary.SessionID),
		zap.String("start_url", job.StartURL),
		zap.Int("max_pages", job.MaxPages),
		zap.Int("workers", workers))

	// Each cycle harvests into a fresh current file; reconciliation is what
	// carries survivors forward into stored.
	if err := e.resetCurrent(); err != nil {
		summary.Duration = time.Since(summary.StartedAt)
		return summary, fmt.Errorf("reset current file: %w", err)
	}

	listings, err := e.discoverer.Discover(ctx, job.StartURL, job.MaxPages)
	if err != nil {
		summary.Duration = time.Since(summary.StartedAt)
		summary.Cancelled = ctx.Err() != nil
		return summary, fmt.Errorf("listing discovery: %w", err)
	}
	summary.ProfilesDiscovered = len(listings)

	urls := make([]string, 0, len(listings))
	for _, listing := range listings {
		urls = append(urls, listing.ProfileURL)
	}

	t := &tally{}
	var wg sync.WaitGroup
	for workerID, slice := range partition(urls, workers) {
		wg.Add(1)
		go func(id int, slice []string) {
			defer wg.Done()
			e.runWorker(ctx, id, slice, t)
		}(workerID, slice)
	}
	wg.Wait()

	summary.ProfilesHarvested = t.harvested
	summary.ProfilesFailed = t.failed
	summary.SkippedByBreaker = t.skipped
	summary.Cancelled = ctx.Err() != nil

	// A cancelled cycle has an incomplete current set; reconciling it would
	// purge stored profiles that were simply never visited.
	if !summary.Cancelled && e.reconciler != nil {
		report, err := e.reconcileLocked(ctx)
		if err != nil {
			summary.Duration = time.Since(summary.StartedAt)
			return summary, fmt.Errorf("reconcile cycle: %w", err)
		}
		summary.Reconciliation = report
	}

	if !summary.Cancelled && e.store != nil {
		e.mirror(ctx, t.valids, summary.Reconciliation != nil)
	}

	summary.Duration = time.Since(summary.StartedAt)
	summary.Stats = e.stats.Snapshot()

	e.logger.Info("Crawl cycle finished",
		zap.String("session_id", summary.SessionID),
		zap.Int("discovered", summary.ProfilesDiscovered),
		zap.Int("harvested", summary.ProfilesHarvested),
		zap.Int("failed", summary.ProfilesFailed),
		zap.Int("skipped_by_breaker", summary.SkippedByBreaker),
		zap.Bool("cancelled", summary.Cancelled),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// runWorker drains one disjoint URL slice. Cancellation and the breaker are
// checked between URLs, never mid-attempt.
func (e *Engine) runWorker(ctx context.Context, id int, urls []string, t *tally) {
	fetcher, err := e.factory(id)
	if err != nil {
		e.logger.Error("Worker could not build its fetch pipeline",
			zap.Int("worker_id", id),
			zap.Error(err))
		t.mu.Lock()
		t.failed += len(urls)
		t.mu.Unlock()
		return
	}

	for _, url := range urls {
		if ctx.Err() != nil {
			return
		}
		if e.breaker != nil && !e.breaker.Allow() {
			t.mu.Lock()
			t.skipped++
			t.mu.Unlock()
			continue
		}

		record, _ := fetcher.FetchWithRetry(ctx, url)
		valid := record != nil && record.Status == model.RecordStatusOK
		if e.breaker != nil {
			e.breaker.RecordResult(valid)
		}

		if !valid {
			t.mu.Lock()
			t.failed++
			t.mu.Unlock()
			if record != nil {
				e.logger.Warn("Profile failed terminally",
					zap.Int("worker_id", id),
					zap.String("url", url),
					zap.String("last_error", record.LastError))
			}
			continue
		}

		e.pair.RLock()
		result := e.appender.Append(csvstore.ProfileRow(record))
		e.pair.RUnlock()

		t.mu.Lock()
		switch {
		case result.Err != nil:
			t.failed++
		case result.Written:
			t.harvested++
			t.valids = append(t.valids, record)
		default:
			t.harvested++
		}
		t.mu.Unlock()
	}
}

// resetCurrent truncates the current file to its header row.
func (e *Engine) resetCurrent() error {
	e.pair.Lock()
	defer e.pair.Unlock()
	return csvstore.WriteRowsAtomic(e.pair.Current, [][]string{csvstore.ProfileSchema().Header})
}

// reconcileLocked runs reconciliation with exclusive access to the pair.
func (e *Engine) reconcileLocked(ctx context.Context) (*reconciliation.Report, error) {
	e.pair.Lock()
	defer e.pair.Unlock()
	return e.reconciler.Reconcile(ctx, e.pair.Current, e.pair.Stored)
}

// mirror pushes this cycle's records into the database mirror and, when the
// cycle reconciled, prunes rows that fell out of the stored set. Mirror
// failures are logged, never fatal: the CSVs are the source of truth.
func (e *Engine) mirror(ctx context.Context, valids []*model.ProfileRecord, reconciled bool) {
	if err := e.store.UpsertProfiles(ctx, valids); err != nil {
		e.logger.Error("Mirror upsert failed", zap.Error(err))
		return
	}
	if !reconciled {
		return
	}

	keep, err := csvstore.Keys(e.pair.Stored, csvstore.ProfileSchema())
	if err != nil {
		e.logger.Error("Mirror prune skipped, cannot read stored set", zap.Error(err))
		return
	}
	if _, err := e.store.DeleteMissing(ctx, keep); err != nil {
		e.logger.Error("Mirror prune failed", zap.Error(err))
	}
}

// partition splits urls into at most workers contiguous slices.
func partition(urls []string, workers int) [][]string {
	if len(urls) == 0 {
		return nil
	}
	if workers > len(urls) {
		workers = len(urls)
	}
	size := (len(urls) + workers - 1) / workers
	var slices [][]string
	for start := 0; start < len(urls); start += size {
		end := start + size
		if end > len(urls) {
			end = len(urls)
		}
		slices = append(slices, urls[start:end])
	}
	return slices
}

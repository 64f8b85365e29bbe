package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
	"go.uber.org/zap"
)

// Collector gathers crawl observability counters. One collector is created
// per crawl session and injected into every component that reports; there is
// no process-wide instance, so concurrent sessions stay isolated.
type Collector interface {
	RecordRequest()
	RecordBlocked(blockType model.BlockType)
	RecordRetrySuccess()
	RecordRetryFailure()
	RecordFetchDuration(d time.Duration)
	Snapshot() Snapshot
}

// Snapshot is a point-in-time view of the counters, readable at any time
// without side effects.
type Snapshot struct {
	TotalRequests     int64            `json:"totalRequests"`
	BlockedRequests   int64            `json:"blockedRequests"`
	BlockingRate      float64          `json:"blockingRate"`
	SuccessfulRetries int64            `json:"successfulRetries"`
	FailedRetries     int64            `json:"failedRetries"`
	RetrySuccessRate  float64          `json:"retrySuccessRate"`
	AvgFetchMillis    float64          `json:"avgFetchMillis"`
	BlockedByType     map[string]int64 `json:"blockedByType,omitempty"`
}

// CrawlStats is the atomic-counter Collector implementation.
type CrawlStats struct {
	totalRequests     atomic.Int64
	blockedRequests   atomic.Int64
	successfulRetries atomic.Int64
	failedRetries     atomic.Int64
	fetchCount        atomic.Int64
	fetchTotalNanos   atomic.Int64

	mu            sync.Mutex
	blockedByType map[model.BlockType]int64

	logger *zap.Logger
}

// NewCrawlStats creates a new collector.
func NewCrawlStats(logger *zap.Logger) *CrawlStats {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrawlStats{
		blockedByType: make(map[model.BlockType]int64),
		logger:        logger,
	}
}

// RecordRequest counts one fetch attempt.
func (cs *CrawlStats) RecordRequest() {
	cs.totalRequests.Add(1)
}

// RecordBlocked counts one blocked verdict.
func (cs *CrawlStats) RecordBlocked(blockType model.BlockType) {
	cs.blockedRequests.Add(1)

	cs.mu.Lock()
	cs.blockedByType[blockType]++
	cs.mu.Unlock()
}

// RecordRetrySuccess counts a URL that succeeded after at least one retry.
func (cs *CrawlStats) RecordRetrySuccess() {
	v := cs.successfulRetries.Add(1)
	cs.logger.Debug("Retry succeeded", zap.Int64("successful_retries", v))
}

// RecordRetryFailure counts a URL that exhausted its retry budget.
func (cs *CrawlStats) RecordRetryFailure() {
	v := cs.failedRetries.Add(1)
	cs.logger.Debug("Retry budget exhausted", zap.Int64("failed_retries", v))
}

// RecordFetchDuration accumulates fetch latency for the snapshot average.
func (cs *CrawlStats) RecordFetchDuration(d time.Duration) {
	cs.fetchCount.Add(1)
	cs.fetchTotalNanos.Add(d.Nanoseconds())
}

// Snapshot returns the current counters and derived rates.
func (cs *CrawlStats) Snapshot() Snapshot {
	total := cs.totalRequests.Load()
	blocked := cs.blockedRequests.Load()
	retryOK := cs.successfulRetries.Load()
	retryKO := cs.failedRetries.Load()
	fetches := cs.fetchCount.Load()

	snap := Snapshot{
		TotalRequests:     total,
		BlockedRequests:   blocked,
		SuccessfulRetries: retryOK,
		FailedRetries:     retryKO,
	}
	if total > 0 {
		snap.BlockingRate = float64(blocked) / float64(total)
	}
	if retryOK+retryKO > 0 {
		snap.RetrySuccessRate = float64(retryOK) / float64(retryOK+retryKO)
	}
	if fetches > 0 {
		snap.AvgFetchMillis = float64(cs.fetchTotalNanos.Load()) / float64(fetches) / 1e6
	}

	cs.mu.Lock()
	if len(cs.blockedByType) > 0 {
		snap.BlockedByType = make(map[string]int64, len(cs.blockedByType))
		for bt, n := range cs.blockedByType {
			snap.BlockedByType[string(bt)] = n
		}
	}
	cs.mu.Unlock()

	return snap
}

// Nop returns a collector that discards everything. Useful for tests and for
// components constructed without a session.
func Nop() Collector {
	return nopCollector{}
}

type nopCollector struct{}

func (nopCollector) RecordRequest()                    {}
func (nopCollector) RecordBlocked(model.BlockType)     {}
func (nopCollector) RecordRetrySuccess()               {}
func (nopCollector) RecordRetryFailure()               {}
func (nopCollector) RecordFetchDuration(time.Duration) {}
func (nopCollector) Snapshot() Snapshot                { return Snapshot{} }

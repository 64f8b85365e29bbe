package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
)

func TestSnapshotStartsEmpty(t *testing.T) {
	snap := NewCrawlStats(nil).Snapshot()

	assert.Zero(t, snap.TotalRequests)
	assert.Zero(t, snap.BlockingRate, "no requests means no rate, not a division by zero")
	assert.Zero(t, snap.RetrySuccessRate)
	assert.Zero(t, snap.AvgFetchMillis)
	assert.Nil(t, snap.BlockedByType)
}

func TestSnapshotDerivesRates(t *testing.T) {
	stats := NewCrawlStats(nil)

	for i := 0; i < 10; i++ {
		stats.RecordRequest()
	}
	stats.RecordBlocked(model.BlockTypeHTTPStatus)
	stats.RecordBlocked(model.BlockTypeHTTPStatus)
	stats.RecordBlocked(model.BlockTypeChallengePage)
	stats.RecordRetrySuccess()
	stats.RecordRetrySuccess()
	stats.RecordRetrySuccess()
	stats.RecordRetryFailure()

	snap := stats.Snapshot()
	assert.Equal(t, int64(10), snap.TotalRequests)
	assert.Equal(t, int64(3), snap.BlockedRequests)
	assert.InDelta(t, 0.3, snap.BlockingRate, 1e-9)
	assert.InDelta(t, 0.75, snap.RetrySuccessRate, 1e-9)
	assert.Equal(t, map[string]int64{
		"HTTP_STATUS":    2,
		"CHALLENGE_PAGE": 1,
	}, snap.BlockedByType)
}

func TestSnapshotAveragesFetchDurations(t *testing.T) {
	stats := NewCrawlStats(nil)
	stats.RecordFetchDuration(100 * time.Millisecond)
	stats.RecordFetchDuration(300 * time.Millisecond)

	snap := stats.Snapshot()
	assert.InDelta(t, 200.0, snap.AvgFetchMillis, 1e-9)
}

func TestCountersAreSafeUnderConcurrency(t *testing.T) {
	stats := NewCrawlStats(nil)

	const workers = 16
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				stats.RecordRequest()
				stats.RecordBlocked(model.BlockTypeErrorPage)
				stats.RecordFetchDuration(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := stats.Snapshot()
	assert.Equal(t, int64(workers*perWorker), snap.TotalRequests)
	assert.Equal(t, int64(workers*perWorker), snap.BlockedRequests)
	assert.Equal(t, int64(workers*perWorker), snap.BlockedByType["ERROR_PAGE"])
	assert.InDelta(t, 1.0, snap.AvgFetchMillis, 1e-9)
}

func TestNopCollectorDiscardsEverything(t *testing.T) {
	nop := Nop()
	nop.RecordRequest()
	nop.RecordBlocked(model.BlockTypeHTTPStatus)
	nop.RecordRetrySuccess()
	nop.RecordRetryFailure()
	nop.RecordFetchDuration(time.Second)

	assert.Equal(t, Snapshot{}, nop.Snapshot())
}

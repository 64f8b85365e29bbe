package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lantuyan/crawler-f1-sub000/pkg/errors"
	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
)

// gatedRunner blocks inside Run until released or cancelled, so tests can
// observe the manager mid-cycle.
type gatedRunner struct {
	release chan struct{}
	err     error

	mu        sync.Mutex
	runs      int
	cancelled bool
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{release: make(chan struct{})}
}

func (r *gatedRunner) Run(ctx context.Context, job model.CrawlJob) (*Summary, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()

	select {
	case <-r.release:
	case <-ctx.Done():
		r.mu.Lock()
		r.cancelled = true
		r.mu.Unlock()
	}
	return &Summary{SessionID: job.SessionID}, r.err
}

func (r *gatedRunner) wasCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool { return !m.IsActive() },
		2*time.Second, 5*time.Millisecond, "the cycle should wind down")
}

func TestStartCrawlRunsOneSessionAtATime(t *testing.T) {
	runner := newGatedRunner()
	manager := NewManager(runner, nil)

	sessionID, err := manager.StartCrawl(model.CrawlJob{StartURL: "https://example.test/girls"})
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.True(t, manager.IsActive())

	_, err = manager.StartCrawl(model.CrawlJob{})
	assert.ErrorIs(t, err, apperrors.ErrCrawlActive, "a second session is rejected, not queued")

	close(runner.release)
	waitIdle(t, manager)

	_, err = manager.StartCrawl(model.CrawlJob{})
	require.NoError(t, err, "a finished cycle frees the slot")
	manager.Shutdown()
}

func TestStartCrawlKeepsTheCallerSessionID(t *testing.T) {
	runner := newGatedRunner()
	close(runner.release)
	manager := NewManager(runner, nil)

	sessionID, err := manager.StartCrawl(model.CrawlJob{SessionID: "crawl-7"})
	require.NoError(t, err)
	assert.Equal(t, "crawl-7", sessionID)
	manager.Shutdown()
}

func TestStopCrawlWithoutASession(t *testing.T) {
	manager := NewManager(newGatedRunner(), nil)
	assert.ErrorIs(t, manager.StopCrawl(), apperrors.ErrCrawlNotActive)
}

func TestStopCrawlCancelsTheActiveCycle(t *testing.T) {
	runner := newGatedRunner()
	manager := NewManager(runner, nil)

	_, err := manager.StartCrawl(model.CrawlJob{})
	require.NoError(t, err)

	require.NoError(t, manager.StopCrawl())
	waitIdle(t, manager)
	assert.True(t, runner.wasCancelled(), "the cycle saw its context end")
}

func TestStatusTracksTheLifecycle(t *testing.T) {
	runner := newGatedRunner()
	manager := NewManager(runner, nil)

	before := manager.Status()
	assert.False(t, before.Active)
	assert.Empty(t, before.SessionID)
	assert.Nil(t, before.StartedAt)

	sessionID, err := manager.StartCrawl(model.CrawlJob{})
	require.NoError(t, err)

	during := manager.Status()
	assert.True(t, during.Active)
	assert.Equal(t, sessionID, during.SessionID)
	require.NotNil(t, during.StartedAt)

	close(runner.release)
	waitIdle(t, manager)

	after := manager.Status()
	assert.False(t, after.Active)
	assert.Empty(t, after.SessionID)
	require.NotNil(t, after.LastSummary)
	assert.Equal(t, sessionID, after.LastSummary.SessionID)
	assert.Empty(t, after.LastError)
}

func TestStatusCarriesTheLastError(t *testing.T) {
	runner := newGatedRunner()
	runner.err = errors.New("listing discovery: site down")
	close(runner.release)
	manager := NewManager(runner, nil)

	_, err := manager.StartCrawl(model.CrawlJob{})
	require.NoError(t, err)
	waitIdle(t, manager)

	assert.Contains(t, manager.Status().LastError, "site down")
}

func TestShutdownWaitsForTheActiveCycle(t *testing.T) {
	runner := newGatedRunner()
	manager := NewManager(runner, nil)

	_, err := manager.StartCrawl(model.CrawlJob{})
	require.NoError(t, err)

	manager.Shutdown()

	assert.False(t, manager.IsActive(), "Shutdown returns only after the cycle finished")
	assert.True(t, runner.wasCancelled())
}

func TestShutdownIsANoOpWhenIdle(t *testing.T) {
	manager := NewManager(newGatedRunner(), nil)
	manager.Shutdown()
	assert.False(t, manager.IsActive())
}

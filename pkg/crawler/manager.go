package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/lantuyan/crawler-f1-sub000/pkg/errors"
	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
)

// Runner executes one crawl cycle.
type Runner interface {
	Run(ctx context.Context, job model.CrawlJob) (*Summary, error)
}

// Manager serializes crawl cycles: at most one runs at a time, and a new
// request while one is active is rejected rather than queued. Each cycle
// gets a fresh context, so a stop request can never leak into the next
// cycle as a stale flag.
type Manager struct {
	runner Runner
	logger *zap.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	activeID    string
	startedAt   time.Time
	lastSummary *Summary
	lastError   string
}

// ManagerStatus describes the manager for the dashboard.
type ManagerStatus struct {
	Active      bool       `json:"active"`
	SessionID   string     `json:"sessionId,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	LastSummary *Summary   `json:"lastSummary,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// NewManager creates a crawl manager.
func NewManager(runner Runner, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{runner: runner, logger: logger}
}

// StartCrawl launches a crawl cycle in the background and returns its
// session ID. The cycle runs on its own context, detached from the caller:
// it outlives the HTTP request that triggered it.
func (m *Manager) StartCrawl(job model.CrawlJob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return "", apperrors.ErrCrawlActive
	}

	if job.SessionID == "" {
		job.SessionID = uuid.New().String()
	}
	job.QueuedAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.activeID = job.SessionID
	m.startedAt = time.Now()

	m.logger.Info("Crawl session started",
		zap.String("session_id", job.SessionID),
		zap.String("start_url", job.StartURL))

	go m.run(ctx, job, m.done)

	return job.SessionID, nil
}

// run executes the cycle and records its outcome.
func (m *Manager) run(ctx context.Context, job model.CrawlJob, done chan struct{}) {
	defer close(done)

	summary, err := m.runner.Run(ctx, job)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSummary = summary
	if err != nil {
		m.lastError = err.Error()
		m.logger.Error("Crawl session failed",
			zap.String("session_id", job.SessionID),
			zap.Error(err))
	} else {
		m.lastError = ""
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.activeID = ""
}

// StopCrawl asks the active cycle to wind down. Workers finish their
// current attempt and stop claiming URLs; StopCrawl does not wait for them.
func (m *Manager) StopCrawl() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		return apperrors.ErrCrawlNotActive
	}

	m.logger.Info("Crawl session stop requested", zap.String("session_id", m.activeID))
	m.cancel()
	return nil
}

// IsActive reports whether a cycle is currently running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Status returns the manager state for the dashboard.
func (m *Manager) Status() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := ManagerStatus{
		Active:      m.cancel != nil,
		LastSummary: m.lastSummary,
		LastError:   m.lastError,
	}
	if status.Active {
		status.SessionID = m.activeID
		startedAt := m.startedAt
		status.StartedAt = &startedAt
	}
	return status
}

// Shutdown cancels any active cycle and waits for it to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

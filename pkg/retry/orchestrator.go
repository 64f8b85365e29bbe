package retry

import (
	"context"
	"time"

	"github.com/lantuyan/crawler-f1-sub000/pkg/detection"
	"github.com/lantuyan/crawler-f1-sub000/pkg/fetch"
	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
	"github.com/lantuyan/crawler-f1-sub000/pkg/stats"
	"github.com/lantuyan/crawler-f1-sub000/pkg/validity"
	"go.uber.org/zap"
)

const (
	navigationErrorConfidence = 0.6
	invalidRecordConfidence   = 0.8
)

// IdentityRotator rotates session identity between attempts.
type IdentityRotator interface {
	Rotate(ctx context.Context, session fetch.SessionHandle, attempt int)
}

// OrchestratorConfig holds retry orchestration settings. Delays are fixed,
// not exponential: against challenge pages a short constant pause retries
// faster than backoff and works just as often.
type OrchestratorConfig struct {
	MaxAttempts          int
	RetryDelay           time.Duration
	ChallengeSettleDelay time.Duration
}

// DefaultOrchestratorConfig returns the settings used in production.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxAttempts:          8,
		RetryDelay:           100 * time.Millisecond,
		ChallengeSettleDelay: 100 * time.Millisecond,
	}
}

// OrchestratorDeps collects the collaborators an orchestrator drives.
type OrchestratorDeps struct {
	Fetcher    fetch.PageFetcher
	Session    fetch.SessionHandle
	Extractor  fetch.Extractor
	Classifier *detection.Classifier
	Checker    *validity.Checker
	Rotator    IdentityRotator
	Stats      stats.Collector
	Logger     *zap.Logger
}

// Orchestrator drives the fetch-classify-extract-validate loop for a single
// URL. It never returns an error: every outcome is a record plus the last
// blocking verdict, so one poisoned URL can never abort a crawl.
type Orchestrator struct {
	config     OrchestratorConfig
	fetcher    fetch.PageFetcher
	session    fetch.SessionHandle
	extractor  fetch.Extractor
	classifier *detection.Classifier
	checker    *validity.Checker
	rotator    IdentityRotator
	stats      stats.Collector
	logger     *zap.Logger
}

// NewOrchestrator creates an orchestrator. Nil stats and logger fall back to
// no-ops; nil classifier and checker fall back to the standard ones.
func NewOrchestrator(config OrchestratorConfig, deps OrchestratorDeps) *Orchestrator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultOrchestratorConfig().MaxAttempts
	}
	if deps.Stats == nil {
		deps.Stats = stats.Nop()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Classifier == nil {
		deps.Classifier = detection.NewClassifier(deps.Stats, deps.Logger)
	}
	if deps.Checker == nil {
		deps.Checker = validity.NewChecker()
	}
	return &Orchestrator{
		config:     config,
		fetcher:    deps.Fetcher,
		session:    deps.Session,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		checker:    deps.Checker,
		rotator:    deps.Rotator,
		stats:      deps.Stats,
		logger:     deps.Logger,
	}
}

// FetchWithRetry fetches url until it yields a valid record or the attempt
// budget runs out. On exhaustion the returned record is a terminal failure
// marker carrying the last error and detection; the detection return is the
// verdict of the final attempt and is nil only when no attempt ran.
func (o *Orchestrator) FetchWithRetry(ctx context.Context, url string) (*model.ProfileRecord, *model.BlockingDetection) {
	var (
		lastDetection *model.BlockingDetection
		lastError     string
	)

	for attempt := 0; attempt < o.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			if o.rotator != nil {
				o.rotator.Rotate(ctx, o.session, attempt)
			}
			if !sleepContext(ctx, o.config.RetryDelay) {
				return o.cancelled(ctx, url, lastError, lastDetection)
			}
		}
		if ctx.Err() != nil {
			return o.cancelled(ctx, url, lastError, lastDetection)
		}

		start := time.Now()
		result, err := o.fetcher.Fetch(ctx, url)
		o.stats.RecordFetchDuration(time.Since(start))
		if err != nil {
			verdict := navigationFailure(err.Error())
			o.stats.RecordRequest()
			o.stats.RecordBlocked(verdict.BlockType)
			lastDetection = verdict
			lastError = err.Error()
			o.logger.Warn("Navigation failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if ctx.Err() != nil {
				return o.cancelled(ctx, url, lastError, lastDetection)
			}
			continue
		}

		verdict := o.classifier.Classify(result)
		if verdict.IsBlocked {
			lastDetection = verdict
			lastError = "blocked: " + string(verdict.BlockType)
			if verdict.BlockType != model.BlockTypeChallengePage {
				continue
			}
			settled := o.settleChallenge(ctx, url, result)
			if settled == nil || settled.IsBlocked {
				if settled != nil {
					lastDetection = settled
					lastError = "blocked: " + string(settled.BlockType)
				}
				continue
			}
			// Challenge cleared; the re-read content flows into extraction.
			verdict = settled
			lastDetection = settled
		}

		record, extractErr := o.extractor.Extract(result)
		if extractErr != nil {
			failed := extractionFailure(extractErr.Error())
			o.stats.RecordBlocked(failed.BlockType)
			failed.StatusCode = result.StatusCode
			lastDetection = failed
			lastError = extractErr.Error()
			o.logger.Warn("Extraction failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(extractErr))
			continue
		}

		if !o.checker.IsValid(record) {
			blockType := o.checker.DetermineBlockType(record)
			invalid := &model.BlockingDetection{
				IsBlocked:  true,
				BlockType:  blockType,
				Confidence: invalidRecordConfidence,
				Indicators: []string{"invalid record: " + string(blockType)},
				StatusCode: result.StatusCode,
			}
			o.stats.RecordBlocked(blockType)
			lastDetection = invalid
			lastError = "invalid record: " + string(blockType)
			o.logger.Debug("Extracted record failed validation",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.String("block_type", string(blockType)))
			continue
		}

		if attempt > 0 {
			o.stats.RecordRetrySuccess()
			o.logger.Info("Fetch recovered after retry",
				zap.String("url", url),
				zap.Int("attempt", attempt))
		}
		return record, verdict
	}

	o.stats.RecordRetryFailure()
	o.logger.Error("Retry budget exhausted",
		zap.String("url", url),
		zap.Int("max_attempts", o.config.MaxAttempts),
		zap.String("last_error", lastError))
	return o.terminalRecord(url, lastError, lastDetection), lastDetection
}

// settleChallenge waits for a challenge page to resolve itself, then
// re-reads and re-classifies the content. A nil return means the wait or
// re-read was cut short.
func (o *Orchestrator) settleChallenge(ctx context.Context, url string, result *model.FetchResult) *model.BlockingDetection {
	o.logger.Debug("Challenge page detected, waiting for it to settle",
		zap.String("url", url),
		zap.Duration("settle_delay", o.config.ChallengeSettleDelay))

	if !sleepContext(ctx, o.config.ChallengeSettleDelay) {
		return nil
	}

	content, err := o.fetcher.FetchContent(ctx, url)
	if err != nil {
		verdict := navigationFailure(err.Error())
		o.stats.RecordRequest()
		o.stats.RecordBlocked(verdict.BlockType)
		return verdict
	}

	result.Content = content
	return o.classifier.Classify(result)
}

// cancelled builds the early-exit result when the context is done. It does
// not count as a retry failure; the budget was never exhausted.
func (o *Orchestrator) cancelled(ctx context.Context, url, lastError string, lastDetection *model.BlockingDetection) (*model.ProfileRecord, *model.BlockingDetection) {
	if lastError == "" && ctx.Err() != nil {
		lastError = ctx.Err().Error()
	}
	o.logger.Warn("Fetch cancelled mid retry", zap.String("url", url))
	return o.terminalRecord(url, lastError, lastDetection), lastDetection
}

// terminalRecord is the never-throws failure marker for an unfetchable URL.
func (o *Orchestrator) terminalRecord(url, lastError string, lastDetection *model.BlockingDetection) *model.ProfileRecord {
	return &model.ProfileRecord{
		URL:           url,
		Nickname:      model.NicknameRetryExhausted,
		Status:        model.RecordStatusFailedAfterRetries,
		LastError:     lastError,
		LastDetection: lastDetection,
	}
}

func navigationFailure(message string) *model.BlockingDetection {
	return &model.BlockingDetection{
		IsBlocked:  true,
		BlockType:  model.BlockTypeNavigationError,
		Confidence: navigationErrorConfidence,
		Indicators: []string{"navigation error: " + message},
	}
}

func extractionFailure(message string) *model.BlockingDetection {
	return &model.BlockingDetection{
		IsBlocked:  true,
		BlockType:  model.BlockTypeNavigationError,
		Confidence: navigationErrorConfidence,
		Indicators: []string{"extraction error: " + message},
	}
}

// sleepContext pauses for d unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

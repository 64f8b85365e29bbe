// Package sync keeps the optional database mirror aligned with the stored
// CSV, which remains the source of truth.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lantuyan/crawler-f1-sub000/pkg/csvstore"
	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
	"github.com/lantuyan/crawler-f1-sub000/pkg/storage"
)

// ActivityChecker reports whether a crawl cycle is running. Mirror sync
// stays off the files while one is.
type ActivityChecker interface {
	IsActive() bool
}

// MirrorSyncService periodically re-syncs the database mirror from the
// stored CSV: every stored row is upserted, rows missing from the file are
// pruned. It repairs any drift left by failed per-cycle mirror writes.
type MirrorSyncService struct {
	pair         *csvstore.FilePair
	store        storage.ProfileStore
	activity     ActivityChecker
	logger       *zap.Logger
	syncInterval time.Duration
	stopChan     chan struct{}
	ticker       *time.Ticker
}

// NewMirrorSyncService creates a new mirror sync service.
func NewMirrorSyncService(
	pair *csvstore.FilePair,
	store storage.ProfileStore,
	activity ActivityChecker,
	logger *zap.Logger,
	syncInterval time.Duration,
) *MirrorSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorSyncService{
		pair:         pair,
		store:        store,
		activity:     activity,
		logger:       logger,
		syncInterval: syncInterval,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the background mirror synchronization service.
func (mss *MirrorSyncService) Start(ctx context.Context) error {
	mss.logger.Info("Starting mirror sync service",
		zap.Duration("sync_interval", mss.syncInterval))

	mss.ticker = time.NewTicker(mss.syncInterval)

	go func() {
		// Sync immediately on start
		if err := mss.syncMirror(ctx); err != nil {
			mss.logger.Error("Initial mirror sync failed", zap.Error(err))
		}

		// Then sync on interval
		for {
			select {
			case <-mss.ticker.C:
				if err := mss.syncMirror(ctx); err != nil {
					mss.logger.Error("Mirror sync failed", zap.Error(err))
				}
			case <-mss.stopChan:
				mss.logger.Info("Mirror sync service stopped")
				return
			case <-ctx.Done():
				mss.logger.Info("Mirror sync service context cancelled")
				return
			}
		}
	}()

	return nil
}

// Stop stops the background mirror synchronization service.
func (mss *MirrorSyncService) Stop() {
	mss.logger.Info("Stopping mirror sync service")
	if mss.ticker != nil {
		mss.ticker.Stop()
	}
	close(mss.stopChan)
}

// syncMirror pushes the stored CSV into the mirror.
func (mss *MirrorSyncService) syncMirror(ctx context.Context) error {
	if mss.activity != nil && mss.activity.IsActive() {
		mss.logger.Debug("Skipping mirror sync, crawl cycle active")
		return nil
	}

	mss.logger.Debug("Syncing mirror from stored file", zap.String("stored", mss.pair.Stored))

	mss.pair.RLock()
	rows, err := csvstore.ReadRows(mss.pair.Stored)
	mss.pair.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to read stored file: %w", err)
	}

	records, keys := collectProfiles(rows, mss.logger)
	if len(records) == 0 {
		mss.logger.Debug("No stored records to mirror")
		return nil
	}

	if err := mss.store.UpsertProfiles(ctx, records); err != nil {
		return fmt.Errorf("failed to upsert mirrored profiles: %w", err)
	}

	pruned, err := mss.store.DeleteMissing(ctx, keys)
	if err != nil {
		return fmt.Errorf("failed to prune mirrored profiles: %w", err)
	}

	mss.logger.Debug("Mirror sync completed",
		zap.Int("profiles_synced", len(records)),
		zap.Int64("profiles_pruned", pruned))

	return nil
}

// SyncOnce performs a single synchronization of the mirror.
func (mss *MirrorSyncService) SyncOnce(ctx context.Context) error {
	return mss.syncMirror(ctx)
}

// collectProfiles parses stored rows, skipping the header and any row that
// cannot carry a record.
func collectProfiles(rows [][]string, logger *zap.Logger) ([]*model.ProfileRecord, []string) {
	var records []*model.ProfileRecord
	var keys []string
	for i, row := range rows {
		if i == 0 {
			continue
		}
		record, err := csvstore.ProfileFromRow(row)
		if err != nil {
			logger.Warn("Skipping malformed stored row", zap.Int("row", i), zap.Error(err))
			continue
		}
		records = append(records, record)
		keys = append(keys, record.URL)
	}
	return records, keys
}

// Package reconciliation keeps the current and stored CSV files consistent
// after each crawl cycle: current shrinks to this cycle's genuinely new
// records, stored becomes the full surviving dataset.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/lantuyan/crawler-f1-sub000/pkg/csvstore"
	"go.uber.org/zap"
)

// CSVReconciler partitions the records of a crawl cycle into new, duplicate
// and obsolete sets keyed by the schema's unique URL column, then rewrites
// both files. It needs exclusive access to the file pair: callers must
// guarantee no appender runs concurrently.
type CSVReconciler struct {
	schema csvstore.Schema
	logger *zap.Logger
}

// NewCSVReconciler creates a reconciler for files of the given schema.
func NewCSVReconciler(schema csvstore.Schema, logger *zap.Logger) *CSVReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVReconciler{schema: schema, logger: logger}
}

// Report is the outcome of one reconciliation run. TotalCurrent counts the
// data rows current held before the rewrite; TotalStored counts stored's
// rows after it.
type Report struct {
	NewRecords        int           `json:"newRecords"`
	DuplicatesRemoved int           `json:"duplicatesRemoved"`
	ObsoleteRecords   int           `json:"obsoleteRecords"`
	TotalCurrent      int           `json:"totalCurrent"`
	TotalStored       int           `json:"totalStored"`
	NewKeys           []string      `json:"newKeys,omitempty"`
	ObsoleteKeys      []string      `json:"obsoleteKeys,omitempty"`
	Duration          time.Duration `json:"duration"`
	Timestamp         time.Time     `json:"timestamp"`
}

// Changed reports whether the run altered either file's record set.
func (r *Report) Changed() bool {
	return r.NewRecords > 0 || r.DuplicatesRemoved > 0 || r.ObsoleteRecords > 0
}

// Reconcile runs one reconciliation pass over the file pair. A missing
// current file means no crawl has produced anything yet and is a no-op; a
// missing stored file starts an empty dataset. Obsolete records are pruned
// from stored immediately: there is no grace period, a profile absent from
// one cycle is gone. I/O failures abort the run with both files untouched
// or atomically replaced, never half-written.
func (cr *CSVReconciler) Reconcile(ctx context.Context, currentPath, storedPath string) (*Report, error) {
	start := time.Now()
	report := &Report{Timestamp: start}

	cr.logger.Info("Starting CSV reconciliation",
		zap.String("current", currentPath),
		zap.String("stored", storedPath))

	currentRows, err := csvstore.ReadRows(currentPath)
	if errors.Is(err, fs.ErrNotExist) {
		cr.logger.Info("No current file, nothing to reconcile",
			zap.String("current", currentPath))
		report.Duration = time.Since(start)
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read current: %w", err)
	}

	storedRows, err := csvstore.ReadRows(storedPath)
	if errors.Is(err, fs.ErrNotExist) {
		storedRows = nil
	} else if err != nil {
		return nil, fmt.Errorf("read stored: %w", err)
	}

	header := cr.schema.Header
	if len(currentRows) > 0 {
		header = currentRows[0]
	}
	keyIdx := cr.keyIndex(header)

	currentList, currentKeys := collectRecords(currentRows, keyIdx)
	storedList, storedKeys := collectRecords(storedRows, keyIdx)
	report.TotalCurrent = len(currentList)

	var newRecords [][]string
	for _, rec := range currentList {
		if _, dup := storedKeys[rec.key]; dup {
			report.DuplicatesRemoved++
			continue
		}
		newRecords = append(newRecords, rec.row)
		report.NewKeys = append(report.NewKeys, rec.key)
	}
	report.NewRecords = len(newRecords)

	nextStored := [][]string{header}
	for _, rec := range storedList {
		if _, alive := currentKeys[rec.key]; alive {
			nextStored = append(nextStored, rec.row)
			continue
		}
		report.ObsoleteRecords++
		report.ObsoleteKeys = append(report.ObsoleteKeys, rec.key)
	}
	nextStored = append(nextStored, newRecords...)
	report.TotalStored = len(nextStored) - 1

	nextCurrent := [][]string{header}
	nextCurrent = append(nextCurrent, newRecords...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stored gains the new records before current drops them, so a crash
	// between the two writes can only leave extra duplicates for the next
	// run to drop, never lose data.
	if err := csvstore.WriteRowsAtomic(storedPath, nextStored); err != nil {
		return nil, fmt.Errorf("rewrite stored: %w", err)
	}
	if err := csvstore.WriteRowsAtomic(currentPath, nextCurrent); err != nil {
		return nil, fmt.Errorf("rewrite current: %w", err)
	}

	report.Duration = time.Since(start)

	cr.logger.Info("CSV reconciliation completed",
		zap.Int("new_records", report.NewRecords),
		zap.Int("duplicates_removed", report.DuplicatesRemoved),
		zap.Int("obsolete_records", report.ObsoleteRecords),
		zap.Int("total_stored", report.TotalStored),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// keyIndex locates the schema's key column in the file's own header,
// falling back to the schema position for headerless or renamed files.
func (cr *CSVReconciler) keyIndex(header []string) int {
	for i, name := range header {
		if name == cr.schema.KeyColumn() {
			return i
		}
	}
	return cr.schema.KeyIndex
}

type keyedRow struct {
	key string
	row []string
}

// collectRecords turns raw rows into an ordered list plus key set. The
// header row and rows missing the key column are skipped; on duplicate keys
// within one file the first occurrence wins.
func collectRecords(rows [][]string, keyIdx int) ([]keyedRow, map[string]struct{}) {
	var list []keyedRow
	keys := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) <= keyIdx || row[keyIdx] == "" {
			continue
		}
		key := row[keyIdx]
		if _, seen := keys[key]; seen {
			continue
		}
		keys[key] = struct{}{}
		list = append(list, keyedRow{key: key, row: row})
	}
	return list, keys
}

package csvstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/zap"
)

// AppendResult reports one append outcome. Exactly one of Written,
// Duplicate, or Err is meaningful: a duplicate is not an error, and an
// error means the record is not persisted, not that it was a duplicate.
type AppendResult struct {
	Written   bool
	Duplicate bool
	Err       error
}

// Appender serializes concurrent appends from many workers onto one CSV
// file, suppressing rows whose key the file already contains. It re-reads
// the file on every append; fine at thousands of rows, a candidate for an
// in-memory key cache beyond that.
type Appender struct {
	mu     sync.Mutex
	path   string
	schema Schema
	logger *zap.Logger
}

// NewAppender creates an appender for path with the given schema.
func NewAppender(path string, schema Schema, logger *zap.Logger) *Appender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Appender{path: path, schema: schema, logger: logger}
}

// Path returns the destination file.
func (a *Appender) Path() string {
	return a.path
}

// Append writes one row unless its key already exists in the file. The
// header row is created on first use. Safe for concurrent use.
func (a *Appender) Append(row []string) AppendResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(row) <= a.schema.KeyIndex || row[a.schema.KeyIndex] == "" {
		err := fmt.Errorf("append to %s: row missing key column %q", a.path, a.schema.KeyColumn())
		a.logger.Error("Append rejected", zap.Error(err))
		return AppendResult{Err: err}
	}
	key := row[a.schema.KeyIndex]

	if err := a.ensureHeader(); err != nil {
		a.logger.Error("Append failed", zap.String("path", a.path), zap.Error(err))
		return AppendResult{Err: err}
	}

	keys, err := a.existingKeys()
	if err != nil {
		a.logger.Error("Append failed", zap.String("path", a.path), zap.Error(err))
		return AppendResult{Err: err}
	}
	if _, exists := keys[key]; exists {
		a.logger.Debug("Duplicate record skipped",
			zap.String("path", a.path),
			zap.String("key", key))
		return AppendResult{Duplicate: true}
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Error("Append failed", zap.String("path", a.path), zap.Error(err))
		return AppendResult{Err: err}
	}
	defer f.Close()

	if _, err := f.WriteString(EncodeRow(row)); err != nil {
		a.logger.Error("Append failed", zap.String("path", a.path), zap.Error(err))
		return AppendResult{Err: err}
	}
	if err := f.Sync(); err != nil {
		a.logger.Error("Append failed", zap.String("path", a.path), zap.Error(err))
		return AppendResult{Err: err}
	}

	return AppendResult{Written: true}
}

// ensureHeader creates the file with its header row when it is missing or
// empty.
func (a *Appender) ensureHeader() error {
	info, err := os.Stat(a.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	case info.Size() > 0:
		return nil
	}
	return os.WriteFile(a.path, []byte(EncodeRow(a.schema.Header)), 0o644)
}

// existingKeys reads the whole file and collects the key column of every
// data row. Rows too short to carry the key are skipped.
func (a *Appender) existingKeys() (map[string]struct{}, error) {
	rows, err := ReadRows(a.path)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) <= a.schema.KeyIndex {
			continue
		}
		keys[row[a.schema.KeyIndex]] = struct{}{}
	}
	return keys, nil
}

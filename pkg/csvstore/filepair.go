package csvstore

import "sync"

// FilePair guards the current/stored CSV pair. Per-record appends hold the
// read side so workers can interleave; reconciliation holds the write side
// and therefore runs only when no appender is mid-write. The two paths are
// data, not locks: locking is the callers' contract.
type FilePair struct {
	sync.RWMutex
	Current string
	Stored  string
}

// NewFilePair creates the guard for a current/stored pair.
func NewFilePair(current, stored string) *FilePair {
	return &FilePair{Current: current, Stored: stored}
}

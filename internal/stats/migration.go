// Package stats provides utilities for tracking migration run statistics.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// MigrationStats tracks cumulative statistics for an event migration run.
// All operations are thread-safe using atomic counters.
type MigrationStats struct {
	inserted int64 // Daily aggregate rows inserted
	updated  int64 // Daily aggregate rows incremented
	skipped  int64 // Events dropped because the document no longer exists
	invalid  int64 // Events dropped for timestamps too far in the future
	retained int64 // Staged keys kept in the cache (newer than the cutoff)
}

// NewMigrationStats creates a new MigrationStats instance.
func NewMigrationStats() *MigrationStats {
	return &MigrationStats{}
}

// RecordInsert increments the inserted counter.
func (s *MigrationStats) RecordInsert() {
	atomic.AddInt64(&s.inserted, 1)
}

// RecordUpdate increments the updated counter.
func (s *MigrationStats) RecordUpdate() {
	atomic.AddInt64(&s.updated, 1)
}

// RecordSkip increments the skipped counter.
func (s *MigrationStats) RecordSkip() {
	atomic.AddInt64(&s.skipped, 1)
}

// RecordInvalid increments the invalid-timestamp counter.
func (s *MigrationStats) RecordInvalid() {
	atomic.AddInt64(&s.invalid, 1)
}

// RecordRetained increments the retained-key counter.
func (s *MigrationStats) RecordRetained() {
	atomic.AddInt64(&s.retained, 1)
}

// Inserted returns the total number of inserted aggregate rows.
func (s *MigrationStats) Inserted() int64 {
	return atomic.LoadInt64(&s.inserted)
}

// Updated returns the total number of incremented aggregate rows.
func (s *MigrationStats) Updated() int64 {
	return atomic.LoadInt64(&s.updated)
}

// Skipped returns the total number of events dropped for missing documents.
func (s *MigrationStats) Skipped() int64 {
	return atomic.LoadInt64(&s.skipped)
}

// Invalid returns the total number of events dropped for invalid timestamps.
func (s *MigrationStats) Invalid() int64 {
	return atomic.LoadInt64(&s.invalid)
}

// Retained returns the total number of staged keys kept in the cache.
func (s *MigrationStats) Retained() int64 {
	return atomic.LoadInt64(&s.retained)
}

// Total returns the total number of persisted aggregate operations.
func (s *MigrationStats) Total() int64 {
	return s.Inserted() + s.Updated()
}

// Reset resets all counters to zero.
func (s *MigrationStats) Reset() {
	atomic.StoreInt64(&s.inserted, 0)
	atomic.StoreInt64(&s.updated, 0)
	atomic.StoreInt64(&s.skipped, 0)
	atomic.StoreInt64(&s.invalid, 0)
	atomic.StoreInt64(&s.retained, 0)
}

// String returns a human-readable summary of the statistics.
func (s *MigrationStats) String() string {
	return fmt.Sprintf("inserted=%d updated=%d skipped=%d invalid=%d retained=%d",
		s.Inserted(), s.Updated(), s.Skipped(), s.Invalid(), s.Retained())
}

// LogSummary logs a summary of migration statistics at INFO level.
// Useful for reporting at the end of a migration run.
func (s *MigrationStats) LogSummary(logger *slog.Logger) {
	logger.Info("migration statistics",
		"inserted", s.Inserted(),
		"updated", s.Updated(),
		"skipped", s.Skipped(),
		"invalid", s.Invalid(),
		"retained", s.Retained(),
		"total", s.Total(),
	)
}

package stats

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
)

func TestMigrationStats_RecordCounters(t *testing.T) {
	stats := NewMigrationStats()

	stats.RecordInsert()
	stats.RecordInsert()
	stats.RecordUpdate()
	stats.RecordSkip()
	stats.RecordInvalid()
	stats.RecordRetained()

	if stats.Inserted() != 2 {
		t.Errorf("Expected 2 inserts, got %d", stats.Inserted())
	}
	if stats.Updated() != 1 {
		t.Errorf("Expected 1 update, got %d", stats.Updated())
	}
	if stats.Skipped() != 1 {
		t.Errorf("Expected 1 skip, got %d", stats.Skipped())
	}
	if stats.Invalid() != 1 {
		t.Errorf("Expected 1 invalid, got %d", stats.Invalid())
	}
	if stats.Retained() != 1 {
		t.Errorf("Expected 1 retained, got %d", stats.Retained())
	}
}

func TestMigrationStats_Total(t *testing.T) {
	stats := NewMigrationStats()

	stats.RecordInsert()
	stats.RecordInsert()
	stats.RecordUpdate()
	stats.RecordSkip() // Skips do not count toward persisted total

	if stats.Total() != 3 {
		t.Errorf("Expected total 3, got %d", stats.Total())
	}
}

func TestMigrationStats_Reset(t *testing.T) {
	stats := NewMigrationStats()

	stats.RecordInsert()
	stats.RecordUpdate()
	stats.RecordSkip()
	stats.RecordInvalid()
	stats.RecordRetained()
	stats.Reset()

	if stats.Inserted() != 0 || stats.Updated() != 0 || stats.Skipped() != 0 ||
		stats.Invalid() != 0 || stats.Retained() != 0 {
		t.Errorf("Expected all counters zero after reset, got %s", stats.String())
	}
}

func TestMigrationStats_String(t *testing.T) {
	stats := NewMigrationStats()

	stats.RecordInsert()
	stats.RecordInsert()
	stats.RecordUpdate()
	stats.RecordInvalid()

	expected := "inserted=2 updated=1 skipped=0 invalid=1 retained=0"
	if stats.String() != expected {
		t.Errorf("Expected %q, got %q", expected, stats.String())
	}
}

func TestMigrationStats_Concurrent(t *testing.T) {
	stats := NewMigrationStats()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			stats.RecordInsert()
		}()
		go func() {
			defer wg.Done()
			stats.RecordUpdate()
		}()
	}

	wg.Wait()

	if stats.Inserted() != 100 {
		t.Errorf("Expected 100 inserts, got %d", stats.Inserted())
	}
	if stats.Updated() != 100 {
		t.Errorf("Expected 100 updates, got %d", stats.Updated())
	}
	if stats.Total() != 200 {
		t.Errorf("Expected total 200, got %d", stats.Total())
	}
}

func TestMigrationStats_LogSummary(t *testing.T) {
	stats := NewMigrationStats()
	stats.RecordInsert()
	stats.RecordUpdate()
	stats.RecordSkip()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{}))

	stats.LogSummary(logger)

	output := buf.String()
	if output == "" {
		t.Error("Expected log output, got empty string")
	}

	expectedFields := []string{"inserted", "updated", "skipped", "invalid", "retained", "total"}
	for _, field := range expectedFields {
		if !bytes.Contains(buf.Bytes(), []byte(field)) {
			t.Errorf("Expected log to contain %q", field)
		}
	}
}

package ctr

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/stats"
)

// startPostgres spins up a disposable postgres with the aggregate tables
// applied. Gated behind OF_INTEGRATION_TESTS=1 so the default test run stays
// free of docker.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("OF_INTEGRATION_TESTS") != "1" {
		t.Skip("set OF_INTEGRATION_TESTS=1 to run integration tests")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("of_test"),
		postgres.WithUsername("of"),
		postgres.WithPassword("of"),
		postgres.WithInitScripts(filepath.Join("..", "..", "migrations", "000007_create_ctr_aggregates.up.sql")),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("building connection string: %v", err)
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPostgresAggregateStore(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresAggregateStore(db, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []DocDaily{
		{DocID: 100, DocType: catalog.DocTypeColor, EntryID: 1, Day: day, Impressions: 3, Clicks: 1, Sessions: 2},
	}

	st := &stats.MigrationStats{}
	if err := store.UpsertDocDaily(ctx, rows, st); err != nil {
		t.Fatalf("UpsertDocDaily() error = %v", err)
	}
	if got := st.String(); got != "inserted=1 updated=0 skipped=0 invalid=0 retained=0" {
		t.Errorf("first run stats = %q", got)
	}

	// A second run on the same day increments the counters in place.
	st = &stats.MigrationStats{}
	if err := store.UpsertDocDaily(ctx, rows, st); err != nil {
		t.Fatalf("UpsertDocDaily() second run error = %v", err)
	}
	if got := st.String(); got != "inserted=0 updated=1 skipped=0 invalid=0 retained=0" {
		t.Errorf("second run stats = %q", got)
	}

	rollups, err := store.RollupsSince(ctx, []int64{1}, day.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("RollupsSince() error = %v", err)
	}
	if len(rollups) != 1 {
		t.Fatalf("got %d rollups, want 1", len(rollups))
	}
	if r := rollups[0]; r.Impressions != 6 || r.Clicks != 2 {
		t.Errorf("rollup = %+v, want 6 impressions, 2 clicks", r)
	}

	impressions, err := store.ImpressionsSince(ctx, []int64{1}, day.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("ImpressionsSince() error = %v", err)
	}
	if impressions[1] != 6 {
		t.Errorf("impressions = %d, want 6", impressions[1])
	}

	// Rows before the window are excluded.
	old := []DocDaily{
		{DocID: 100, DocType: catalog.DocTypeColor, EntryID: 1, Day: day.AddDate(0, 0, -40), Impressions: 100},
	}
	if err := store.UpsertDocDaily(ctx, old, nil); err != nil {
		t.Fatalf("UpsertDocDaily() old rows error = %v", err)
	}
	impressions, err = store.ImpressionsSince(ctx, []int64{1}, day.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("ImpressionsSince() error = %v", err)
	}
	if impressions[1] != 6 {
		t.Errorf("windowed impressions = %d, want 6", impressions[1])
	}
}

func TestPostgresAggregateStoreShopSessions(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresAggregateStore(db, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []ShopDaily{{ShopID: 1, Day: day, Sessions: 4}}
	if err := store.UpsertShopDaily(ctx, rows); err != nil {
		t.Fatalf("UpsertShopDaily() error = %v", err)
	}
	if err := store.UpsertShopDaily(ctx, rows); err != nil {
		t.Fatalf("UpsertShopDaily() second run error = %v", err)
	}

	var sessions int64
	err := db.QueryRowContext(ctx,
		`SELECT sessions FROM shop_sessions_daily WHERE shop_id = $1`, 1).Scan(&sessions)
	if err != nil {
		t.Fatalf("reading shop sessions: %v", err)
	}
	if sessions != 8 {
		t.Errorf("sessions = %d, want 8", sessions)
	}
}

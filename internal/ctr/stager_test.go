package ctr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

// memoryEventStore is an in-memory EventStore for tests. It round-trips
// values through JSON to match the redis implementation's encoding.
type memoryEventStore struct {
	fields     map[string]string
	replaceErr error
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{fields: make(map[string]string)}
}

func (s *memoryEventStore) GetSessions(ctx context.Context, key string) (map[string]SessionLog, error) {
	raw, ok := s.fields[key]
	if !ok {
		return nil, nil
	}
	var sessions map[string]SessionLog
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *memoryEventStore) PutSessions(ctx context.Context, key string, sessions map[string]SessionLog) error {
	raw, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	s.fields[key] = string(raw)
	return nil
}

func (s *memoryEventStore) All(ctx context.Context) (map[string]map[string]SessionLog, error) {
	all := make(map[string]map[string]SessionLog, len(s.fields))
	for key, raw := range s.fields {
		var sessions map[string]SessionLog
		if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
			return nil, err
		}
		all[key] = sessions
	}
	return all, nil
}

func (s *memoryEventStore) Replace(ctx context.Context, retained map[string]map[string]SessionLog, ttl time.Duration) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.fields = make(map[string]string)
	for key, sessions := range retained {
		if err := s.PutSessions(ctx, key, sessions); err != nil {
			return err
		}
	}
	return nil
}

func (s *memoryEventStore) sessions(t *testing.T, key string) map[string]SessionLog {
	t.Helper()
	sessions, err := s.GetSessions(context.Background(), key)
	if err != nil {
		t.Fatalf("failed to read store: %v", err)
	}
	return sessions
}

func newTestStager(store EventStore) *Stager {
	return NewStager(store, nil, 2*time.Hour, 6*time.Second)
}

func TestStager_ImpressionDedupWithinWindow(t *testing.T) {
	store := newMemoryEventStore()
	stager := newTestStager(store)
	base := time.Unix(1_700_000_000, 0)

	ev := Event{DocID: 10, DocType: catalog.DocTypePrimary, EntryID: 5, Kind: KindImpression, SessionID: "s1", Time: base}
	if err := stager.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	ev.Time = base.Add(time.Minute)
	if err := stager.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	log := store.sessions(t, Key(10, catalog.DocTypePrimary, 5))["s1"]
	if got := len(log[CodeImpression]); got != 1 {
		t.Errorf("expected 1 recorded impression, got %d", got)
	}
	if got := len(log[CodeImpressionSkipped]); got != 1 {
		t.Errorf("expected 1 skipped impression, got %d", got)
	}
}

func TestStager_ImpressionAcceptedAfterWindow(t *testing.T) {
	store := newMemoryEventStore()
	stager := newTestStager(store)
	base := time.Unix(1_700_000_000, 0)

	ev := Event{DocID: 10, DocType: catalog.DocTypePrimary, EntryID: 5, Kind: KindImpression, SessionID: "s1", Time: base}
	if err := stager.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	ev.Time = base.Add(2 * time.Hour)
	if err := stager.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	log := store.sessions(t, Key(10, catalog.DocTypePrimary, 5))["s1"]
	if got := len(log[CodeImpression]); got != 2 {
		t.Errorf("expected 2 recorded impressions, got %d", got)
	}
	if got := len(log[CodeImpressionSkipped]); got != 0 {
		t.Errorf("expected no skipped impressions, got %d", got)
	}
}

func TestStager_NewSessionClickEmitsImpression(t *testing.T) {
	store := newMemoryEventStore()
	stager := newTestStager(store)

	ev := Event{DocID: 10, DocType: catalog.DocTypeColor, EntryID: 5, Kind: KindClick, SessionID: "s1", Time: time.Unix(1_700_000_000, 0)}
	if err := stager.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	log := store.sessions(t, Key(10, catalog.DocTypeColor, 5))["s1"]
	if got := len(log[CodeClick]); got != 1 {
		t.Errorf("expected 1 click, got %d", got)
	}
	if got := len(log[CodeImpression]); got != 1 {
		t.Errorf("expected 1 implicit impression, got %d", got)
	}
}

func TestStager_ClickImplicitImpressionUsesDisplayingWindow(t *testing.T) {
	store := newMemoryEventStore()
	stager := newTestStager(store)
	base := time.Unix(1_700_000_000, 0)

	imp := Event{DocID: 10, DocType: catalog.DocTypePrimary, EntryID: 5, Kind: KindImpression, SessionID: "s1", Time: base}
	if err := stager.Record(context.Background(), imp); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Click 10s later: past the 6s displaying window, so the implicit
	// impression is accepted even though the 2h session window has not passed.
	click := Event{DocID: 10, DocType: catalog.DocTypePrimary, EntryID: 5, Kind: KindClick, SessionID: "s1", Time: base.Add(10 * time.Second)}
	if err := stager.Record(context.Background(), click); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	log := store.sessions(t, Key(10, catalog.DocTypePrimary, 5))["s1"]
	if got := len(log[CodeImpression]); got != 2 {
		t.Errorf("expected 2 impressions, got %d", got)
	}

	// A second click right away is inside the click window: skipped, and no
	// further impression.
	click.Time = base.Add(12 * time.Second)
	if err := stager.Record(context.Background(), click); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	log = store.sessions(t, Key(10, catalog.DocTypePrimary, 5))["s1"]
	if got := len(log[CodeClickSkipped]); got != 1 {
		t.Errorf("expected 1 skipped click, got %d", got)
	}
	if got := len(log[CodeImpression]); got != 2 {
		t.Errorf("expected impressions unchanged at 2, got %d", got)
	}
}

func TestStager_ClickInsideDisplayingWindowRecordsNoImpression(t *testing.T) {
	store := newMemoryEventStore()
	stager := newTestStager(store)
	base := time.Unix(1_700_000_000, 0)

	imp := Event{DocID: 10, DocType: catalog.DocTypePrimary, EntryID: 5, Kind: KindImpression, SessionID: "s1", Time: base}
	if err := stager.Record(context.Background(), imp); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Click 3s later: inside the 6s displaying window. The click itself is
	// accepted but its implicit impression leaves no trace, not even a
	// skipped entry.
	click := Event{DocID: 10, DocType: catalog.DocTypePrimary, EntryID: 5, Kind: KindClick, SessionID: "s1", Time: base.Add(3 * time.Second)}
	if err := stager.Record(context.Background(), click); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	log := store.sessions(t, Key(10, catalog.DocTypePrimary, 5))["s1"]
	if got := len(log[CodeClick]); got != 1 {
		t.Errorf("expected 1 click, got %d", got)
	}
	if got := len(log[CodeImpression]); got != 1 {
		t.Errorf("expected impressions unchanged at 1, got %d", got)
	}
	if got := len(log[CodeImpressionSkipped]); got != 0 {
		t.Errorf("expected no skipped impressions, got %d", got)
	}
}

func TestStager_DropsIncompleteEvents(t *testing.T) {
	store := newMemoryEventStore()
	stager := newTestStager(store)

	events := []Event{
		{DocType: catalog.DocTypePrimary, EntryID: 5, Kind: KindClick, SessionID: "s1"},
		{DocID: 10, DocType: "bogus", EntryID: 5, Kind: KindClick, SessionID: "s1"},
		{DocID: 10, DocType: catalog.DocTypePrimary, EntryID: 5, Kind: "hover", SessionID: "s1"},
	}
	for _, ev := range events {
		if err := stager.Record(context.Background(), ev); err != nil {
			t.Fatalf("Record returned error for incomplete event: %v", err)
		}
	}

	if len(store.fields) != 0 {
		t.Errorf("expected nothing staged, got %d keys", len(store.fields))
	}
}

func TestStager_GeneratesMissingSession(t *testing.T) {
	store := newMemoryEventStore()
	stager := newTestStager(store)

	ev := Event{DocID: 10, DocType: catalog.DocTypePrimary, EntryID: 5, Kind: KindImpression, Time: time.Unix(1_700_000_000, 0)}
	if err := stager.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	sessions := store.sessions(t, Key(10, catalog.DocTypePrimary, 5))
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	for id := range sessions {
		if id == "" {
			t.Error("expected a generated session id, got empty string")
		}
	}
}

func TestParseKey(t *testing.T) {
	docID, docType, entryID, err := ParseKey("42_whitesh_7")
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if docID != 42 || docType != catalog.DocTypeWhiteShadow || entryID != 7 {
		t.Errorf("ParseKey = (%d, %s, %d), want (42, whitesh, 7)", docID, docType, entryID)
	}

	for _, bad := range []string{"", "42", "42_whitesh", "a_whitesh_7", "42_nope_7", "42_whitesh_b"} {
		if _, _, _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) succeeded, want error", bad)
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/ctr"
)

// stubEventStore is a minimal in-memory EventStore for handler tests.
type stubEventStore struct {
	data map[string]map[string]ctr.SessionLog
}

func newStubEventStore() *stubEventStore {
	return &stubEventStore{data: make(map[string]map[string]ctr.SessionLog)}
}

func (s *stubEventStore) GetSessions(_ context.Context, key string) (map[string]ctr.SessionLog, error) {
	return s.data[key], nil
}

func (s *stubEventStore) PutSessions(_ context.Context, key string, sessions map[string]ctr.SessionLog) error {
	s.data[key] = sessions
	return nil
}

func (s *stubEventStore) All(_ context.Context) (map[string]map[string]ctr.SessionLog, error) {
	return s.data, nil
}

func (s *stubEventStore) Replace(_ context.Context, retained map[string]map[string]ctr.SessionLog, _ time.Duration) error {
	s.data = retained
	return nil
}

func newTestTracker(store ctr.EventStore) *TrackerHandlers {
	stager := ctr.NewStager(store, nil, 2*time.Hour, 6*time.Second)
	return NewTrackerHandlers(stager, nil, nil)
}

func TestPostTrackStagesEvents(t *testing.T) {
	store := newStubEventStore()
	h := newTestTracker(store)

	body := `{"events":[
		{"doc_id":100,"doc_type":"color","entry_id":1,"kind":"impression"},
		{"doc_id":100,"doc_type":"color","entry_id":1,"kind":"click"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/track", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.PostTrack(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp["accepted"] != float64(2) {
		t.Errorf("accepted = %v, want 2", resp["accepted"])
	}
	if len(store.data["100_color_1"]) != 1 {
		t.Errorf("staged sessions = %d, want 1", len(store.data["100_color_1"]))
	}
}

func TestPostTrackAssignsSessionCookie(t *testing.T) {
	h := newTestTracker(newStubEventStore())

	body := `{"events":[{"doc_id":100,"doc_type":"color","entry_id":1,"kind":"impression"}]}`
	req := httptest.NewRequest(http.MethodPost, "/track", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.PostTrack(w, req)

	cookies := w.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == SessionCookie && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("no session cookie assigned to first-time visitor")
	}
}

func TestPostTrackReusesSessionCookie(t *testing.T) {
	store := newStubEventStore()
	h := newTestTracker(store)

	body := `{"events":[{"doc_id":100,"doc_type":"color","entry_id":1,"kind":"impression"}]}`
	req := httptest.NewRequest(http.MethodPost, "/track", strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "visitor-1"})
	w := httptest.NewRecorder()
	h.PostTrack(w, req)

	if _, ok := store.data["100_color_1"]["visitor-1"]; !ok {
		t.Errorf("events staged under %v, want session visitor-1", store.data["100_color_1"])
	}
}

func TestPostTrackRejectsInvalidEvents(t *testing.T) {
	store := newStubEventStore()
	h := newTestTracker(store)

	// Second event has an unknown kind, third is missing the document.
	body := `{"events":[
		{"doc_id":100,"doc_type":"color","entry_id":1,"kind":"impression"},
		{"doc_id":100,"doc_type":"color","entry_id":1,"kind":"hover"},
		{"doc_type":"color","entry_id":1,"kind":"click"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/track", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.PostTrack(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp["accepted"] != float64(1) || resp["rejected"] != float64(2) {
		t.Errorf("accepted/rejected = %v/%v, want 1/2", resp["accepted"], resp["rejected"])
	}
}

func TestPostTrackValidation(t *testing.T) {
	h := newTestTracker(newStubEventStore())

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest},
		{"empty batch", http.MethodPost, `{"events":[]}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/track", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			h.PostTrack(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

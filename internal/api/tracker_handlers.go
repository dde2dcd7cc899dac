package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/ctr"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/middleware"
)

// SessionCookie carries the visitor session across tracking requests.
const SessionCookie = "of_session"

// maxTrackBatch caps events accepted per request.
const maxTrackBatch = 500

// TrackerHandlers serves the event ingest endpoint.
type TrackerHandlers struct {
	stager  *ctr.Stager
	logger  *slog.Logger
	metrics *middleware.Metrics
}

// NewTrackerHandlers creates a new TrackerHandlers. Metrics may be nil.
func NewTrackerHandlers(stager *ctr.Stager, logger *slog.Logger, metrics *middleware.Metrics) *TrackerHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackerHandlers{stager: stager, logger: logger, metrics: metrics}
}

// TrackEvent is one tracked interaction in a tracking batch.
type TrackEvent struct {
	DocID   int64  `json:"doc_id"`
	DocType string `json:"doc_type"`
	EntryID int64  `json:"entry_id"`
	Kind    string `json:"kind"`
	// Timestamp is optional epoch seconds; the server time is used when 0.
	Timestamp int64 `json:"ts,omitempty"`
}

// TrackRequest is the request payload for POST /track.
type TrackRequest struct {
	Events []TrackEvent `json:"events"`
}

// PostTrack handles POST /track. Accepts a batch of impression and click
// events and stages them for the nightly aggregate migration. The visitor
// session comes from the session cookie; first-time visitors get one
// assigned in the response.
func (h *TrackerHandlers) PostTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	if len(req.Events) == 0 {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "At least one event required")
		return
	}
	if len(req.Events) > maxTrackBatch {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "Too many events in one batch")
		return
	}

	sessionID := h.sessionID(w, r)
	*r = *r.WithContext(middleware.SetSessionID(r.Context(), sessionID))

	accepted := 0
	for _, te := range req.Events {
		ev := ctr.Event{
			DocID:     te.DocID,
			DocType:   catalog.DocType(te.DocType),
			EntryID:   te.EntryID,
			Kind:      ctr.Kind(te.Kind),
			SessionID: sessionID,
		}
		if te.Timestamp > 0 {
			ev.Time = time.Unix(te.Timestamp, 0)
		}
		if ev.DocID == 0 || ev.EntryID == 0 || !ev.DocType.Valid() || !ev.Kind.Valid() {
			if h.metrics != nil {
				h.metrics.IncRejectedEvent("invalid_event")
			}
			continue
		}

		if err := h.stager.Record(r.Context(), ev); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to stage event",
				"doc_id", ev.DocID, "entry_id", ev.EntryID, "error", err)
			WriteError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "Event staging unavailable")
			return
		}
		if h.metrics != nil {
			h.metrics.IncTrackedEvent(string(ev.Kind))
		}
		accepted++
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"accepted": accepted,
		"rejected": len(req.Events) - accepted,
	})
}

// sessionID reads the session cookie, assigning a fresh session when the
// cookie is missing or empty.
func (h *TrackerHandlers) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int((2 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

package ctr

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Stager records click/impression events into the fast cache, deduplicated
// per session and time window.
type Stager struct {
	store       EventStore
	logger      *slog.Logger
	sessionLive time.Duration
	displaying  time.Duration
}

// NewStager creates a new Stager. sessionLive is the same-kind dedup window;
// displaying is the shorter window used for the implicit impression carried
// by an accepted click.
func NewStager(store EventStore, logger *slog.Logger, sessionLive, displaying time.Duration) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{
		store:       store,
		logger:      logger,
		sessionLive: sessionLive,
		displaying:  displaying,
	}
}

// Record stages one event. Events missing a document id, document type, or
// kind are logged and dropped without error; a missing session id gets a
// generated one. The whole per-key session map is rewritten on every accepted
// or skipped event.
func (s *Stager) Record(ctx context.Context, ev Event) error {
	if ev.DocID == 0 || !ev.DocType.Valid() || !ev.Kind.Valid() {
		s.logger.Warn("dropping incomplete event",
			"doc_id", ev.DocID,
			"doc_type", string(ev.DocType),
			"entry_id", ev.EntryID,
			"kind", string(ev.Kind),
		)
		return nil
	}
	if ev.SessionID == "" {
		ev.SessionID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	key := Key(ev.DocID, ev.DocType, ev.EntryID)
	sessions, err := s.store.GetSessions(ctx, key)
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = make(map[string]SessionLog)
	}

	log, ok := sessions[ev.SessionID]
	if !ok {
		log = make(SessionLog)
		sessions[ev.SessionID] = log
	}

	ts := ev.Time.Unix()
	switch ev.Kind {
	case KindImpression:
		s.recordImpression(log, ts, s.sessionLive)
	case KindClick:
		if last, ok := log.Last(CodeClick); ok && ts-last < int64(s.sessionLive.Seconds()) {
			log.Append(CodeClickSkipped, ts)
			break
		}
		log.Append(CodeClick, ts)
		// An accepted click carries an implicit impression, checked
		// against the shorter displaying window. A failed check records
		// nothing, unlike an explicit impression.
		if last, ok := log.Last(CodeImpression); !ok || ts-last >= int64(s.displaying.Seconds()) {
			log.Append(CodeImpression, ts)
		}
	}

	return s.store.PutSessions(ctx, key, sessions)
}

// recordImpression appends an impression if none exists yet or the window
// since the last one has passed, otherwise records it as skipped.
func (s *Stager) recordImpression(log SessionLog, ts int64, window time.Duration) {
	if last, ok := log.Last(CodeImpression); ok && ts-last < int64(window.Seconds()) {
		log.Append(CodeImpressionSkipped, ts)
		return
	}
	log.Append(CodeImpression, ts)
}

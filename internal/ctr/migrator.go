package ctr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/stats"
)

// DocumentResolver resolves a document id to its shop. Satisfied by
// catalog.Repository.
type DocumentResolver interface {
	DocumentShop(ctx context.Context, docID int64) (int64, error)
}

// Migrator moves staged events older than a cutoff from the fast cache into
// the durable daily aggregates. Events newer than the cutoff stay staged for
// the next run; events timestamped too far in the future are dropped.
type Migrator struct {
	events     EventStore
	aggregates AggregateStore
	docs       DocumentResolver
	logger     *slog.Logger
	maxOver    time.Duration
	ttl        time.Duration
	now        func() time.Time
}

// NewMigrator creates a new Migrator. maxOver bounds how far in the future a
// plausible timestamp may lie; ttl is re-applied to the staged hash after the
// rewrite.
func NewMigrator(events EventStore, aggregates AggregateStore, docs DocumentResolver, logger *slog.Logger, maxOver, ttl time.Duration) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		events:     events,
		aggregates: aggregates,
		docs:       docs,
		logger:     logger,
		maxOver:    maxOver,
		ttl:        ttl,
		now:        time.Now,
	}
}

// docAggKey identifies one daily document counter row.
type docAggKey struct {
	docID   int64
	docType catalog.DocType
	entryID int64
	day     time.Time
}

// shopAggKey identifies one daily shop session counter row.
type shopAggKey struct {
	shopID int64
	day    time.Time
}

type docAgg struct {
	impressions int64
	clicks      int64
	sessions    map[string]struct{}
}

// Migrate routes every staged timestamp at or before the cutoff into the
// durable aggregates, then rewrites the staged hash with only the retained
// events. The rewrite is a destructive clear-then-rewrite: a migration
// interrupted between the durable commit and the rewrite replays already
// committed events on the next run (at-least-once).
func (m *Migrator) Migrate(ctx context.Context, cutoff time.Time) (*stats.MigrationStats, error) {
	st := stats.NewMigrationStats()

	all, err := m.events.All(ctx)
	if err != nil {
		return st, err
	}

	now := m.now()
	deadline := now.Add(m.maxOver).Unix()
	cutoffUnix := cutoff.Unix()

	docAggs := make(map[docAggKey]*docAgg)
	shopSessions := make(map[shopAggKey]map[string]struct{})
	retained := make(map[string]map[string]SessionLog)

	shopByDoc := make(map[int64]int64)
	missingDocs := make(map[int64]bool)

	for key, sessions := range all {
		docID, docType, entryID, err := ParseKey(key)
		if err != nil {
			m.logger.Warn("dropping malformed staged key", "key", key, "error", err)
			continue
		}

		shopID, known := shopByDoc[docID]
		if !known && !missingDocs[docID] {
			shopID, err = m.docs.DocumentShop(ctx, docID)
			switch {
			case errors.Is(err, catalog.ErrDocumentNotFound):
				missingDocs[docID] = true
				m.logger.Warn("skipping events for deleted document",
					"doc_id", docID, "entry_id", entryID)
			case err != nil:
				return st, err
			default:
				shopByDoc[docID] = shopID
			}
		}
		if missingDocs[docID] {
			for _, log := range sessions {
				for _, timestamps := range log {
					for range timestamps {
						st.RecordSkip()
					}
				}
			}
			continue
		}

		for sessionID, log := range sessions {
			for code, timestamps := range log {
				for _, ts := range timestamps {
					switch {
					case ts > deadline:
						st.RecordInvalid()

					case ts > cutoffUnix:
						keyRetained := retained[key]
						if keyRetained == nil {
							keyRetained = make(map[string]SessionLog)
							retained[key] = keyRetained
						}
						sessionLog := keyRetained[sessionID]
						if sessionLog == nil {
							sessionLog = make(SessionLog)
							keyRetained[sessionID] = sessionLog
						}
						sessionLog.Append(code, ts)
						st.RecordRetained()

					default:
						day := time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)
						aggKey := docAggKey{docID: docID, docType: docType, entryID: entryID, day: day}
						agg := docAggs[aggKey]
						if agg == nil {
							agg = &docAgg{sessions: make(map[string]struct{})}
							docAggs[aggKey] = agg
						}
						// Skipped codes carry no counts but still mark
						// the session as seen that day.
						switch code {
						case CodeImpression:
							agg.impressions++
						case CodeClick:
							agg.clicks++
						}
						agg.sessions[sessionID] = struct{}{}

						shopKey := shopAggKey{shopID: shopID, day: day}
						if shopSessions[shopKey] == nil {
							shopSessions[shopKey] = make(map[string]struct{})
						}
						shopSessions[shopKey][sessionID] = struct{}{}
					}
				}
			}
		}
	}

	docRows := make([]DocDaily, 0, len(docAggs))
	for key, agg := range docAggs {
		docRows = append(docRows, DocDaily{
			DocID:       key.docID,
			DocType:     key.docType,
			EntryID:     key.entryID,
			Day:         key.day,
			Impressions: agg.impressions,
			Clicks:      agg.clicks,
			Sessions:    int64(len(agg.sessions)),
		})
	}
	shopRows := make([]ShopDaily, 0, len(shopSessions))
	for key, sessions := range shopSessions {
		shopRows = append(shopRows, ShopDaily{
			ShopID:   key.shopID,
			Day:      key.day,
			Sessions: int64(len(sessions)),
		})
	}

	if err := m.aggregates.UpsertDocDaily(ctx, docRows, st); err != nil {
		return st, err
	}
	if err := m.aggregates.UpsertShopDaily(ctx, shopRows); err != nil {
		return st, err
	}

	// Durable writes are committed; now swap the staged hash for the
	// retained remainder.
	if err := m.events.Replace(ctx, retained, m.ttl); err != nil {
		return st, err
	}

	st.LogSummary(m.logger)
	return st, nil
}

package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/jobs"
)

// Report summarizes one publish pass.
type Report struct {
	Entries        int
	DroppedTuples  int
	DroppedRecords int
}

func (r Report) String() string {
	return fmt.Sprintf("entries=%d dropped_tuples=%d dropped_records=%d",
		r.Entries, r.DroppedTuples, r.DroppedRecords)
}

// Publisher writes finished ranking records to the record store. Targeted
// publishes overwrite individual entries in the live collection; full
// publishes assemble a staging collection and swap it in atomically so
// readers never observe a half-written ranking set.
type Publisher struct {
	store   RecordStore
	logger  *slog.Logger
	metrics *jobs.Metrics

	settle        time.Duration
	stagingTTL    time.Duration
	purgePatterns []string

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// NewPublisher creates a Publisher. The settle delay is waited out around
// the staging swap so in-flight readers of the old collection drain; the
// purge patterns name derived caches invalidated after a full publish.
func NewPublisher(store RecordStore, logger *slog.Logger, metrics *jobs.Metrics, settle, stagingTTL time.Duration, purgePatterns []string) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:         store,
		logger:        logger,
		metrics:       metrics,
		settle:        settle,
		stagingTTL:    stagingTTL,
		purgePatterns: purgePatterns,
		sleep:         time.Sleep,
	}
}

// Publish writes the given records. Tuples carrying the suppression sentinel
// are dropped first; a record left with no tuples and no group links is not
// written at all. In full mode the whole live collection is replaced.
func (p *Publisher) Publish(ctx context.Context, records map[int64]*Record, full bool) (Report, error) {
	report := Report{}
	clean := make(map[int64]*Record, len(records))
	for entryID, rec := range records {
		pruned, dropped := pruneSentinels(rec)
		report.DroppedTuples += dropped
		if pruned == nil {
			report.DroppedRecords++
			continue
		}
		clean[entryID] = pruned
	}
	report.Entries = len(clean)

	mode := "targeted"
	if full {
		mode = "full"
	}

	var err error
	if full {
		err = p.publishFull(ctx, clean)
	} else {
		err = p.publishTargeted(ctx, clean)
	}
	if err != nil {
		return report, err
	}

	if p.metrics != nil {
		p.metrics.IncPublishedEntries(mode, len(clean))
	}
	p.logger.Info("published rankings", "mode", mode, "report", report.String())
	return report, nil
}

func (p *Publisher) publishTargeted(ctx context.Context, records map[int64]*Record) error {
	for entryID, rec := range records {
		if err := p.store.Put(ctx, entryID, rec); err != nil {
			return fmt.Errorf("publishing entry %d: %w", entryID, err)
		}
	}
	return nil
}

// publishFull stages the complete collection and renames it over the live
// one. A failure before the rename leaves the live collection untouched.
func (p *Publisher) publishFull(ctx context.Context, records map[int64]*Record) error {
	if err := p.store.ClearStaging(ctx); err != nil {
		return fmt.Errorf("clearing staging collection: %w", err)
	}
	p.sleep(p.settle)

	if err := p.store.PutStaging(ctx, records, p.stagingTTL); err != nil {
		return fmt.Errorf("writing staging collection: %w", err)
	}
	p.sleep(p.settle)

	if err := p.store.Promote(ctx); err != nil {
		return fmt.Errorf("promoting staging collection: %w", err)
	}

	for _, pattern := range p.purgePatterns {
		purged, err := p.store.PurgePattern(ctx, pattern)
		if err != nil {
			p.logger.Warn("purging derived cache failed", "pattern", pattern, "error", err)
			continue
		}
		p.logger.Info("purged derived cache", "pattern", pattern, "keys", purged)
	}
	return nil
}

// pruneSentinels strips suppressed tuples from a record, returning nil when
// nothing publishable remains.
func pruneSentinels(rec *Record) (*Record, int) {
	if rec == nil {
		return nil, 0
	}
	dropped := 0
	out := &Record{GroupIDs: rec.GroupIDs}
	for _, t := range rec.NewArticles {
		if float64(t.Value) == Sentinel {
			dropped++
			continue
		}
		out.NewArticles = append(out.NewArticles, t)
	}
	for _, t := range rec.Teasers {
		if float64(t.Value) == Sentinel {
			dropped++
			continue
		}
		out.Teasers = append(out.Teasers, t)
	}
	if len(out.NewArticles) == 0 && len(out.Teasers) == 0 && len(out.GroupIDs) == 0 {
		return nil, dropped
	}
	return out, dropped
}

// Package main is the entry point for the nightly ranking batch runner.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/config"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/ctr"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/formula"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/group"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/jobs"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/middleware"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/ranking"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/revenue"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/tracing"
)

const maxdateLayout = "2006-01-02 15:04:05"

type options struct {
	migrate      bool
	maxdate      string
	groups       bool
	teaserOF     bool
	newArticles  bool
	cheatFormula string
	revenue      bool
	ordering     bool
	full         bool
	ids          string
	dump         bool
	configPath   string
}

// validate rejects flag combinations that would corrupt published data. A
// full publish replaces the whole live collection, so restricting the run
// to a subset of entries would erase everyone else's records.
func (o options) validate() error {
	if !o.migrate && !o.groups && !o.teaserOF && !o.newArticles &&
		!o.revenue && !o.ordering && !o.dump {
		return errors.New("nothing to do: pass at least one operation flag (see -help)")
	}
	if o.full && o.ids != "" {
		return errors.New("-full replaces the whole ranking collection and cannot be combined with -ids")
	}
	return nil
}

// app bundles the wired components shared by the batch operations.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *jobs.Metrics

	catalog    catalog.Repository
	aggregates ctr.AggregateStore
	events     ctr.EventStore
	records    ranking.RecordStore
	groups     *group.Resolver
	preloader  *ranking.Preloader
	publisher  *ranking.Publisher
	recalc     *revenue.Recalculator
}

func main() {
	var opts options
	flag.BoolVar(&opts.migrate, "migrate", false, "migrate staged events into the daily aggregates")
	flag.StringVar(&opts.maxdate, "maxdate", "", "migration cutoff as '2006-01-02 15:04:05' UTC (default: one session window ago)")
	flag.BoolVar(&opts.groups, "groups", false, "resolve multi-entry groups and publish the group links")
	flag.BoolVar(&opts.teaserOF, "teaserof", false, "compute and publish teaser ranking values")
	flag.BoolVar(&opts.newArticles, "newarticles", false, "compute and publish new-article ranking values")
	flag.StringVar(&opts.cheatFormula, "cheat-formula", "", "override every shop formula for this run")
	flag.BoolVar(&opts.revenue, "revenue", false, "recompute rolling-window revenue and purchases")
	flag.BoolVar(&opts.ordering, "ordering", false, "recompute display counts and base rankings")
	flag.BoolVar(&opts.full, "full", false, "replace the whole ranking collection instead of targeted writes")
	flag.StringVar(&opts.ids, "ids", "", "comma-separated entry ids to target (default: all live entries)")
	flag.BoolVar(&opts.dump, "dump", false, "print the published records of the targeted entries")
	flag.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Ordering Factor Batch Runner")
		fmt.Println()
		fmt.Println("Usage: ofbatch [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if err := opts.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, errs := config.Load(opts.configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "of-batch",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporterType,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}()

	a := newApp(cfg, logger, db, rdb)
	if err := a.run(ctx, opts); err != nil {
		logger.Error("batch run failed", "error", err)
		shutdownTracing(tracer, logger)
		os.Exit(1)
	}
	shutdownTracing(tracer, logger)
}

func newApp(cfg *config.Config, logger *slog.Logger, db *sql.DB, rdb *redis.Client) *app {
	repo := catalog.NewPostgresRepository(db, logger)
	aggregates := ctr.NewPostgresAggregateStore(db, logger)
	events := ctr.NewRedisEventStore(rdb)
	records := ranking.NewRedisRecordStore(rdb)
	resolver := group.NewResolver(repo, logger)
	metrics := jobs.NewMetrics()

	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		catalog:    repo,
		aggregates: aggregates,
		events:     events,
		records:    records,
		groups:     resolver,
		preloader:  ranking.NewPreloader(repo, aggregates, resolver, logger),
		publisher:  ranking.NewPublisher(records, logger, metrics, cfg.SettleDelay, cfg.StagedTTL, cfg.CachePurgePatterns),
		recalc:     revenue.NewRecalculator(repo, aggregates, revenue.NewPostgresWriter(db), logger, cfg.SettleDelay),
	}
}

// run executes the requested operations in pipeline order: migration, group
// resolution, ranking computation, sales and ordering recomputes, dump.
func (a *app) run(ctx context.Context, opts options) error {
	ids, err := parseIDs(opts.ids)
	if err != nil {
		return err
	}

	if opts.migrate {
		cutoff, err := migrationCutoff(opts.maxdate, time.Now().UTC(), a.cfg.SessionLiveTime())
		if err != nil {
			return err
		}
		if err := a.timed(ctx, jobs.JobTypeEventMigration, func(ctx context.Context) error {
			return a.runMigration(ctx, cutoff)
		}); err != nil {
			return err
		}
	}

	if opts.groups {
		if err := a.timed(ctx, jobs.JobTypeGroupResolve, func(ctx context.Context) error {
			return a.runGroups(ctx, ids)
		}); err != nil {
			return err
		}
	}

	if opts.teaserOF || opts.newArticles {
		if err := a.timed(ctx, jobs.JobTypeRankingCompute, func(ctx context.Context) error {
			return a.runRankings(ctx, ids, opts)
		}); err != nil {
			return err
		}
	}

	if opts.revenue {
		if err := a.timed(ctx, jobs.JobTypeRevenueRecalc, func(ctx context.Context) error {
			_, err := a.recalc.RecalculateSales(ctx, ids)
			return err
		}); err != nil {
			return err
		}
	}

	if opts.ordering {
		if err := a.timed(ctx, jobs.JobTypeBaseRanking, func(ctx context.Context) error {
			_, err := a.recalc.RecalculateOrdering(ctx, ids)
			return err
		}); err != nil {
			return err
		}
	}

	if opts.dump {
		if err := a.runDump(ctx, ids); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) runMigration(ctx context.Context, cutoff time.Time) error {
	migrator := ctr.NewMigrator(
		a.events,
		a.aggregates,
		a.catalog,
		a.logger,
		time.Duration(a.cfg.MaxOverHours)*time.Hour,
		a.cfg.StagedTTL,
	)
	_, err := migrator.Migrate(ctx, cutoff)
	return err
}

// runGroups resolves multi-entry groups and folds the links into the live
// records without touching the ranking values.
func (a *app) runGroups(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		entries, err := a.catalog.ActiveEntries(ctx)
		if err != nil {
			return fmt.Errorf("loading live entries: %w", err)
		}
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	resolved, err := a.groups.ResolveGroups(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolving groups: %w", err)
	}

	existing, err := a.records.GetMulti(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading live records: %w", err)
	}
	updated := 0
	for _, id := range ids {
		rec := existing[id]
		siblings := resolved[id]
		if rec == nil {
			if len(siblings) == 0 {
				continue
			}
			rec = &ranking.Record{}
		}
		if equalIDs(rec.GroupIDs, siblings) {
			continue
		}
		rec.GroupIDs = siblings
		if err := a.records.Put(ctx, id, rec); err != nil {
			return fmt.Errorf("publishing group links of entry %d: %w", id, err)
		}
		updated++
	}
	a.logger.Info("published group links", "entries", len(ids), "updated", updated)
	return nil
}

// runRankings computes the requested ranking sections and publishes them in
// one pass so a full publish carries both sections.
func (a *app) runRankings(ctx context.Context, ids []int64, opts options) error {
	if opts.cheatFormula != "" {
		if err := formula.Validate(opts.cheatFormula); err != nil {
			return fmt.Errorf("cheat formula: %w", err)
		}
	}

	records := make(map[int64]*ranking.Record)

	if opts.teaserOF {
		run, err := a.preloader.PreloadTeasers(ctx, ids)
		if err != nil {
			return fmt.Errorf("preloading teaser run: %w", err)
		}
		ev := ranking.NewEvaluator(run, a.records, a.logger, a.metrics)
		ev.CheatFormula = opts.cheatFormula
		tuples, err := ranking.Collect(ev.Teasers(ctx))
		if err != nil {
			return fmt.Errorf("evaluating teaser formulas: %w", err)
		}
		mergeSection(records, run, tuples, false)
	}

	if opts.newArticles {
		run, err := a.preloader.PreloadNewArticles(ctx, ids)
		if err != nil {
			return fmt.Errorf("preloading new-article run: %w", err)
		}
		ev := ranking.NewEvaluator(run, a.records, a.logger, a.metrics)
		ev.CheatFormula = opts.cheatFormula
		tuples, err := ranking.Collect(ev.NewArticles(ctx))
		if err != nil {
			return fmt.Errorf("evaluating new-article formulas: %w", err)
		}
		mergeSection(records, run, tuples, true)
	}

	_, err := a.publisher.Publish(ctx, records, opts.full)
	return err
}

func (a *app) runDump(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("-dump requires -ids")
	}
	records, err := a.records.GetMulti(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, id := range ids {
		line := struct {
			EntryID int64           `json:"entry_id"`
			Record  *ranking.Record `json:"record"`
		}{EntryID: id, Record: records[id]}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

// timed wraps one operation with job metrics and a span.
func (a *app) timed(ctx context.Context, jobType string, fn func(context.Context) error) error {
	ctx, endSpan := tracing.StartSpan(ctx, jobType)
	start := time.Now()
	err := fn(ctx)
	endSpan(err)
	a.metrics.ObserveJobDuration(jobType, time.Since(start).Seconds())
	if err != nil {
		a.metrics.IncJobsTotal(jobType, jobs.StatusFailure)
		a.metrics.IncJobErrors(jobType, "run_failed")
		return err
	}
	a.metrics.IncJobsTotal(jobType, jobs.StatusSuccess)
	a.logger.Info("job finished", "job_type", jobType, "duration", time.Since(start))
	return nil
}

// mergeSection folds one evaluated section and the run's group links into
// the outgoing record set.
func mergeSection(records map[int64]*ranking.Record, run *ranking.Context, tuples map[int64][]ranking.Tuple, newArticles bool) {
	for _, id := range run.Order {
		rec, ok := records[id]
		if !ok {
			rec = &ranking.Record{}
			records[id] = rec
		}
		if newArticles {
			rec.NewArticles = append(rec.NewArticles, tuples[id]...)
		} else {
			rec.Teasers = append(rec.Teasers, tuples[id]...)
		}
		if len(rec.GroupIDs) == 0 {
			rec.GroupIDs = run.Entries[id].GroupIDs
		}
	}
}

// migrationCutoff resolves the -maxdate flag. Without an explicit date the
// cutoff sits one session window in the past so in-flight sessions keep
// their dedup history staged.
func migrationCutoff(maxdate string, now time.Time, sessionLive time.Duration) (time.Time, error) {
	if maxdate == "" {
		return now.Add(-sessionLive), nil
	}
	cutoff, err := time.ParseInLocation(maxdateLayout, maxdate, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -maxdate: %w", err)
	}
	return cutoff, nil
}

func parseIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid entry id %q in -ids", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func shutdownTracing(tracer *tracing.Provider, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracer.Shutdown(ctx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}
}

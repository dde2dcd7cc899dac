package ranking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/formula"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/jobs"
)

// MaxFormulaErrors bounds pathological formulas: once this many variable or
// evaluation errors accumulate in one run, the evaluator stops early.
const MaxFormulaErrors = 5000

// maxCategoryList truncates the per-category ranking lists consumed by the
// order-statistics functions.
const maxCategoryList = 100

// ErrTooManyErrors aborts an evaluation stream once the error ceiling is hit.
var ErrTooManyErrors = errors.New("formula error ceiling exceeded")

var (
	topPattern         = regexp.MustCompile(`^top_([0-9]+)_main_category$`)
	setPositionPattern = regexp.MustCompile(`^setPosition_([0-9]+)_onEachCategory$`)
)

// Evaluator turns a preloaded run context into a lazy stream of ranking
// tuples. One Evaluator serves one run; its function cache and error counter
// are not reused.
type Evaluator struct {
	run     *Context
	store   RecordStore
	logger  *slog.Logger
	metrics *jobs.Metrics

	// CheatFormula, when set, overrides every shop formula for the run.
	CheatFormula string

	errorCount int
	exprCache  map[string]*formula.Expr
	catCache   map[catalog.CategoryKey][]float64
}

// NewEvaluator creates an Evaluator over a preloaded context. The record
// store supplies the previously published teaser values consumed by the
// order-statistics functions; metrics may be nil.
func NewEvaluator(run *Context, store RecordStore, logger *slog.Logger, metrics *jobs.Metrics) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		run:       run,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		exprCache: make(map[string]*formula.Expr),
		catCache:  make(map[catalog.CategoryKey][]float64),
	}
}

// ErrorCount returns the number of formula errors accumulated so far.
func (e *Evaluator) ErrorCount() int {
	return e.errorCount
}

// Teasers lazily evaluates the teaser formula for every (entry, teaser) and
// replicates the value across the entry's assigned categories. The sequence
// yields a terminal non-nil error only when the error ceiling aborts the run.
func (e *Evaluator) Teasers(ctx context.Context) iter.Seq2[EntryTuple, error] {
	return func(yield func(EntryTuple, error) bool) {
		for _, entryID := range e.run.Order {
			data := e.run.Entries[entryID]
			expr := e.selectFormula(data.Shop.TeaserFormula)

			for _, teaser := range data.Teasers {
				if e.errorCount > MaxFormulaErrors {
					yield(EntryTuple{}, fmt.Errorf("%w: %d errors", ErrTooManyErrors, e.errorCount))
					return
				}
				for _, assignment := range data.Categories {
					value := e.evalOne(ctx, expr, data, teaser, assignment.CategoryID, false)
					if !yield(EntryTuple{
						EntryID: entryID,
						Tuple: Tuple{
							DocID:      teaser.DocID,
							DocType:    teaser.DocType,
							CategoryID: assignment.CategoryID,
							Value:      Value(value),
						},
					}, nil) {
						return
					}
				}
			}
		}
	}
}

// NewArticles lazily evaluates the new-article formula per (category, entry,
// teaser). Evaluation errors yield the suppression sentinel instead of 0 so
// the publisher drops the tuple and the entry reads back as 0.
func (e *Evaluator) NewArticles(ctx context.Context) iter.Seq2[EntryTuple, error] {
	return func(yield func(EntryTuple, error) bool) {
		for _, entryID := range e.run.Order {
			data := e.run.Entries[entryID]
			expr := e.selectFormula(data.Shop.NewArticleFormula)

			for _, assignment := range data.Categories {
				for _, teaser := range data.Teasers {
					if e.errorCount > MaxFormulaErrors {
						yield(EntryTuple{}, fmt.Errorf("%w: %d errors", ErrTooManyErrors, e.errorCount))
						return
					}
					value := e.evalOne(ctx, expr, data, teaser, assignment.CategoryID, true)
					if !yield(EntryTuple{
						EntryID: entryID,
						Tuple: Tuple{
							DocID:      teaser.DocID,
							DocType:    teaser.DocType,
							CategoryID: assignment.CategoryID,
							Value:      Value(value),
						},
					}, nil) {
						return
					}
				}
			}
		}
	}
}

// Collect drains an evaluation sequence into per-entry tuple lists. The
// partial result and the stream's terminal error are both returned when the
// error ceiling aborted the run.
func Collect(seq iter.Seq2[EntryTuple, error]) (map[int64][]Tuple, error) {
	out := make(map[int64][]Tuple)
	for et, err := range seq {
		if err != nil {
			return out, err
		}
		out[et.EntryID] = append(out[et.EntryID], et.Tuple)
	}
	return out, nil
}

// selectFormula picks the cheat override or the shop formula and parses it,
// caching parsed expressions per source text. A nil result means the formula
// is empty or unparsable and evaluates to 0.
func (e *Evaluator) selectFormula(shopFormula string) *formula.Expr {
	src := shopFormula
	if e.CheatFormula != "" {
		src = e.CheatFormula
	}
	if src == "" {
		return nil
	}

	if expr, ok := e.exprCache[src]; ok {
		return expr
	}
	expr, err := formula.Parse(src)
	if err != nil {
		e.countError("parse_error")
		e.logger.Warn("unparsable formula evaluates to 0", "formula", src, "error", err)
		expr = nil
	}
	e.exprCache[src] = expr
	return expr
}

// evalOne evaluates one (entry, teaser, category) combination. Errors are
// coerced to 0 (or the suppression sentinel in new-article mode) and counted.
func (e *Evaluator) evalOne(ctx context.Context, expr *formula.Expr, data *EntryData, teaser catalog.Teaser, categoryID int64, newArticle bool) float64 {
	if expr == nil {
		return 0
	}

	value, err := expr.Eval(e.resolver(ctx, data, teaser, categoryID, newArticle))
	if err != nil {
		switch {
		case errors.Is(err, formula.ErrDivisionByZero):
			e.countError("division_by_zero")
		case errors.Is(err, formula.ErrNotFinite):
			e.countError("not_finite")
		case errors.Is(err, formula.ErrUnknownVariable):
			e.countError("unresolved_variable")
			e.logger.Warn("unresolvable formula variable",
				"entry_id", data.Entry.ID, "error", err)
		default:
			e.countError("eval_error")
		}
		if newArticle {
			return Sentinel
		}
		return 0
	}
	return Round(value)
}

func (e *Evaluator) countError(reason string) {
	e.errorCount++
	if e.metrics != nil {
		e.metrics.IncFormulaErrors(reason)
	}
}

// unresolved handles a name the resolver cannot bind. Teaser formulas count
// the error and substitute 0 so the rest of the formula still evaluates;
// new-article formulas abort so the entry is suppressed.
func (e *Evaluator) unresolved(entryID int64, name string, newArticle bool) (float64, error) {
	if newArticle {
		return 0, fmt.Errorf("%s: %w", name, formula.ErrUnknownVariable)
	}
	e.countError("unresolved_variable")
	e.logger.Warn("unresolvable formula variable evaluates to 0",
		"entry_id", entryID, "variable", name)
	return 0, nil
}

// resolver binds formula variable names for one (entry, teaser, category).
func (e *Evaluator) resolver(ctx context.Context, data *EntryData, teaser catalog.Teaser, categoryID int64, newArticle bool) formula.Resolver {
	return func(name string) (float64, error) {
		switch name {
		case "clicks":
			clicks, _ := data.TeaserCounts(teaser.DocID, teaser.DocType)
			return float64(clicks), nil
		case "impressions":
			_, impressions := data.TeaserCounts(teaser.DocID, teaser.DocType)
			return float64(impressions), nil
		case "CTR":
			return data.TeaserCTR(teaser.DocID, teaser.DocType), nil
		case "clicksAll":
			return float64(data.ClicksAll), nil
		case "impressionsAll":
			return float64(data.ImpressionsAll), nil
		case "CTRAll":
			return data.CTRAll, nil
		case "revenue", "timed_revenue":
			return data.Revenue, nil
		case "purchases", "timed_purchases":
			return float64(data.Purchases), nil
		case "display_count":
			return float64(data.Entry.DisplayCount), nil
		case "base_ranking":
			return data.Entry.BaseRanking, nil
		case "availability_factor":
			avail := e.run.Availability(data.Entry.ShopID)
			if avail == nil {
				return 0, nil
			}
			return avail.Factor(&data.Entry), nil
		}

		if m := topPattern.FindStringSubmatch(name); m != nil {
			k, err := parseK(m[1])
			if err != nil {
				return e.unresolved(data.Entry.ID, name, newArticle)
			}
			list, err := e.categoryList(ctx, catalog.CategoryKey{
				CategoryID: data.MainCategory(),
				ShopID:     data.Entry.ShopID,
			})
			if err != nil {
				return 0, err
			}
			return topK(list, k), nil
		}
		if m := setPositionPattern.FindStringSubmatch(name); m != nil {
			k, err := parseK(m[1])
			if err != nil {
				return e.unresolved(data.Entry.ID, name, newArticle)
			}
			list, err := e.categoryList(ctx, catalog.CategoryKey{
				CategoryID: categoryID,
				ShopID:     data.Entry.ShopID,
			})
			if err != nil {
				return 0, err
			}
			return setPositionK(list, k), nil
		}

		return e.unresolved(data.Entry.ID, name, newArticle)
	}
}

// parseK validates the K parameter of the ranking functions.
func parseK(s string) (int, error) {
	k, err := strconv.Atoi(s)
	if err != nil || k < 1 || k > 99 {
		return 0, fmt.Errorf("ranking function position %s out of range: %w", s, formula.ErrUnknownVariable)
	}
	return k, nil
}

// categoryList returns the descending-sorted primary-teaser ranking values
// of the live entries in one (category, shop), truncated to 100 values and
// cached for the run. Values come from the published records of the previous
// teaser pass.
func (e *Evaluator) categoryList(ctx context.Context, key catalog.CategoryKey) ([]float64, error) {
	if list, ok := e.catCache[key]; ok {
		return list, nil
	}

	var list []float64
	ids := e.run.CategoryEntries[key]
	if len(ids) > 0 {
		records, err := e.store.GetMulti(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			rec := records[id]
			if rec == nil {
				continue
			}
			if value, ok := primaryTeaserValue(rec, key.CategoryID); ok {
				list = append(list, value)
			}
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(list)))
		if len(list) > maxCategoryList {
			list = list[:maxCategoryList]
		}
	}

	e.catCache[key] = list
	return list, nil
}

// primaryTeaserValue extracts the primary-teaser teaser-pass value for one
// category from a published record.
func primaryTeaserValue(rec *Record, categoryID int64) (float64, bool) {
	for _, t := range rec.Teasers {
		if t.DocType == catalog.DocTypePrimary && t.CategoryID == categoryID {
			return float64(t.Value), true
		}
	}
	return 0, false
}

// topK returns the K-th value (1-indexed) of a descending list, the last
// value when K exceeds the list, or 0 for an empty list.
func topK(list []float64, k int) float64 {
	if len(list) == 0 {
		return 0
	}
	if k > len(list) {
		return list[len(list)-1]
	}
	return list[k-1]
}

// setPositionK returns a value that slots in at position K of a descending
// list: 1.1x the top for K=1 (or 1 on an empty list), the midpoint of the
// neighbors when both exist, otherwise 0.9x the last value (or 1 on an empty
// list).
func setPositionK(list []float64, k int) float64 {
	if k == 1 {
		if len(list) == 0 {
			return 1
		}
		return list[0] * 1.1
	}
	if len(list) >= k {
		return (list[k-2] + list[k-1]) / 2
	}
	if len(list) > 0 {
		return list[len(list)-1] * 0.9
	}
	return 1
}

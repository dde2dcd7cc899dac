package ranking

import (
	"math"
	"time"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

// Availability computes the availability-factor variable for one shop. The
// factor rewards entries that are on stock or arriving soon, per the shop's
// stepped range table.
type Availability struct {
	table         []catalog.AvailabilityRange
	onStockFactor float64
	arrivals      map[int64]time.Time
	now           time.Time
}

// NewAvailability creates an Availability for one shop. arrivals maps
// container ids to their arrival dates.
func NewAvailability(table []catalog.AvailabilityRange, onStockFactor float64, arrivals map[int64]time.Time, now time.Time) *Availability {
	return &Availability{
		table:         table,
		onStockFactor: onStockFactor,
		arrivals:      arrivals,
		now:           now,
	}
}

// maxLeadTimeWeeks caps the fixed lead-time fallback; longer lead times
// carry no availability signal.
const maxLeadTimeWeeks = 52

// Factor returns the availability factor for an entry. On-stock entries get
// the shop's on-stock factor. Otherwise the availability date comes from the
// manual date, the referenced container's arrival, or the fixed lead time, in
// that order; the day distance is looked up in the range table. A date at or
// before now, a missing lead time, and a distance outside every range all
// yield 0.
func (a *Availability) Factor(e *catalog.Entry) float64 {
	if e.OnStock {
		return a.onStockFactor
	}

	var available time.Time
	switch {
	case e.ManualAvailability != nil:
		available = *e.ManualAvailability
	case e.ContainerID != 0:
		arrival, ok := a.arrivals[e.ContainerID]
		if !ok {
			return 0
		}
		available = arrival
	default:
		if e.LeadTimeWeeks <= 0 || e.LeadTimeWeeks > maxLeadTimeWeeks {
			return 0
		}
		available = a.now.Add(time.Duration(e.LeadTimeWeeks) * 7 * 24 * time.Hour)
	}

	if !available.After(a.now) {
		return 0
	}
	days := int(math.Ceil(available.Sub(a.now).Hours() / 24))

	for _, r := range a.table {
		if days >= r.DaysFrom && days <= r.DaysTo {
			return r.Factor
		}
	}
	return 0
}

// Package catalog defines the marketplace domain model used by the
// ordering-factor pipeline and provides read access to it.
package catalog

import "time"

// DocType identifies the kind of teaser document attached to an entry.
type DocType string

// Teaser document types.
const (
	DocTypePrimary       DocType = "primary"
	DocTypeColor         DocType = "color"
	DocTypeWhiteShadow   DocType = "whitesh"
	DocTypeWhiteNoShadow DocType = "whitenosh"
)

// Valid reports whether t is one of the known document types.
func (t DocType) Valid() bool {
	switch t {
	case DocTypePrimary, DocTypeColor, DocTypeWhiteShadow, DocTypeWhiteNoShadow:
		return true
	}
	return false
}

// Entry is a rankable catalog listing.
type Entry struct {
	ID       int64
	ShopID   int64
	OwnerKey string
	SiteKey  string

	// Grouping. GroupKey links entries that share a ranking; MasterID is
	// non-zero for slave entries attached to a master.
	GroupKey string
	MasterID int64
	IsMaster bool

	Inactive    bool
	Stale       bool
	ActivatedAt time.Time

	// Availability parameters.
	OnStock            bool
	ContainerID        int64
	LeadTimeWeeks      int
	ManualAvailability *time.Time

	// Rolling-window aggregates maintained by the recompute jobs.
	TimedRevenue   float64
	TimedPurchases int64
	DisplayCount   int64
	BaseRanking    float64
}

// Live reports whether the entry participates in grouping and ranking.
func (e *Entry) Live() bool {
	return !e.Inactive && !e.Stale
}

// Teaser is a (document, document type) pair attached to an entry.
// An entry has exactly one primary teaser and zero or more alternates.
type Teaser struct {
	EntryID int64
	DocID   int64
	DocType DocType
	Primary bool
}

// Shop carries the per-shop ranking configuration.
type Shop struct {
	ID                   int64
	CTRWindowDays        int
	RevenueWindowDays    int
	NewArticleWindowDays int
	TeaserFormula        string
	NewArticleFormula    string
	OnStockFactor        float64
	NewCategoryID        int64
}

// CategoryAssignment links an entry to a category. Main marks the entry's
// primary category.
type CategoryAssignment struct {
	EntryID    int64
	CategoryID int64
	Main       bool
}

// AvailabilityRange is one step of a shop's availability-factor table:
// entries becoming available within [DaysFrom, DaysTo] days get Factor.
type AvailabilityRange struct {
	DaysFrom int
	DaysTo   int
	Factor   float64
}

// SaleAggregate is the deduplicated revenue/purchase rollup for one entry
// over a rolling window.
type SaleAggregate struct {
	Revenue   float64
	Purchases int64
}

// CategoryKey identifies a per-shop category ranking list.
type CategoryKey struct {
	CategoryID int64
	ShopID     int64
}

// Package ranking implements the ordering-factor computation pipeline:
// variable preloading, formula evaluation, publishing to the fast read path,
// and ranking lookups.
package ranking

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

// Precision is the number of decimal places kept on every published value.
const Precision = 3

// Sentinel marks a tuple whose value is intentionally suppressed. Such
// tuples never reach the published record; the entry reads back as 0.
const Sentinel = -1

// Round rounds a value to the publishing precision.
func Round(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Value is a ranking value serialized as a fixed 3-decimal string.
type Value float64

// MarshalJSON renders the value as a 3-decimal string, e.g. "1.234".
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatFloat(float64(v), 'f', Precision, 64))), nil
}

// UnmarshalJSON accepts both the string form and a bare number.
func (v *Value) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid ranking value %s: %w", s, err)
		}
		s = unquoted
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid ranking value %s: %w", s, err)
	}
	*v = Value(f)
	return nil
}

// Tuple is one computed ranking value for an (entry, category, document,
// document type) combination. The entry id is the record's hash field, not
// part of the tuple.
type Tuple struct {
	DocID      int64           `json:"di"`
	DocType    catalog.DocType `json:"dt"`
	CategoryID int64           `json:"ci"`
	Value      Value           `json:"of"`
}

// Record is the published ranking state of one entry: the new-article and
// per-teaser sub-collections plus the entry's multi-entry group. Records are
// overwritten wholesale on publish, never partially mutated.
type Record struct {
	NewArticles []Tuple `json:"NA,omitempty"`
	Teasers     []Tuple `json:"TE,omitempty"`
	GroupIDs    []int64 `json:"MU,omitempty"`
}

// EncodeRecord serializes a record for the cache store.
func EncodeRecord(rec *Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ranking record: %w", err)
	}
	return raw, nil
}

// DecodeRecord deserializes a record read from the cache store.
func DecodeRecord(raw []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode ranking record: %w", err)
	}
	return &rec, nil
}

// EntryTuple pairs a tuple with its entry, as emitted by the evaluator.
type EntryTuple struct {
	EntryID int64
	Tuple   Tuple
}

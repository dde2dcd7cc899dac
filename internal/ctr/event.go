// Package ctr implements click/impression event staging in the fast cache
// and migration of staged events into the durable daily aggregates.
package ctr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

// Kind distinguishes clicks from impressions.
type Kind string

// Event kinds.
const (
	KindClick      Kind = "click"
	KindImpression Kind = "impression"
)

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	return k == KindClick || k == KindImpression
}

// Session log field codes. Accepted events land under the short codes,
// window-deduplicated repeats under the skipped codes for audit.
const (
	CodeImpression        = "i"
	CodeImpressionSkipped = "j"
	CodeClick             = "c"
	CodeClickSkipped      = "k"
)

// Event is a single click or impression observed on a listing page.
type Event struct {
	DocID     int64
	DocType   catalog.DocType
	EntryID   int64
	Kind      Kind
	SessionID string
	Time      time.Time
}

// SessionLog holds the ordered unix timestamps recorded for one session under
// one staged key, grouped by field code.
type SessionLog map[string][]int64

// Last returns the most recent timestamp recorded under the given code and
// whether any exists.
func (l SessionLog) Last(code string) (int64, bool) {
	ts := l[code]
	if len(ts) == 0 {
		return 0, false
	}
	return ts[len(ts)-1], true
}

// Append records a timestamp under the given code.
func (l SessionLog) Append(code string, ts int64) {
	l[code] = append(l[code], ts)
}

// ErrMalformedKey is returned when a staged key does not follow the
// {doc_id}_{doc_type}_{entry_id} composite format.
var ErrMalformedKey = errors.New("malformed staged key")

// Key builds the composite staged-store key for a (document, type, entry).
func Key(docID int64, docType catalog.DocType, entryID int64) string {
	return fmt.Sprintf("%d_%s_%d", docID, docType, entryID)
}

// ParseKey splits a composite staged-store key back into its parts.
func ParseKey(key string) (docID int64, docType catalog.DocType, entryID int64, err error) {
	parts := strings.Split(key, "_")
	if len(parts) != 3 {
		return 0, "", 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}

	docID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	entryID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, "", 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	docType = catalog.DocType(parts[1])
	if !docType.Valid() {
		return 0, "", 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}

	return docID, docType, entryID, nil
}

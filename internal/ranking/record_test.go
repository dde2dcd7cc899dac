package ranking

import (
	"encoding/json"
	"testing"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

func TestValueMarshalsAsFixedDecimalString(t *testing.T) {
	raw, err := json.Marshal(Tuple{DocID: 100, DocType: catalog.DocTypePrimary, CategoryID: 7, Value: 13})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"di":100,"dt":"primary","ci":7,"of":"13.000"}`
	if string(raw) != want {
		t.Errorf("Marshal() = %s, want %s", raw, want)
	}
}

func TestValueUnmarshalAcceptsStringAndNumber(t *testing.T) {
	for _, raw := range []string{`"2.500"`, `2.5`} {
		var v Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", raw, err)
		}
		if float64(v) != 2.5 {
			t.Errorf("Unmarshal(%s) = %v, want 2.5", raw, v)
		}
	}
}

func TestRecordRoundTrip(t *testing.T) {
	rec := &Record{
		NewArticles: []Tuple{{DocID: 1, DocType: catalog.DocTypePrimary, CategoryID: 7, Value: 0.043}},
		Teasers:     []Tuple{{DocID: 1, DocType: catalog.DocTypeColor, CategoryID: 7, Value: 2}},
		GroupIDs:    []int64{4, 5},
	}
	raw, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	got, err := DecodeRecord(raw)
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}
	if len(got.NewArticles) != 1 || float64(got.NewArticles[0].Value) != 0.043 {
		t.Errorf("new articles = %+v, want value 0.043", got.NewArticles)
	}
	if len(got.GroupIDs) != 2 {
		t.Errorf("group ids = %v, want [4 5]", got.GroupIDs)
	}
}

func TestEmptyRecordOmitsSections(t *testing.T) {
	raw, err := EncodeRecord(&Record{GroupIDs: []int64{9}})
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	if string(raw) != `{"MU":[9]}` {
		t.Errorf("EncodeRecord() = %s, want only the MU section", raw)
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.0426, 0.043},
		{0.0424, 0.042},
		{-1, -1},
		{2, 2},
	}
	for _, tc := range tests {
		if got := Round(tc.in); got != tc.want {
			t.Errorf("Round(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

package main

import (
	"testing"
	"time"
)

func TestMigrationCutoffDefaultKeepsSessionWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cutoff, err := migrationCutoff("", now, 2*time.Hour)
	if err != nil {
		t.Fatalf("migrationCutoff failed: %v", err)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", cutoff, want)
	}
}

func TestMigrationCutoffExplicitMaxdate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cutoff, err := migrationCutoff("2026-02-28 23:30:00", now, 2*time.Hour)
	if err != nil {
		t.Fatalf("migrationCutoff failed: %v", err)
	}
	want := time.Date(2026, 2, 28, 23, 30, 0, 0, time.UTC)
	if !cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", cutoff, want)
	}

	if _, err := migrationCutoff("next tuesday", now, 2*time.Hour); err == nil {
		t.Error("expected an error for an unparsable -maxdate")
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		wantErr bool
	}{
		{"no operation", options{}, true},
		{"single operation", options{teaserOF: true}, false},
		{"full over all entries", options{teaserOF: true, full: true}, false},
		{"targeted run", options{teaserOF: true, ids: "1,2"}, false},
		{"full with id subset", options{teaserOF: true, full: true, ids: "1,2"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

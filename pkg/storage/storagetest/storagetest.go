// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/storage"
)

// Clock is a settable time source for deterministic transitions.
type Clock struct {
	t time.Time
}

// NewClock starts a clock at the given unix second.
func NewClock(sec int64) *Clock {
	return &Clock{t: time.Unix(sec, 0).UTC()}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time { return c.t }

// Set moves the clock to the given unix second.
func (c *Clock) Set(sec int64) { c.t = time.Unix(sec, 0).UTC() }

// Factory builds an empty store whose transitions are stamped by clock.
type Factory func(t *testing.T, clock *Clock) storage.Storage

var (
	lines    = storage.Lines(document.NewDetector("created"))
	stations = storage.Stations(document.NewDetector("created"))
)

// Doc parses a JSON literal, failing the test on error.
func Doc(t *testing.T, raw string) document.Document {
	t.Helper()
	d, err := document.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return d
}

// Run exercises the storage contract against a backend.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, factory Factory)
	}{
		{"FirstObservationOpensInterval", testFirstObservation},
		{"IgnoredFieldChangeIsNoop", testIgnoredFieldNoop},
		{"MaterialChangeClosesAndOpens", testMaterialChange},
		{"StationDisappearanceCloses", testStationDisappearance},
		{"LinesNeverCloseOnAbsence", testLinesKeepOpen},
		{"Idempotent", testIdempotent},
		{"RangeQueryOverlap", testRangeQueryOverlap},
		{"FamiliesAreIsolated", testFamiliesIsolated},
		{"ReappearanceOpensNewInterval", testReappearance},
		{"CancelledContext", testCancelledContext},
		{"Stats", testStats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, factory)
		})
	}
}

func query(t *testing.T, store storage.Storage, family storage.Family, start, end int64) map[string][]storage.Interval {
	t.Helper()
	got, err := store.RangeQuery(context.Background(), family, time.Unix(start, 0), time.Unix(end, 0))
	if err != nil {
		t.Fatalf("RangeQuery failed: %v", err)
	}
	return got
}

func transition(t *testing.T, store storage.Storage, family storage.Family, snapshot map[string]document.Document) *storage.TransitionResult {
	t.Helper()
	res, err := store.Transition(context.Background(), family, snapshot)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	return res
}

// AssertSingleOpen fails if any entity has more than one open interval.
func AssertSingleOpen(t *testing.T, grouped map[string][]storage.Interval) {
	t.Helper()
	for id, intervals := range grouped {
		open := 0
		for _, iv := range intervals {
			if iv.Open() {
				open++
			}
		}
		if open > 1 {
			t.Errorf("entity %s has %d open intervals", id, open)
		}
	}
}

func testFirstObservation(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	res := transition(t, store, lines, map[string]document.Document{"A": Doc(t, `{"s":1}`)})
	if res.Count(storage.ChangeOpened) != 1 {
		t.Errorf("expected 1 opened change, got %+v", res.Changes)
	}

	got := query(t, store, lines, 0, 1000)
	if len(got["A"]) != 1 {
		t.Fatalf("expected 1 interval for A, got %d", len(got["A"]))
	}
	iv := got["A"][0]
	if iv.Start.Unix() != 100 || !iv.Open() {
		t.Errorf("interval = start %d open %v, want start 100 open", iv.Start.Unix(), iv.Open())
	}
	if document.MateriallyChanged(iv.Data, Doc(t, `{"s":1}`), nil) {
		t.Errorf("stored data differs from observed document")
	}
}

func testIgnoredFieldNoop(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	transition(t, store, lines, map[string]document.Document{"A": Doc(t, `{"s":1,"created":"t1"}`)})
	clock.Set(160)
	res := transition(t, store, lines, map[string]document.Document{"A": Doc(t, `{"s":1,"created":"t2"}`)})

	if len(res.Changes) != 0 || res.Unchanged != 1 {
		t.Errorf("expected no changes, got %+v", res)
	}

	got := query(t, store, lines, 0, 1000)
	if len(got["A"]) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(got["A"]))
	}
	if got["A"][0].Start.Unix() != 100 || !got["A"][0].Open() {
		t.Errorf("open interval moved: %+v", got["A"][0])
	}
}

func testMaterialChange(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	transition(t, store, lines, map[string]document.Document{"A": Doc(t, `{"s":1}`)})
	clock.Set(160)
	res := transition(t, store, lines, map[string]document.Document{"A": Doc(t, `{"s":2}`)})
	if res.Count(storage.ChangeReplaced) != 1 {
		t.Errorf("expected 1 replaced change, got %+v", res.Changes)
	}

	got := query(t, store, lines, 0, 1000)["A"]
	if len(got) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(got))
	}
	if got[0].Start.Unix() != 100 || got[0].End == nil || got[0].End.Unix() != 160 {
		t.Errorf("first interval = %+v, want [100,160]", got[0])
	}
	if got[1].Start.Unix() != 160 || !got[1].Open() {
		t.Errorf("second interval = %+v, want [160,open)", got[1])
	}
	if got[1].Start != *got[0].End {
		t.Errorf("new interval does not start where the old one ended")
	}
}

func testStationDisappearance(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	transition(t, store, stations, map[string]document.Document{"S": Doc(t, `[{"type":"Closure"}]`)})
	clock.Set(160)
	res := transition(t, store, stations, map[string]document.Document{})
	if res.Count(storage.ChangeClosed) != 1 {
		t.Errorf("expected 1 closed change, got %+v", res.Changes)
	}

	got := query(t, store, stations, 0, 1000)["S"]
	if len(got) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(got))
	}
	if got[0].End == nil || got[0].End.Unix() != 160 {
		t.Errorf("interval = %+v, want closed at 160", got[0])
	}
}

func testLinesKeepOpen(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	transition(t, store, lines, map[string]document.Document{"A": Doc(t, `{"s":1}`)})
	clock.Set(160)
	transition(t, store, lines, map[string]document.Document{})

	got := query(t, store, lines, 0, 1000)["A"]
	if len(got) != 1 || !got[0].Open() {
		t.Errorf("line interval should stay open, got %+v", got)
	}
}

func testIdempotent(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	snapshot := map[string]document.Document{
		"A": Doc(t, `{"s":1}`),
		"B": Doc(t, `{"s":2}`),
	}
	for sec := int64(100); sec <= 400; sec += 60 {
		clock.Set(sec)
		transition(t, store, lines, snapshot)
	}

	got := query(t, store, lines, 0, 1000)
	AssertSingleOpen(t, got)
	for id, intervals := range got {
		if len(intervals) != 1 || intervals[0].Start.Unix() != 100 {
			t.Errorf("entity %s: expected one interval from 100, got %+v", id, intervals)
		}
	}
}

func testRangeQueryOverlap(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	// A: [100,200] then [200,open); B: [100,150] closed by station disappearance.
	transition(t, store, stations, map[string]document.Document{
		"A": Doc(t, `[{"v":1}]`),
		"B": Doc(t, `[{"v":1}]`),
	})
	clock.Set(150)
	transition(t, store, stations, map[string]document.Document{"A": Doc(t, `[{"v":1}]`)})
	clock.Set(200)
	transition(t, store, stations, map[string]document.Document{"A": Doc(t, `[{"v":2}]`)})

	tests := []struct {
		name       string
		start, end int64
		wantA      int
		wantB      int
	}{
		{"before everything", 0, 50, 0, 0},
		{"touches first start", 0, 100, 1, 1},
		{"inside first", 110, 120, 1, 1},
		{"touches closed end", 150, 150, 1, 1},
		{"after B closed", 151, 199, 1, 0},
		{"spans change", 190, 210, 2, 0},
		{"far future sees open interval", 5000, 6000, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := query(t, store, stations, tt.start, tt.end)
			if len(got["A"]) != tt.wantA {
				t.Errorf("A: got %d intervals, want %d", len(got["A"]), tt.wantA)
			}
			if len(got["B"]) != tt.wantB {
				t.Errorf("B: got %d intervals, want %d", len(got["B"]), tt.wantB)
			}
			for id, intervals := range got {
				for i := 1; i < len(intervals); i++ {
					if intervals[i].Start.Before(intervals[i-1].Start) {
						t.Errorf("%s intervals out of order", id)
					}
				}
			}
		})
	}
}

func testFamiliesIsolated(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	transition(t, store, lines, map[string]document.Document{"X": Doc(t, `{"s":1}`)})
	clock.Set(160)
	// An empty station snapshot must not close the line interval.
	transition(t, store, stations, map[string]document.Document{})

	if got := query(t, store, stations, 0, 1000); len(got) != 0 {
		t.Errorf("station family should be empty, got %v", got)
	}
	got := query(t, store, lines, 0, 1000)["X"]
	if len(got) != 1 || !got[0].Open() {
		t.Errorf("line interval affected by station transition: %+v", got)
	}
}

func testReappearance(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	doc := Doc(t, `[{"type":"Closure"}]`)
	transition(t, store, stations, map[string]document.Document{"S": doc})
	clock.Set(160)
	transition(t, store, stations, map[string]document.Document{})
	clock.Set(220)
	res := transition(t, store, stations, map[string]document.Document{"S": doc})
	if res.Count(storage.ChangeOpened) != 1 {
		t.Errorf("expected reappearance to open, got %+v", res.Changes)
	}

	got := query(t, store, stations, 0, 1000)["S"]
	if len(got) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(got))
	}
	if got[1].Start.Unix() != 220 || !got[1].Open() {
		t.Errorf("reopened interval = %+v", got[1])
	}
	AssertSingleOpen(t, map[string][]storage.Interval{"S": got})
}

func testCancelledContext(t *testing.T, factory Factory) {
	store := factory(t, NewClock(100))
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Transition(ctx, lines, map[string]document.Document{"A": Doc(t, `{}`)}); err == nil {
		t.Error("expected error for cancelled context")
	}

	if got := query(t, store, lines, 0, 1000); len(got) != 0 {
		t.Errorf("cancelled transition wrote data: %v", got)
	}
}

func testStats(t *testing.T, factory Factory) {
	clock := NewClock(100)
	store := factory(t, clock)
	defer store.Close()

	transition(t, store, lines, map[string]document.Document{"A": Doc(t, `{"s":1}`), "B": Doc(t, `{"s":1}`)})
	clock.Set(160)
	transition(t, store, lines, map[string]document.Document{"A": Doc(t, `{"s":2}`), "B": Doc(t, `{"s":1}`)})

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalIntervals != 3 {
		t.Errorf("TotalIntervals = %d, want 3", stats.TotalIntervals)
	}
	if stats.OpenIntervals != 2 {
		t.Errorf("OpenIntervals = %d, want 2", stats.OpenIntervals)
	}
	if stats.Entities[storage.LinesTable] != 2 {
		t.Errorf("Entities[lines] = %d, want 2", stats.Entities[storage.LinesTable])
	}
}

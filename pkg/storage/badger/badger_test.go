package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/storage"
	"github.com/nicktill/tubestatus/pkg/storage/storagetest"
)

func newInMemory(t *testing.T, clock *storagetest.Clock) *Storage {
	t.Helper()
	// Use in-memory mode for tests
	store, err := New(Config{InMemory: true, Now: clock.Now})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return store
}

func TestBadgerStorage_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock *storagetest.Clock) storage.Storage {
		return newInMemory(t, clock)
	})
}

func TestBadgerStorage_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	clock := storagetest.NewClock(100)
	family := storage.Stations(document.NewDetector("created"))
	ctx := context.Background()

	// Write to first instance
	{
		store, err := New(Config{Path: tmpDir, Now: clock.Now})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}

		_, err = store.Transition(ctx, family, map[string]document.Document{
			"940GZZLUBST": storagetest.Doc(t, `[{"type":"Closure"}]`),
		})
		if err != nil {
			t.Fatalf("Transition failed: %v", err)
		}
		store.Close()
	}

	// Reopen the same directory; the open interval must still be known so
	// that disappearance closes it.
	{
		clock.Set(160)
		store, err := New(Config{Path: tmpDir, Now: clock.Now})
		if err != nil {
			t.Fatalf("Failed to reopen storage: %v", err)
		}
		defer store.Close()

		res, err := store.Transition(ctx, family, map[string]document.Document{})
		if err != nil {
			t.Fatalf("Transition failed: %v", err)
		}
		if res.Count(storage.ChangeClosed) != 1 {
			t.Errorf("expected persisted interval to close, got %+v", res.Changes)
		}

		got, err := store.RangeQuery(ctx, family, time.Unix(0, 0), time.Unix(1000, 0))
		if err != nil {
			t.Fatalf("RangeQuery failed: %v", err)
		}
		intervals := got["940GZZLUBST"]
		if len(intervals) != 1 || intervals[0].End == nil || intervals[0].End.Unix() != 160 {
			t.Errorf("unexpected intervals after reopen: %+v", intervals)
		}
	}
}

func TestBadgerStorage_FailedTransitionRollsBack(t *testing.T) {
	clock := storagetest.NewClock(100)
	store := newInMemory(t, clock)
	defer store.Close()

	family := storage.Lines(document.NewDetector())
	ctx := context.Background()

	_, err := store.Transition(ctx, family, map[string]document.Document{
		"A": storagetest.Doc(t, `{"s":1}`),
		"B": storagetest.Doc(t, `{"s":1}`),
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	clock.Set(160)
	injected := errors.New("disk on fire")
	store.beforeCommit = func() error { return injected }

	_, err = store.Transition(ctx, family, map[string]document.Document{
		"A": storagetest.Doc(t, `{"s":2}`),
		"B": storagetest.Doc(t, `{"s":2}`),
	})
	var txnErr *storage.TxnError
	if !errors.As(err, &txnErr) {
		t.Fatalf("expected TxnError, got %v", err)
	}
	if !errors.Is(err, injected) {
		t.Errorf("TxnError should wrap the cause, got %v", err)
	}

	// Neither entity may show a partial close/insert.
	got, err := store.RangeQuery(ctx, family, time.Unix(0, 0), time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("RangeQuery failed: %v", err)
	}
	for _, id := range []string{"A", "B"} {
		intervals := got[id]
		if len(intervals) != 1 || !intervals[0].Open() || intervals[0].Start.Unix() != 100 {
			t.Errorf("%s: expected untouched open interval, got %+v", id, intervals)
		}
	}

	// The next tick succeeds against the untouched state.
	store.beforeCommit = nil
	res, err := store.Transition(ctx, family, map[string]document.Document{
		"A": storagetest.Doc(t, `{"s":2}`),
		"B": storagetest.Doc(t, `{"s":1}`),
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if res.Count(storage.ChangeReplaced) != 1 || res.Unchanged != 1 {
		t.Errorf("unexpected result after recovery: %+v", res)
	}
}

func TestBadgerStorage_PoolExhausted(t *testing.T) {
	store, err := New(Config{InMemory: true, MaxConnections: 1})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	// Hold the only slot.
	if err := store.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer store.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = store.RangeQuery(ctx, storage.Lines(document.Detector{}), time.Unix(0, 0), time.Unix(10, 0))
	if !storage.IsUnavailable(err) {
		t.Errorf("expected unavailable error, got %v", err)
	}
}

func TestBadgerStorage_ClosedStore(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing twice is harmless.
	if err := store.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	_, err = store.Transition(context.Background(), storage.Lines(document.Detector{}), nil)
	if !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Transition after Close = %v, want ErrClosed", err)
	}
	if err := store.RunGC(0.5); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("RunGC after Close = %v, want ErrClosed", err)
	}
}

func TestMakeKey_ParseKey(t *testing.T) {
	start := time.Unix(1700000000, 0)
	key := makeKey(storage.LinesTable, "victoria", start, 42)

	table, ts, hash := parseKey(key)
	if table != storage.LinesTable {
		t.Errorf("table = %q, want %q", table, storage.LinesTable)
	}
	if !ts.Equal(start) {
		t.Errorf("start = %v, want %v", ts, start)
	}
	if hash == 0 {
		t.Error("expected non-zero entity hash")
	}

	later := makeKey(storage.LinesTable, "victoria", start.Add(time.Minute), 1)
	if string(later) <= string(key) {
		t.Error("keys of one entity must sort by start time")
	}
	sameSecond := makeKey(storage.LinesTable, "victoria", start, 43)
	if string(sameSecond) <= string(key) {
		t.Error("keys starting in the same second must sort by sequence")
	}
}

func TestEncodeDecodeInterval(t *testing.T) {
	end := time.Unix(200, 0).UTC()
	iv := storage.Interval{
		EntityID: "dlr",
		Start:    time.Unix(100, 0).UTC(),
		End:      &end,
		Data:     storagetest.Doc(t, `{"modeName":"dlr"}`),
	}

	raw, err := encodeInterval(iv)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	back, err := decodeInterval(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if back.EntityID != iv.EntityID || !back.Start.Equal(iv.Start) || back.End == nil || !back.End.Equal(end) {
		t.Errorf("decoded = %+v, want %+v", back, iv)
	}
	if document.MateriallyChanged(back.Data, iv.Data, nil) {
		t.Error("data changed through encoding")
	}
}

package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tubestatus/pkg/config"
	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/storage"
	"github.com/nicktill/tubestatus/pkg/storage/badger"
	"github.com/nicktill/tubestatus/pkg/storage/storagetest"
)

func TestInitializeStorage_DefaultBackend(t *testing.T) {
	cfg := config.Defaults()
	require.Equal(t, "badger", cfg.Storage.Backend)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data")

	store, err := InitializeStorage(cfg.Storage)
	require.NoError(t, err)
	defer store.Close()

	db, ok := store.(*badger.Storage)
	require.True(t, ok, "default backend should be badger, got %T", store)
	clock := storagetest.NewClock(100)
	db.SetClock(clock.Now)

	lines, stations := Families(cfg.History)
	ctx := context.Background()
	window := func(family storage.Family) map[string][]storage.Interval {
		got, err := store.RangeQuery(ctx, family, time.Unix(0, 0), time.Unix(1000, 0))
		require.NoError(t, err)
		return got
	}

	// First observation opens an interval.
	res, err := store.Transition(ctx, lines, map[string]document.Document{
		"central": mustDoc(t, `{"lineStatuses":[{"statusSeverity":10}],"created":"t1"}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count(storage.ChangeOpened))

	// A change to an ignored field leaves the open interval alone.
	clock.Set(160)
	res, err = store.Transition(ctx, lines, map[string]document.Document{
		"central": mustDoc(t, `{"lineStatuses":[{"statusSeverity":10}],"created":"t2"}`),
	})
	require.NoError(t, err)
	require.Empty(t, res.Changes)
	require.Equal(t, 1, res.Unchanged)

	// A material change closes the interval and opens the next one.
	clock.Set(220)
	res, err = store.Transition(ctx, lines, map[string]document.Document{
		"central": mustDoc(t, `{"lineStatuses":[{"statusSeverity":6}],"created":"t3"}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count(storage.ChangeReplaced))

	central := window(lines)["central"]
	require.Len(t, central, 2)
	require.Equal(t, int64(100), central[0].Start.Unix())
	require.NotNil(t, central[0].End)
	require.Equal(t, int64(220), central[0].End.Unix())
	require.Equal(t, int64(220), central[1].Start.Unix())
	require.True(t, central[1].Open())

	// A station missing from the snapshot is closed.
	clock.Set(100)
	_, err = store.Transition(ctx, stations, map[string]document.Document{
		"940GZZLUBNK": mustDoc(t, `[{"type":"Closure","description":"Station closed"}]`),
	})
	require.NoError(t, err)
	clock.Set(160)
	res, err = store.Transition(ctx, stations, map[string]document.Document{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count(storage.ChangeClosed))

	bank := window(stations)["940GZZLUBNK"]
	require.Len(t, bank, 1)
	require.NotNil(t, bank[0].End)
	require.Equal(t, int64(160), bank[0].End.Unix())
}

func TestInitializeStorage_Memory(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Backend = "memory"

	store, err := InitializeStorage(cfg.Storage)
	require.NoError(t, err)
	defer store.Close()

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats)
}

package server

import (
	"context"
	"errors"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/nicktill/tubestatus/pkg/config"
	"github.com/nicktill/tubestatus/pkg/poller"
	"github.com/nicktill/tubestatus/pkg/storage"
	"github.com/nicktill/tubestatus/pkg/storage/badger"
)

// RunPoller runs the poll loop until ctx is cancelled.
func RunPoller(ctx context.Context, p *poller.Poller, wg *sync.WaitGroup) {
	defer wg.Done()
	p.Run(ctx)
}

// RunBadgerGC runs BadgerDB value-log garbage collection periodically to
// reclaim disk space. Other backends return immediately.
func RunBadgerGC(ctx context.Context, store storage.Storage, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		zap.S().Info("Storage is not BadgerDB, skipping GC")
		return
	}
	if interval <= 0 {
		interval = config.BadgerGCInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	zap.S().Infof("BadgerDB GC scheduler started (runs every %v)", interval)

	for {
		select {
		case <-ticker.C:
			runGC(badgerStore)
		case <-ctx.Done():
			zap.S().Info("Stopping BadgerDB GC scheduler")
			return
		}
	}
}

func runGC(store *badger.Storage) {
	start := time.Now()

	// One pass per tick so GC never holds the value log for long.
	err := store.RunGC(config.GCDiscardRatio)
	switch {
	case err == nil:
		zap.S().Infof("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
	case errors.Is(err, badgerdb.ErrNoRewrite):
		zap.S().Debugf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
	case errors.Is(err, storage.ErrClosed):
		zap.S().Debug("Skipping GC, storage closed")
	default:
		zap.S().Warnf("BadgerDB GC failed: %v", err)
	}
}

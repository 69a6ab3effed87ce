package badger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/storage"
)

// DefaultMaxConnections bounds concurrent store operations.
const DefaultMaxConnections = 5

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db     *badger.DB
	seq    *badger.Sequence
	sem    *semaphore.Weighted
	slots  int64
	now    func() time.Time
	closed atomic.Bool

	// beforeCommit runs inside Transition just before commit. Tests use it to
	// force a rollback.
	beforeCommit func() error
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64

	// MaxConnections caps concurrent transactions (0 = DefaultMaxConnections)
	MaxConnections int64

	// Now stamps transitions (nil = time.Now)
	Now func() time.Time
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// History rows are small and few; 16 MB memtable keeps the footprint
	// around 48 MB unless a limit is configured.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithLogger(zapLogger{zap.S().Named("badger")}).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open interval sequence: %w", err)
	}

	slots := cfg.MaxConnections
	if slots <= 0 {
		slots = DefaultMaxConnections
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Storage{
		db:    db,
		seq:   seq,
		sem:   semaphore.NewWeighted(slots),
		slots: slots,
		now:   now,
	}, nil
}

// SetClock replaces the time source used to stamp transitions. Call it
// before the store is shared.
func (s *Storage) SetClock(now func() time.Time) {
	s.now = now
}

// acquire takes one connection slot. The returned func releases it.
func (s *Storage) acquire(ctx context.Context) (func(), error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	if s.closed.Load() {
		s.sem.Release(1)
		return nil, storage.ErrClosed
	}
	return func() { s.sem.Release(1) }, nil
}

// Transition folds a snapshot into the family's history in one badger
// transaction: read open intervals, close changed or vanished ones, insert
// replacements.
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Transition(ctx context.Context, family storage.Family, snapshot map[string]document.Document) (*storage.TransitionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	now := storage.Truncate(s.now())

	type transitionResult struct {
		result *storage.TransitionResult
		err    error
	}
	done := make(chan transitionResult, 1)

	go func() {
		defer release()

		var res transitionResult
		res.err = s.db.Update(func(txn *badger.Txn) error {
			open, keys, err := loadOpen(txn, family.Name)
			if err != nil {
				return err
			}

			steps, unchanged := storage.PlanTransition(family, open, snapshot, now)

			for i, step := range steps {
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				if err := s.applyStep(txn, family.Name, step, keys[step.EntityID]); err != nil {
					return fmt.Errorf("entity %s: %w", step.EntityID, err)
				}
			}

			if s.beforeCommit != nil {
				if err := s.beforeCommit(); err != nil {
					return err
				}
			}

			res.result = storage.NewTransitionResult(family, now, steps, unchanged)
			return nil
		})
		if res.err != nil {
			res.result = nil
			res.err = &storage.TxnError{Family: family.Name, Op: "transition", Err: res.err}
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res.result, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("transition cancelled: %w", ctx.Err())
	}
}

// applyStep writes one planned step. openKey is the key of the entity's
// currently open interval, if any.
func (s *Storage) applyStep(txn *badger.Txn, table string, step storage.Step, openKey []byte) error {
	if step.Closed != nil {
		if openKey == nil {
			return errors.New("closing interval without open key")
		}
		value, err := encodeInterval(*step.Closed)
		if err != nil {
			return fmt.Errorf("failed to encode interval: %w", err)
		}
		if err := txn.Set(openKey, value); err != nil {
			return fmt.Errorf("failed to close interval: %w", err)
		}
	}

	idx := openIndexKey(table, step.EntityID)

	if step.Opened == nil {
		return txn.Delete(idx)
	}

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate interval key: %w", err)
	}
	key := makeKey(table, step.EntityID, step.Opened.Start, n)

	value, err := encodeInterval(*step.Opened)
	if err != nil {
		return fmt.Errorf("failed to encode interval: %w", err)
	}
	if err := txn.Set(key, value); err != nil {
		return fmt.Errorf("failed to insert interval: %w", err)
	}
	return txn.Set(idx, key)
}

// loadOpen reads every open interval of a table through the open index.
func loadOpen(txn *badger.Txn, table string) (map[string]storage.Interval, map[string][]byte, error) {
	open := make(map[string]storage.Interval)
	keys := make(map[string][]byte)

	prefix := openIndexPrefix(table)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		entityID := string(item.Key()[len(prefix):])

		key, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, err
		}

		row, err := txn.Get(key)
		if err != nil {
			return nil, nil, fmt.Errorf("open index for %s points at missing row: %w", entityID, err)
		}

		var interval storage.Interval
		if err := row.Value(func(val []byte) error {
			interval, err = decodeInterval(val)
			return err
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to decode interval: %w", err)
		}

		open[entityID] = interval
		keys[entityID] = key
	}

	return open, keys, nil
}

// RangeQuery retrieves intervals overlapping [start, end]
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) RangeQuery(ctx context.Context, family storage.Family, start, end time.Time) (map[string][]storage.Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	type queryResult struct {
		results map[string][]storage.Interval
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		defer release()

		var res queryResult
		results := make(map[string][]storage.Interval)
		startTime := time.Now()
		var iterCount int

		res.err = s.db.View(func(txn *badger.Txn) error {
			prefix := intervalPrefix(family.Name)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				iterCount++

				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				// Keys are hash|start|seq, so this walks every row of the
				// family. The start check only skips decoding rows that
				// begin after the window.
				_, rowStart, _ := parseKey(it.Item().Key())
				if rowStart.After(end) {
					continue
				}

				err := it.Item().Value(func(val []byte) error {
					interval, err := decodeInterval(val)
					if err != nil {
						return err
					}
					if interval.Overlaps(start, end) {
						results[interval.EntityID] = append(results[interval.EntityID], interval)
					}
					return nil
				})
				if err != nil {
					return fmt.Errorf("failed to decode interval: %w", err)
				}
			}
			return nil
		})

		if elapsed := time.Since(startTime); elapsed > 5*time.Second {
			zap.S().Warnf("Slow range query on %s completed in %v (%d rows scanned)", family.Name, elapsed, iterCount)
		}

		storage.SortIntervals(results)
		res.results = results
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.results, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("range query cancelled: %w", ctx.Err())
	}
}

// Close waits for in-flight operations, then shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	// Drain the pool so no transaction is mid-flight.
	if err := s.sem.Acquire(context.Background(), s.slots); err == nil {
		defer s.sem.Release(s.slots)
	}

	if err := s.seq.Release(); err != nil {
		zap.S().Warnf("Failed to release interval sequence: %v", err)
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns badger.ErrNoRewrite when nothing could be reclaimed.
func (s *Storage) RunGC(discardRatio float64) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		defer release()

		var res statsResult
		stats := &storage.Stats{Entities: make(map[string]uint64)}

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			entities := make(map[string]map[uint64]struct{})
			var iterCount int

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++

				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				key := it.Item().Key()
				switch {
				case hasPrefix(key, openPrefix):
					stats.OpenIntervals++
				case hasPrefix(key, rowPrefix):
					table, ts, hash := parseKey(key)
					stats.TotalIntervals++
					if entities[table] == nil {
						entities[table] = make(map[uint64]struct{})
					}
					entities[table][hash] = struct{}{}

					if stats.Oldest.IsZero() || ts.Before(stats.Oldest) {
						stats.Oldest = ts
					}
					if ts.After(stats.Newest) {
						stats.Newest = ts
					}
				}
			}

			for table, hashes := range entities {
				stats.Entities[table] = uint64(len(hashes))
			}
			return nil
		})

		if res.err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}

		res.stats = stats
		done <- res
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

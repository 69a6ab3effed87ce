package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/storage"
)

// Storage keeps interval history in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	// tables maps family name -> entity id -> chronological intervals
	tables map[string]map[string][]storage.Interval
	now    func() time.Time
	closed bool
	mu     sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		tables: make(map[string]map[string][]storage.Interval),
		now:    time.Now,
	}
}

// SetClock replaces the time source used to stamp transitions.
func (s *Storage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Transition folds a snapshot into the family's history under one lock.
func (s *Storage) Transition(ctx context.Context, family storage.Family, snapshot map[string]document.Document) (*storage.TransitionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	table := s.tables[family.Name]
	if table == nil {
		table = make(map[string][]storage.Interval)
		s.tables[family.Name] = table
	}

	open := make(map[string]storage.Interval)
	for id, intervals := range table {
		if n := len(intervals); n > 0 && intervals[n-1].Open() {
			open[id] = intervals[n-1]
		}
	}

	now := storage.Truncate(s.now())
	steps, unchanged := storage.PlanTransition(family, open, snapshot, now)

	for _, step := range steps {
		intervals := table[step.EntityID]
		if step.Closed != nil {
			intervals[len(intervals)-1] = *step.Closed
		}
		if step.Opened != nil {
			intervals = append(intervals, *step.Opened)
		}
		table[step.EntityID] = intervals
	}

	return storage.NewTransitionResult(family, now, steps, unchanged), nil
}

// RangeQuery returns intervals overlapping [start, end]
func (s *Storage) RangeQuery(ctx context.Context, family storage.Family, start, end time.Time) (map[string][]storage.Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	results := make(map[string][]storage.Interval)
	for id, intervals := range s.tables[family.Name] {
		for _, interval := range intervals {
			if interval.Overlaps(start, end) {
				results[id] = append(results[id], interval)
			}
		}
	}

	return results, nil
}

// Close marks the store closed
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{Entities: make(map[string]uint64)}

	for name, table := range s.tables {
		stats.Entities[name] = uint64(len(table))

		for _, intervals := range table {
			for _, interval := range intervals {
				stats.TotalIntervals++
				if interval.Open() {
					stats.OpenIntervals++
				}
				if stats.Oldest.IsZero() || interval.Start.Before(stats.Oldest) {
					stats.Oldest = interval.Start
				}
				if interval.Start.After(stats.Newest) {
					stats.Newest = interval.Start
				}
			}
		}
	}

	// Rough size estimate (each interval ~512 bytes)
	stats.SizeBytes = stats.TotalIntervals * 512

	return stats, nil
}

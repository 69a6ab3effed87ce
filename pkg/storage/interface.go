package storage

import (
	"context"
	"time"

	"github.com/nicktill/tubestatus/pkg/document"
)

// Storage defines the interface for interval history backends.
// Implementations: memory (testing), badger (production)
type Storage interface {
	// Transition folds one poll snapshot of a family into its history.
	// All writes happen in a single transaction.
	Transition(ctx context.Context, family Family, snapshot map[string]document.Document) (*TransitionResult, error)

	// RangeQuery returns intervals overlapping [start, end], grouped by
	// entity and ordered by start time.
	RangeQuery(ctx context.Context, family Family, start, end time.Time) (map[string][]Interval, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Family describes one entity table and how snapshots of it are folded.
type Family struct {
	// Name of the table, e.g. "line_history".
	Name string

	// CloseMissing closes the open interval of any entity absent from a
	// snapshot. Families whose entities are always reported leave it false.
	CloseMissing bool

	// Detector decides whether a new document differs from the open one.
	Detector document.Detector
}

// Interval is one stretch of time during which an entity's document held.
type Interval struct {
	EntityID string
	Start    time.Time
	// End is nil while the interval is open.
	End  *time.Time
	Data document.Document
}

// Open reports whether the interval is still current.
func (i Interval) Open() bool {
	return i.End == nil
}

// Overlaps reports whether the interval intersects [start, end].
func (i Interval) Overlaps(start, end time.Time) bool {
	if i.Start.After(end) {
		return false
	}
	return i.End == nil || !i.End.Before(start)
}

// ChangeKind says what a transition did to one entity.
type ChangeKind string

const (
	// ChangeOpened means a first interval was opened for a new entity.
	ChangeOpened ChangeKind = "opened"
	// ChangeReplaced means the open interval was closed and a new one opened.
	ChangeReplaced ChangeKind = "replaced"
	// ChangeClosed means the entity disappeared and its interval was closed.
	ChangeClosed ChangeKind = "closed"
)

// Change records a write made for one entity.
type Change struct {
	EntityID string     `json:"entity_id"`
	Kind     ChangeKind `json:"kind"`
}

// TransitionResult summarises a committed transition.
type TransitionResult struct {
	Family    string    `json:"family"`
	At        time.Time `json:"at"`
	Changes   []Change  `json:"changes"`
	Unchanged int       `json:"unchanged"`
}

// Count returns how many changes of the given kind were made.
func (r *TransitionResult) Count(kind ChangeKind) int {
	n := 0
	for _, c := range r.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Stats provides storage health and usage info
type Stats struct {
	// Total intervals stored across all families
	TotalIntervals uint64

	// Intervals with no end time
	OpenIntervals uint64

	// Distinct entities per family name
	Entities map[string]uint64

	// Storage size in bytes
	SizeBytes uint64

	// Earliest interval start
	Oldest time.Time

	// Latest interval start
	Newest time.Time
}

/*
Package storage provides the interval history abstraction for tubestatus.

# Storage Interface

History is kept per entity as a chain of time intervals. Each interval holds the
raw document the feed reported for that entity while it was current:

	type Storage interface {
	    Transition(ctx context.Context, family Family, snapshot map[string]document.Document) (*TransitionResult, error)
	    RangeQuery(ctx context.Context, family Family, start, end time.Time) (map[string][]Interval, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

Backends:
  - memory: in-process maps for tests and ephemeral runs
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

# Families

Two families share the same layout and differ only in how absence is treated:

  - line_history: every line is present in every poll. A line missing from a
    snapshot keeps its open interval.
  - station_history: a station appears only while it has disruptions. A
    station missing from a snapshot has its open interval closed.

# Transitions

Transition runs in a single transaction:

 1. read every open interval of the family
 2. for each entity in the snapshot, compare the new document with the open
    one (ignoring volatile keys); on a material change close the open interval
    at now and insert a new open interval starting at now
 3. entities seen for the first time get a new open interval
 4. for families with CloseMissing, close intervals of absent entities

Either every write of a transition commits or none does. Rows are never
deleted and a row's data never changes after insert; closing only sets its end.

# Invariants

  - at most one open interval per entity
  - intervals of one entity never overlap; a replacement starts exactly where
    its predecessor ended
  - the same snapshot applied twice writes nothing the second time

# Range Queries

RangeQuery(start, end) returns every interval with

	(end_time IS NULL OR end_time >= start) AND start_time <= end

grouped by entity id and ordered by start time. Bounds are unix seconds.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	lines := storage.Lines(document.NewDetector("created", "modified"))
	result, err := store.Transition(ctx, lines, snapshot)
*/
package storage

// Package runmerge collapses consecutive time-ordered runs that carry equal
// values.
//
// The same merge serves two layers: the store folds a fresh observation into
// an entity's open interval when the documents match, and the history query
// folds intervals whose parsed statuses match into one display span.
package runmerge

import "time"

// Run is a value that held over [Start, End). A nil End means the run is
// still open.
type Run[T any] struct {
	Start time.Time
	End   *time.Time
	Value T
}

// Open reports whether the run has no end yet.
func (r Run[T]) Open() bool {
	return r.End == nil
}

// Append adds next to runs. When next carries a value equal to the last run
// and starts where the last run ends (or the last run is open), the last run
// is extended to next.End instead and keeps its Start. Otherwise next is
// appended, and a still-open last run is closed at next.Start.
//
// runs is modified in place and must be in chronological order.
func Append[T any](runs []Run[T], next Run[T], equal func(a, b T) bool) []Run[T] {
	if len(runs) == 0 {
		return append(runs, next)
	}

	last := &runs[len(runs)-1]
	if touches(*last, next) && equal(last.Value, next.Value) {
		last.End = next.End
		return runs
	}

	if last.End == nil {
		closedAt := next.Start
		last.End = &closedAt
	}
	return append(runs, next)
}

// touches reports whether next begins no later than prev ends.
func touches[T any](prev, next Run[T]) bool {
	return prev.End == nil || !prev.End.Before(next.Start)
}

// Merge folds adjacent runs with equal values. The merged run starts at the
// first run's Start and ends at the last run's End.
func Merge[T any](runs []Run[T], equal func(a, b T) bool) []Run[T] {
	if len(runs) == 0 {
		return nil
	}

	out := make([]Run[T], 0, len(runs))
	for _, r := range runs {
		out = Append(out, r, equal)
	}
	return out
}

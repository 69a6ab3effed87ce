package storage

import (
	"sort"
	"time"

	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/runmerge"
)

// Table names of the two entity families.
const (
	LinesTable    = "line_history"
	StationsTable = "station_history"
)

// Lines returns the line family. Lines are always present in the feed, so an
// absent line keeps its open interval.
func Lines(detector document.Detector) Family {
	return Family{Name: LinesTable, Detector: detector}
}

// Stations returns the station family. A station drops out of the feed when
// its disruptions clear, which closes its interval.
func Stations(detector document.Detector) Family {
	return Family{Name: StationsTable, CloseMissing: true, Detector: detector}
}

// Step is the write planned for one entity by a transition.
type Step struct {
	EntityID string
	Kind     ChangeKind
	// Closed is the previously open interval with End set, if any.
	Closed *Interval
	// Opened is the new open interval, if any.
	Opened *Interval
}

// PlanTransition decides what a snapshot does to the family's open intervals.
// Backends call it inside their transaction and apply the steps it returns.
// Steps are ordered by entity id.
func PlanTransition(family Family, open map[string]Interval, snapshot map[string]document.Document, now time.Time) ([]Step, int) {
	var steps []Step
	unchanged := 0

	for _, id := range sortedKeys(snapshot) {
		doc := snapshot[id]
		next := runmerge.Run[document.Document]{Start: now, Value: doc}

		prev, ok := open[id]
		if !ok {
			steps = append(steps, Step{
				EntityID: id,
				Kind:     ChangeOpened,
				Opened:   &Interval{EntityID: id, Start: now, Data: doc},
			})
			continue
		}

		runs := []runmerge.Run[document.Document]{{Start: prev.Start, Value: prev.Data}}
		runs = runmerge.Append(runs, next, family.Detector.Same)
		if len(runs) == 1 {
			unchanged++
			continue
		}

		closed := prev
		closed.End = runs[0].End
		steps = append(steps, Step{
			EntityID: id,
			Kind:     ChangeReplaced,
			Closed:   &closed,
			Opened:   &Interval{EntityID: id, Start: runs[1].Start, Data: doc},
		})
	}

	if family.CloseMissing {
		for _, id := range sortedKeys(open) {
			if _, seen := snapshot[id]; seen {
				continue
			}
			closed := open[id]
			end := now
			closed.End = &end
			steps = append(steps, Step{EntityID: id, Kind: ChangeClosed, Closed: &closed})
		}
	}

	return steps, unchanged
}

// NewTransitionResult summarises applied steps.
func NewTransitionResult(family Family, now time.Time, steps []Step, unchanged int) *TransitionResult {
	result := &TransitionResult{
		Family:    family.Name,
		At:        now,
		Changes:   make([]Change, 0, len(steps)),
		Unchanged: unchanged,
	}
	for _, s := range steps {
		result.Changes = append(result.Changes, Change{EntityID: s.EntityID, Kind: s.Kind})
	}
	return result
}

// SortIntervals orders each entity's intervals chronologically.
func SortIntervals(grouped map[string][]Interval) {
	for _, intervals := range grouped {
		sort.SliceStable(intervals, func(i, j int) bool {
			return intervals[i].Start.Before(intervals[j].Start)
		})
	}
}

// Truncate drops sub-second precision; interval bounds are stored as unix seconds.
func Truncate(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0).UTC()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

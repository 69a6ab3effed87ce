// Package history answers "what was the status between A and B" by reading
// raw intervals, parsing them and folding equal neighbours into display spans.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tubestatus/pkg/runmerge"
	"github.com/nicktill/tubestatus/pkg/status"
	"github.com/nicktill/tubestatus/pkg/storage"
)

// DefaultMaxWindow is the widest query window accepted.
const DefaultMaxWindow = 32 * 24 * time.Hour

// ValidationError reports a request that was rejected before touching storage.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Span is a maximal run of time over which the parsed status did not change.
type Span[S status.Code] struct {
	Entries []status.Entry[S] `json:"entries"`
	From    time.Time         `json:"from"`
	// To is null while the span is still current.
	To *time.Time `json:"to"`
}

// EntityHistory is the history of one entity in a window.
type EntityHistory[S status.Code, M any] struct {
	History  []Span[S] `json:"history"`
	Metadata *M        `json:"metadata,omitempty"`
}

// Query reads and folds history for one family.
type Query[S status.Code, M any] struct {
	store     storage.Storage
	family    storage.Family
	parser    status.Parser[S, M]
	maxWindow time.Duration
}

// NewQuery builds a Query over family using parser.
func NewQuery[S status.Code, M any](store storage.Storage, family storage.Family, parser status.Parser[S, M], maxWindow time.Duration) *Query[S, M] {
	if maxWindow <= 0 {
		maxWindow = DefaultMaxWindow
	}
	return &Query[S, M]{
		store:     store,
		family:    family,
		parser:    parser,
		maxWindow: maxWindow,
	}
}

// ValidateWindow rejects inverted windows and windows wider than max.
func ValidateWindow(from, to time.Time, max time.Duration) error {
	if to.Before(from) {
		return &ValidationError{Msg: "to must not be before from"}
	}
	if to.Sub(from) > max {
		return &ValidationError{Msg: fmt.Sprintf("time range too large, maximum is %v", max)}
	}
	return nil
}

// Get returns the display history of every entity with a parseable interval
// overlapping [from, to].
func (q *Query[S, M]) Get(ctx context.Context, from, to time.Time) (map[string]EntityHistory[S, M], error) {
	if err := ValidateWindow(from, to, q.maxWindow); err != nil {
		return nil, err
	}

	grouped, err := q.store.RangeQuery(ctx, q.family, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.family.Name, err)
	}

	out := make(map[string]EntityHistory[S, M], len(grouped))
	for id, intervals := range grouped {
		if h, ok := q.fold(id, intervals); ok {
			out[id] = h
		}
	}
	return out, nil
}

// fold parses an entity's intervals and merges neighbours with equal entries.
// Unparseable intervals are dropped and the run before them is stretched over
// the time they covered, so equal runs on either side still merge. Metadata
// comes from the latest parseable interval.
func (q *Query[S, M]) fold(id string, intervals []storage.Interval) (EntityHistory[S, M], bool) {
	runs := make([]runmerge.Run[[]status.Entry[S]], 0, len(intervals))
	var metadata *M

	for _, iv := range intervals {
		parsed, err := q.parser.Parse(id, iv.Data)
		if err != nil {
			zap.S().Warnf("Skipping unparseable %s interval starting %s: %v",
				q.family.Name, iv.Start.Format(time.RFC3339), err)
			if n := len(runs); n > 0 && runs[n-1].End != nil && !runs[n-1].End.Before(iv.Start) {
				runs[n-1].End = iv.End
			}
			continue
		}
		runs = append(runs, runmerge.Run[[]status.Entry[S]]{
			Start: iv.Start,
			End:   iv.End,
			Value: parsed.Entries,
		})
		if parsed.Metadata != nil {
			metadata = parsed.Metadata
		}
	}

	if len(runs) == 0 {
		return EntityHistory[S, M]{}, false
	}

	merged := runmerge.Merge(runs, status.EntriesEqual[S])
	spans := make([]Span[S], len(merged))
	for i, r := range merged {
		spans[i] = Span[S]{Entries: r.Value, From: r.Start, To: r.End}
	}

	return EntityHistory[S, M]{History: spans, Metadata: metadata}, true
}

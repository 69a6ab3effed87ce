// Package poller samples the status feeds on a fixed interval and folds each
// snapshot into the interval store.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/storage"
)

// DefaultInterval is the poll period used when none is configured.
const DefaultInterval = 60 * time.Second

// Feed produces one snapshot of a family per call: the current document of
// every entity, keyed by entity id.
type Feed interface {
	Name() string
	Family() storage.Family
	Fetch(ctx context.Context) (map[string]document.Document, error)
}

// Publisher receives every transition that changed something.
type Publisher interface {
	Publish(result *storage.TransitionResult)
}

// Recorder tracks poll health.
type Recorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Poller drives the fetch and transition loop.
type Poller struct {
	store    storage.Storage
	feeds    []Feed
	interval time.Duration

	publisher Publisher
	recorder  Recorder
}

// Option configures a Poller.
type Option func(*Poller)

// WithPublisher streams non-empty transitions to pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Poller) { p.publisher = pub }
}

// WithRecorder reports the outcome of every tick to rec.
func WithRecorder(rec Recorder) Option {
	return func(p *Poller) { p.recorder = rec }
}

// New creates a poller over feeds. A non-positive interval uses DefaultInterval.
func New(store storage.Storage, interval time.Duration, feeds []Feed, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		store:    store,
		feeds:    feeds,
		interval: interval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Report summarizes one tick.
type Report struct {
	Results []*storage.TransitionResult
	// Errors holds the failure of each feed that did not complete, by feed name.
	Errors map[string]error
}

// Err joins every failure of the tick, or returns nil.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for name, err := range r.Errors {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Run polls until ctx is cancelled. The first tick runs immediately; ticks
// never overlap, so a slow tick delays the next one.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	zap.S().Infof("Poller started (%d feeds, every %v)", len(p.feeds), p.interval)

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			zap.S().Info("Stopping poller")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick fetches every feed concurrently, then applies the snapshots to the
// store in feed order. A feed whose fetch fails skips its family for this
// tick; other families still transition.
func (p *Poller) Tick(ctx context.Context) Report {
	start := time.Now()
	pollTicks.Inc()
	defer func() { pollDuration.Observe(time.Since(start).Seconds()) }()

	snapshots := make([]map[string]document.Document, len(p.feeds))
	fetchErrs := make([]error, len(p.feeds))

	var g errgroup.Group
	for i, feed := range p.feeds {
		g.Go(func() error {
			snapshots[i], fetchErrs[i] = feed.Fetch(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Errors: make(map[string]error)}
	for i, feed := range p.feeds {
		if err := fetchErrs[i]; err != nil {
			p.fail(&report, feed, err)
			continue
		}

		result, err := p.store.Transition(ctx, feed.Family(), snapshots[i])
		if err != nil {
			p.fail(&report, feed, err)
			continue
		}

		p.record(result)
		report.Results = append(report.Results, result)
	}

	if p.recorder != nil {
		if err := report.Err(); err != nil {
			p.recorder.RecordFailure(err)
		} else {
			p.recorder.RecordSuccess()
		}
	}
	return report
}

func (p *Poller) fail(report *Report, feed Feed, err error) {
	class := Classify(err)
	feedErrors.WithLabelValues(feed.Name(), class.String()).Inc()
	zap.S().Errorf("Poll of %s failed (%s): %v", feed.Name(), class, err)
	report.Errors[feed.Name()] = err
}

func (p *Poller) record(result *storage.TransitionResult) {
	for _, kind := range []storage.ChangeKind{storage.ChangeOpened, storage.ChangeReplaced, storage.ChangeClosed} {
		if n := result.Count(kind); n > 0 {
			transitions.WithLabelValues(result.Family, string(kind)).Add(float64(n))
		}
	}

	if len(result.Changes) == 0 {
		return
	}
	zap.S().Infof("%s: %d opened, %d replaced, %d closed, %d unchanged",
		result.Family,
		result.Count(storage.ChangeOpened),
		result.Count(storage.ChangeReplaced),
		result.Count(storage.ChangeClosed),
		result.Unchanged)

	if p.publisher != nil {
		p.publisher.Publish(result)
	}
}

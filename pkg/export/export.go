package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/history"
	"github.com/nicktill/tubestatus/pkg/storage"
)

// Exporter handles exporting interval history to various formats
type Exporter struct {
	storage   storage.Storage
	maxWindow time.Duration
	now       func() time.Time
}

// NewExporter creates an exporter that accepts windows up to maxWindow.
func NewExporter(store storage.Storage, maxWindow time.Duration) *Exporter {
	if maxWindow <= 0 {
		maxWindow = history.DefaultMaxWindow
	}
	return &Exporter{storage: store, maxWindow: maxWindow, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Family storage.Family

	// Time range to export
	Start time.Time
	End   time.Time

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	IntervalsExported int       `json:"intervals_exported"`
	EntitiesExported  int       `json:"entities_exported"`
	TimeRange         string    `json:"time_range"`
	Format            string    `json:"format"`
	ExportedAt        time.Time `json:"exported_at"`
}

// Record is one exported interval.
type Record struct {
	EntityID  string            `json:"entity_id"`
	StartTime time.Time         `json:"start_time"`
	EndTime   *time.Time        `json:"end_time"`
	Data      document.Document `json:"data"`
}

// Metadata describes a JSON export.
type Metadata struct {
	ExportedAt    time.Time `json:"exported_at"`
	Family        string    `json:"family"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	IntervalCount int       `json:"interval_count"`
	EntityCount   int       `json:"entity_count"`
	Format        string    `json:"format"`
	Version       string    `json:"version"`
}

// File is the JSON export document.
type File struct {
	Metadata  Metadata `json:"metadata"`
	Intervals []Record `json:"intervals"`
}

func (e *Exporter) validate(opts ExportOptions) error {
	return history.ValidateWindow(opts.Start, opts.End, e.maxWindow)
}

// records validates the window and reads the family's intervals, ordered by
// entity then start time.
func (e *Exporter) records(ctx context.Context, opts ExportOptions) ([]Record, int, error) {
	if err := e.validate(opts); err != nil {
		return nil, 0, err
	}

	grouped, err := e.storage.RangeQuery(ctx, opts.Family, opts.Start, opts.End)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query intervals: %w", err)
	}

	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var records []Record
	for _, id := range ids {
		for _, iv := range grouped[id] {
			records = append(records, Record{
				EntityID:  id,
				StartTime: iv.Start,
				EndTime:   iv.End,
				Data:      iv.Data,
			})
		}
	}
	return records, len(ids), nil
}

// ExportToJSON exports intervals as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, entities, err := e.records(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e.writeJSON(w, opts, records, entities)
}

func (e *Exporter) writeJSON(w io.Writer, opts ExportOptions, records []Record, entities int) (*ExportResult, error) {
	if records == nil {
		records = []Record{}
	}

	exportedAt := e.now().UTC()
	file := File{
		Metadata: Metadata{
			ExportedAt:    exportedAt,
			Family:        opts.Family.Name,
			StartTime:     opts.Start,
			EndTime:       opts.End,
			IntervalCount: len(records),
			EntityCount:   entities,
			Format:        "json",
			Version:       "1.0",
		},
		Intervals: records,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(file); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return e.result(opts, "json", len(records), entities, exportedAt), nil
}

// ExportToCSV exports intervals as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, entities, err := e.records(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e.writeCSV(w, opts, records, entities)
}

func (e *Exporter) writeCSV(w io.Writer, opts ExportOptions, records []Record, entities int) (*ExportResult, error) {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"entity_id", "start_time", "end_time", "data"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range records {
		end := ""
		if r.EndTime != nil {
			end = r.EndTime.UTC().Format(time.RFC3339)
		}
		data, err := json.Marshal(r.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode data for %s: %w", r.EntityID, err)
		}

		row := []string{r.EntityID, r.StartTime.UTC().Format(time.RFC3339), end, string(data)}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return e.result(opts, "csv", len(records), entities, e.now().UTC()), nil
}

func (e *Exporter) result(opts ExportOptions, format string, intervals, entities int, at time.Time) *ExportResult {
	return &ExportResult{
		IntervalsExported: intervals,
		EntitiesExported:  entities,
		TimeRange:         fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:            format,
		ExportedAt:        at,
	}
}

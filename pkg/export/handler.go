package export

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tubestatus/pkg/config"
	"github.com/nicktill/tubestatus/pkg/httpx"
	"github.com/nicktill/tubestatus/pkg/storage"
)

// Handler handles the export HTTP endpoint
type Handler struct {
	exporter *Exporter
	families map[string]storage.Family
}

// NewHandler creates an export handler. families maps the "family" query
// value to the family it exports.
func NewHandler(store storage.Storage, families map[string]storage.Family, maxWindow time.Duration) *Handler {
	return &Handler{
		exporter: NewExporter(store, maxWindow),
		families: families,
	}
}

// HandleExport handles GET /api/v1/export
// Query params:
//   - family: "lines" or "stations" (default: lines)
//   - format: "json" or "csv" (default: json)
//   - from: RFC3339 timestamp (default: 24h before to)
//   - to: RFC3339 timestamp (default: now)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'json' or 'csv'")
		return
	}

	name := query.Get("family")
	if name == "" {
		name = "lines"
	}
	family, ok := h.families[name]
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("unknown family %q", name))
		return
	}

	to, err := parseTimeParam(query.Get("to"), h.exporter.now())
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid 'to': "+err.Error())
		return
	}
	from, err := parseTimeParam(query.Get("from"), to.Add(-config.DefaultExportWindow))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid 'from': "+err.Error())
		return
	}

	opts := ExportOptions{Family: family, Start: from, End: to, Format: format}

	// Read everything before writing headers so failures still get a JSON body.
	records, entities, err := h.exporter.records(r.Context(), opts)
	if err != nil {
		httpx.RespondServiceError(w, err)
		return
	}

	timestamp := h.exporter.now().UTC().Format("20060102-150405")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=tubestatus-%s-%s.%s", name, timestamp, format))

	var result *ExportResult
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		result, err = h.exporter.writeJSON(w, opts, records, entities)
	} else {
		w.Header().Set("Content-Type", "text/csv")
		result, err = h.exporter.writeCSV(w, opts, records, entities)
	}
	if err != nil {
		// Headers and part of the body are already sent.
		zap.S().Errorf("Export of %s failed mid-stream: %v", name, err)
		return
	}

	zap.S().Infof("Exported %d intervals (%s, %s) from %s", result.IntervalsExported, name, format, result.TimeRange)
}

// parseTimeParam parses an RFC3339 parameter or returns def when empty.
func parseTimeParam(param string, def time.Time) (time.Time, error) {
	if param == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, param)
}

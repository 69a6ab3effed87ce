package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tubestatus/pkg/config"
	"github.com/nicktill/tubestatus/pkg/history"
	"github.com/nicktill/tubestatus/pkg/httpx"
	"github.com/nicktill/tubestatus/pkg/server/monitor"
	"github.com/nicktill/tubestatus/pkg/tfl"
)

// Version is reported by the health endpoint. Overridden at build time.
var Version = "dev"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string             `json:"status"`
	Version string             `json:"version"`
	Uptime  string             `json:"uptime"`
	Poller  monitor.PollStatus `json:"poller"`
	Details tfl.DetailsState   `json:"station_details"`
}

// handleHealth returns service health status. A stalled or failing poller
// reports degraded with 503.
func handleHealth(pm *monitor.PollMonitor, details *tfl.DetailsLoader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !pm.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Poller:  pm.Status(),
			Details: details.State(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := sm.Usage()
		if err != nil {
			httpx.RespondServiceError(w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// parseWindow reads the required from and to parameters.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	query := r.URL.Query()

	var bounds [2]time.Time
	for i, name := range []string{"from", "to"} {
		raw := query.Get(name)
		if raw == "" {
			return time.Time{}, time.Time{}, &history.ValidationError{Msg: fmt.Sprintf("missing '%s' parameter", name)}
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, &history.ValidationError{Msg: fmt.Sprintf("invalid '%s': expected RFC3339 timestamp", name)}
		}
		bounds[i] = t
	}
	return bounds[0], bounds[1], nil
}

// historyHandler serves one family's history for the requested window.
func historyHandler[T any](get func(ctx context.Context, from, to time.Time) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := parseWindow(r)
		if err != nil {
			httpx.RespondServiceError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.HistoryTimeout)
		defer cancel()

		result, err := get(ctx, from, to)
		if err != nil {
			httpx.RespondServiceError(w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, result)
	}
}

// handleStationDetails returns the cached station summary. While the first
// load is still running the caller gets 503 and should retry.
func handleStationDetails(details *tfl.DetailsLoader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := details.Get(r.Context())
		if err != nil {
			if httpx.StatusFor(err) == http.StatusInternalServerError {
				// The next request retries the load.
				httpx.RespondErrorString(w, http.StatusBadGateway, "station details unavailable")
				return
			}
			httpx.RespondServiceError(w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, result)
	}
}

// SetupRoutes configures all HTTP routes on router and returns the handler
// to serve. CORS wraps the router so preflight requests reach it for any
// path, matched or not.
func SetupRoutes(router *mux.Router, c *Components) http.Handler {
	router.Use(metricsMiddleware)

	// History API
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/history", historyHandler(c.History.Lines)).Methods("GET")
	api.HandleFunc("/station-history", historyHandler(c.History.Stations)).Methods("GET")
	api.HandleFunc("/station-details", handleStationDetails(c.Details)).Methods("GET")
	api.HandleFunc("/export", c.Export.HandleExport).Methods("GET")

	// Live transitions over WebSocket
	api.Handle("/live", c.Hub).Methods("GET")

	// Operations
	ops := router.PathPrefix("/v1").Subrouter()
	ops.HandleFunc("/health", handleHealth(c.PollMonitor, c.Details)).Methods("GET")
	ops.HandleFunc("/storage", handleStorageUsage(c.StorageMonitor)).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if dir := c.Config.Server.StaticDir; dir != "" {
		router.PathPrefix("/").Handler(spaHandler{dir: dir}).Methods("GET", "HEAD")
	}

	return c.CORS.Middleware(router)
}

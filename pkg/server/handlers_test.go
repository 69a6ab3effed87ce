package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tubestatus/pkg/config"
	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/poller"
	"github.com/nicktill/tubestatus/pkg/storage"
	"github.com/nicktill/tubestatus/pkg/storage/memory"
)

const testTfLURL = "https://api.test.tfl"

type staticFeed struct {
	name     string
	family   storage.Family
	snapshot map[string]document.Document
}

func (f *staticFeed) Name() string           { return f.name }
func (f *staticFeed) Family() storage.Family { return f.family }

func (f *staticFeed) Fetch(ctx context.Context) (map[string]document.Document, error) {
	return f.snapshot, nil
}

func mustDoc(t *testing.T, raw string) document.Document {
	t.Helper()
	doc, err := document.Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

type testServer struct {
	components *Components
	handler    http.Handler
	store      *memory.Storage
}

func newTestServer(t *testing.T, staticDir string, opts ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Defaults()
	cfg.Storage.Backend = "memory"
	cfg.Server.StaticDir = staticDir
	cfg.Server.CORSOrigins = []string{"https://allowed.example"}
	cfg.TfL.BaseURL = testTfLURL
	cfg.TfL.StationModes = []string{"tube"}
	for _, opt := range opts {
		opt(cfg)
	}

	store := memory.New()
	t.Cleanup(func() { store.Close() })

	lines, stations := Families(cfg.History)
	feeds := []poller.Feed{
		&staticFeed{name: "lines", family: lines, snapshot: map[string]document.Document{
			"central": mustDoc(t, `{"modeName":"tube","lineStatuses":[{"statusSeverity":6,"reason":"Signal failure"}]}`),
		}},
		&staticFeed{name: "stations", family: stations, snapshot: map[string]document.Document{
			"940GZZLUBNK": mustDoc(t, `[{"type":"Closure","description":"Station closed"}]`),
		}},
	}

	c := InitializeComponents(cfg, store, NewTfLClient(cfg.TfL), feeds)
	return &testServer{
		components: c,
		handler:    SetupRoutes(mux.NewRouter(), c),
		store:      store,
	}
}

func (s *testServer) do(t *testing.T, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func windowQuery() string {
	now := time.Now().UTC()
	return "?from=" + now.Add(-time.Hour).Format(time.RFC3339) + "&to=" + now.Add(time.Hour).Format(time.RFC3339)
}

type historyBody map[string]struct {
	History []struct {
		Entries []struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		} `json:"entries"`
		From time.Time  `json:"from"`
		To   *time.Time `json:"to"`
	} `json:"history"`
	Metadata *struct {
		Mode string `json:"mode"`
	} `json:"metadata"`
}

func TestHistory_AfterTick(t *testing.T) {
	s := newTestServer(t, "")
	s.components.Poller.Tick(context.Background())

	rec := s.do(t, http.MethodGet, "/api/v1/history"+windowQuery(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body historyBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	central, ok := body["central"]
	require.True(t, ok, "central missing from %s", rec.Body.String())
	require.Len(t, central.History, 1)
	require.Nil(t, central.History[0].To, "current span should be open")
	require.Equal(t, "SevereDelays", central.History[0].Entries[0].Status)
	require.Equal(t, "Signal failure", central.History[0].Entries[0].Reason)
	require.NotNil(t, central.Metadata)
	require.Equal(t, "tube", central.Metadata.Mode)
}

func TestStationHistory_AfterTick(t *testing.T) {
	s := newTestServer(t, "")
	s.components.Poller.Tick(context.Background())

	rec := s.do(t, http.MethodGet, "/api/v1/station-history"+windowQuery(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body historyBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	bank, ok := body["940GZZLUBNK"]
	require.True(t, ok)
	require.Len(t, bank.History, 1)
	require.Equal(t, "Closure", bank.History[0].Entries[0].Status)
	require.Nil(t, bank.Metadata)
}

func TestHistory_BadRequests(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name  string
		query string
	}{
		{"missing both", ""},
		{"missing to", "?from=2025-01-01T00:00:00Z"},
		{"missing from", "?to=2025-01-01T00:00:00Z"},
		{"bad from", "?from=yesterday&to=2025-01-01T00:00:00Z"},
		{"inverted", "?from=2025-01-02T00:00:00Z&to=2025-01-01T00:00:00Z"},
		{"too wide", "?from=2025-01-01T00:00:00Z&to=2025-03-01T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/api/v1/history", "/api/v1/station-history"} {
				rec := s.do(t, http.MethodGet, path+tt.query, nil)
				require.Equal(t, http.StatusBadRequest, rec.Code, path)

				var body struct {
					Error   string `json:"error"`
					Message string `json:"message"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, "Bad Request", body.Error)
				require.NotEmpty(t, body.Message)
			}
		})
	}
}

func TestHistory_StoreClosed(t *testing.T) {
	s := newTestServer(t, "")
	s.store.Close()

	rec := s.do(t, http.MethodGet, "/api/v1/history"+windowQuery(), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, "no successful poll yet")

	s.components.Poller.Tick(context.Background())

	rec = s.do(t, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body.Status)
	require.True(t, body.Poller.Healthy)
	require.NotEmpty(t, body.Poller.LastSuccess)
}

func TestStorageUsage_Memory(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodGet, "/v1/storage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"backend":"memory"`)
}

func TestStationDetails(t *testing.T) {
	defer gock.Off()
	gock.New(testTfLURL).
		Get("/StopPoint/Mode/tube").
		Reply(200).
		JSON(map[string]interface{}{
			"stopPoints": []map[string]interface{}{{
				"naptanId":   "940GZZLUBNK",
				"commonName": "Bank Underground Station",
				"stopType":   "NaptanMetroStation",
				"lat":        51.513,
				"lon":        -0.089,
			}},
		})

	s := newTestServer(t, "")
	rec := s.do(t, http.MethodGet, "/api/v1/station-details", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Bank Underground Station")
}

func TestStationDetails_UpstreamFailure(t *testing.T) {
	defer gock.Off()
	gock.New(testTfLURL).Get("/StopPoint/Mode/tube").Persist().Reply(500)

	s := newTestServer(t, "", func(cfg *config.Config) { cfg.TfL.MaxRetries = 0 })
	rec := s.do(t, http.MethodGet, "/api/v1/station-details", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, "")

	t.Run("preflight from allowed origin", func(t *testing.T) {
		rec := s.do(t, http.MethodOptions, "/api/v1/history", http.Header{"Origin": {"https://allowed.example"}})
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "https://allowed.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight from other origin", func(t *testing.T) {
		rec := s.do(t, http.MethodOptions, "/api/v1/history", http.Header{"Origin": {"https://evil.example"}})
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("origins reload", func(t *testing.T) {
		s.components.CORS.SetOrigins([]string{"*"})
		rec := s.do(t, http.MethodGet, "/v1/storage", http.Header{"Origin": {"https://evil.example"}})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "https://evil.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestStaticFrontend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>tube</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644))

	s := newTestServer(t, dir)

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantBody  string
		wantCache string
	}{
		{"root", "/", http.StatusOK, "<html>tube</html>", ""},
		{"client route falls back", "/lines/central", http.StatusOK, "<html>tube</html>", ""},
		{"asset", "/assets/app.js", http.StatusOK, "console.log(1)", assetsCacheControl},
		{"missing asset", "/assets/missing.js", http.StatusNotFound, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				require.Equal(t, tt.wantBody, rec.Body.String())
			}
			require.Equal(t, tt.wantCache, rec.Header().Get("Cache-Control"))
		})
	}

	// API routes win over the fallback.
	rec := s.do(t, http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	s.components.Poller.Tick(context.Background())
	s.do(t, http.MethodGet, "/api/v1/history"+windowQuery(), nil)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.True(t, strings.Contains(body, "tubestatus_http_requests_total"), "missing HTTP metrics")
	require.Contains(t, body, `route="/api/v1/history"`)
	require.Contains(t, body, "tubestatus_poller_ticks_total")
}

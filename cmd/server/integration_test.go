package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/h2non/gock"

	"github.com/nicktill/tubestatus/pkg/config"
	"github.com/nicktill/tubestatus/pkg/server"
	"github.com/nicktill/tubestatus/pkg/storage/memory"
	"github.com/nicktill/tubestatus/pkg/storage/storagetest"
)

const feedURL = "https://api.test.tfl"

type spanJSON struct {
	Entries []struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"entries"`
	From time.Time  `json:"from"`
	To   *time.Time `json:"to"`
}

type historyJSON map[string]struct {
	History []spanJSON `json:"history"`
}

func line(severity int, extra map[string]interface{}) map[string]interface{} {
	status := map[string]interface{}{"statusSeverity": severity}
	for k, v := range extra {
		status[k] = v
	}
	return map[string]interface{}{
		"id":           "central",
		"modeName":     "tube",
		"created":      time.Now().Format(time.RFC3339Nano),
		"lineStatuses": []interface{}{status},
	}
}

// replyFeeds registers one poll's worth of feed responses.
func replyFeeds(lines []map[string]interface{}, disruptions []map[string]interface{}) {
	gock.New(feedURL).Get("/Line/Mode/tube/Status").Reply(200).JSON(lines)
	gock.New(feedURL).Get("/StopPoint/Mode/tube/Disruption").Reply(200).JSON(disruptions)
}

func getHistory(t *testing.T, h http.Handler, path string, from, to time.Time) historyJSON {
	t.Helper()
	target := path + "?from=" + from.Format(time.RFC3339) + "&to=" + to.Format(time.RFC3339)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: status %d: %s", path, w.Code, w.Body.String())
	}
	var body historyJSON
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return body
}

// TestE2E_PollAndQuery drives the real feed client through several polls and
// reads the merged history back over HTTP.
func TestE2E_PollAndQuery(t *testing.T) {
	defer gock.Off()

	cfg := config.Defaults()
	cfg.Storage.Backend = "memory"
	cfg.Server.StaticDir = ""
	cfg.TfL.BaseURL = feedURL
	cfg.TfL.LineModes = []string{"tube"}
	cfg.TfL.StationModes = []string{"tube"}

	store := memory.New()
	defer store.Close()
	clock := storagetest.NewClock(1_700_000_000)
	store.SetClock(clock.Now)

	c := server.InitializeComponents(cfg, store, server.NewTfLClient(cfg.TfL), nil)
	router := server.SetupRoutes(mux.NewRouter(), c)
	ctx := context.Background()

	bank := map[string]interface{}{"stationAtcoCode": "940GZZLUBNK", "type": "Closure", "description": "Station closed"}

	// t0: good service, Bank closed.
	replyFeeds([]map[string]interface{}{line(10, nil)}, []map[string]interface{}{bank})
	if err := c.Poller.Tick(ctx).Err(); err != nil {
		t.Fatalf("tick 0: %v", err)
	}

	// t1: severe delays; Bank disappears from the feed.
	clock.Set(1_700_000_600)
	replyFeeds([]map[string]interface{}{line(6, nil)}, []map[string]interface{}{})
	if err := c.Poller.Tick(ctx).Err(); err != nil {
		t.Fatalf("tick 1: %v", err)
	}

	// t2: a field the parser does not read appears. The new raw interval
	// parses the same as the previous one, so the spans merge.
	clock.Set(1_700_001_200)
	replyFeeds([]map[string]interface{}{line(6, map[string]interface{}{"statusSeverityDescription": "Severe Delays"})}, []map[string]interface{}{})
	if err := c.Poller.Tick(ctx).Err(); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	if !gock.IsDone() {
		t.Error("not every feed response was consumed")
	}

	from := time.Unix(1_699_999_000, 0).UTC()
	to := time.Unix(1_700_002_000, 0).UTC()

	lines := getHistory(t, router, "/api/v1/history", from, to)
	central := lines["central"].History
	if len(central) != 2 {
		t.Fatalf("Expected 2 spans for central, got %d: %+v", len(central), central)
	}
	if central[0].Entries[0].Status != "GoodService" || central[0].To == nil || !central[0].To.Equal(time.Unix(1_700_000_600, 0)) {
		t.Errorf("Unexpected first span %+v", central[0])
	}
	if central[1].Entries[0].Status != "SevereDelays" || central[1].To != nil {
		t.Errorf("Expected open severe delays span, got %+v", central[1])
	}
	if !central[1].From.Equal(time.Unix(1_700_000_600, 0)) {
		t.Errorf("Equal intervals should merge from %v, got %v", time.Unix(1_700_000_600, 0), central[1].From)
	}

	stations := getHistory(t, router, "/api/v1/station-history", from, to)
	bankHistory := stations["940GZZLUBNK"].History
	if len(bankHistory) != 1 {
		t.Fatalf("Expected 1 span for Bank, got %d", len(bankHistory))
	}
	if bankHistory[0].To == nil || !bankHistory[0].To.Equal(time.Unix(1_700_000_600, 0)) {
		t.Errorf("Disappeared station should close at the next poll, got %+v", bankHistory[0])
	}
	if bankHistory[0].Entries[0].Reason != "Station closed" {
		t.Errorf("Reason = %q", bankHistory[0].Entries[0].Reason)
	}
}

// TestE2E_FeedOutageKeepsHistoryOpen checks that a failed poll does not
// close anything.
func TestE2E_FeedOutageKeepsHistoryOpen(t *testing.T) {
	defer gock.Off()

	cfg := config.Defaults()
	cfg.Storage.Backend = "memory"
	cfg.TfL.BaseURL = feedURL
	cfg.TfL.LineModes = []string{"tube"}
	cfg.TfL.StationModes = []string{"tube"}
	cfg.TfL.MaxRetries = 0

	store := memory.New()
	defer store.Close()
	clock := storagetest.NewClock(1_700_000_000)
	store.SetClock(clock.Now)

	c := server.InitializeComponents(cfg, store, server.NewTfLClient(cfg.TfL), nil)
	router := server.SetupRoutes(mux.NewRouter(), c)
	ctx := context.Background()

	replyFeeds([]map[string]interface{}{line(10, nil)}, []map[string]interface{}{
		{"stationAtcoCode": "940GZZLUBNK", "type": "Closure"},
	})
	if err := c.Poller.Tick(ctx).Err(); err != nil {
		t.Fatalf("tick 0: %v", err)
	}

	clock.Set(1_700_000_600)
	gock.New(feedURL).Get("/Line/Mode/tube/Status").Reply(502)
	gock.New(feedURL).Get("/StopPoint/Mode/tube/Disruption").Reply(502)
	report := c.Poller.Tick(ctx)
	if len(report.Errors) != 2 {
		t.Fatalf("Expected both feeds to fail, got %v", report.Errors)
	}

	from := time.Unix(1_699_999_000, 0).UTC()
	to := time.Unix(1_700_002_000, 0).UTC()

	for _, path := range []string{"/api/v1/history", "/api/v1/station-history"} {
		body := getHistory(t, router, path, from, to)
		if len(body) != 1 {
			t.Fatalf("%s: expected 1 entity, got %d", path, len(body))
		}
		for id, h := range body {
			if len(h.History) != 1 || h.History[0].To != nil {
				t.Errorf("%s: %s should still be open after an outage, got %+v", path, id, h.History)
			}
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("One failed poll should not mark the service degraded, got %d", w.Code)
	}
}

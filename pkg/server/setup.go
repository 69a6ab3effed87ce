package server

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nicktill/tubestatus/pkg/config"
	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/export"
	"github.com/nicktill/tubestatus/pkg/history"
	"github.com/nicktill/tubestatus/pkg/live"
	"github.com/nicktill/tubestatus/pkg/poller"
	"github.com/nicktill/tubestatus/pkg/server/monitor"
	"github.com/nicktill/tubestatus/pkg/storage"
	"github.com/nicktill/tubestatus/pkg/storage/badger"
	"github.com/nicktill/tubestatus/pkg/storage/memory"
	"github.com/nicktill/tubestatus/pkg/tfl"
)

// Components holds everything the server runs, built once at startup.
type Components struct {
	Config *config.Config
	Store  storage.Storage

	Lines    storage.Family
	Stations storage.Family

	History        *history.Service
	Details        *tfl.DetailsLoader
	Hub            *live.Hub
	Poller         *poller.Poller
	PollMonitor    *monitor.PollMonitor
	StorageMonitor *monitor.StorageMonitor
	Export         *export.Handler
	CORS           *CORS
}

// InitializeStorage opens the configured interval store.
func InitializeStorage(cfg config.StorageConfig) (storage.Storage, error) {
	if cfg.Backend == "memory" {
		zap.S().Warn("Using in-memory storage; history is lost on restart")
		return memory.New(), nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	zap.S().Infof("Initializing BadgerDB storage at %s", cfg.Path)
	store, err := badger.New(badger.Config{
		Path:           cfg.Path,
		MaxMemoryMB:    cfg.MaxMemoryMB,
		MaxConnections: cfg.MaxConnections,
	})
	if err != nil {
		return nil, err
	}
	zap.S().Info("BadgerDB storage initialized successfully")
	return store, nil
}

// Families builds the line and station families with their ignored fields.
func Families(cfg config.HistoryConfig) (lines, stations storage.Family) {
	lines = storage.Lines(document.NewDetector(cfg.LineIgnoredFields...))
	stations = storage.Stations(document.NewDetector(cfg.StationIgnoredFields...))
	return lines, stations
}

// NewTfLClient creates the feed client from configuration.
func NewTfLClient(cfg config.TfLConfig) *tfl.Client {
	return tfl.NewClient(tfl.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		LineModes:    cfg.LineModes,
		StationModes: cfg.StationModesOrLines(),
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
	})
}

// InitializeComponents wires the store, the feed client and every handler.
// feeds overrides the feeds built from client when non-nil.
func InitializeComponents(cfg *config.Config, store storage.Storage, client *tfl.Client, feeds []poller.Feed) *Components {
	lines, stations := Families(cfg.History)

	if feeds == nil {
		feeds = []poller.Feed{
			tfl.NewLineFeed(client, lines),
			tfl.NewStationFeed(client, stations),
		}
	}

	c := &Components{
		Config:   cfg,
		Store:    store,
		Lines:    lines,
		Stations: stations,
		History:  history.NewService(store, lines, stations, cfg.History.MaxWindow),
		Details:  tfl.NewDetailsLoader(client, cfg.TfL.DetailsTTL),
		CORS:     NewCORS(cfg.Server.CORSOrigins),
	}

	c.Hub = live.NewHub(c.CORS.Allowed)
	zap.S().Info("WebSocket hub created for live transitions")

	// Three missed polls before the poller counts as stalled.
	c.PollMonitor = monitor.NewPollMonitor(3 * cfg.Poller.Interval)
	c.Poller = poller.New(store, cfg.Poller.Interval, feeds,
		poller.WithPublisher(c.Hub),
		poller.WithRecorder(c.PollMonitor),
	)

	dataDir := ""
	if cfg.Storage.Backend == "badger" {
		dataDir = cfg.Storage.Path
	}
	c.StorageMonitor = monitor.NewStorageMonitor(cfg.Storage.Backend, dataDir, cfg.Storage.MaxStorageBytes())

	c.Export = export.NewHandler(store, map[string]storage.Family{
		"lines":    lines,
		"stations": stations,
	}, cfg.History.MaxWindow)

	return c
}

package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultDataDir      = "./data/tubestatus"
	DefaultStaticDir    = "./web"
)

// HTTP server timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 30 * time.Second
	ServerIdleTimeout  = 60 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

// Background task intervals
const (
	PollInterval     = 60 * time.Second
	BadgerGCInterval = 10 * time.Minute
	GCDiscardRatio   = 0.5
)

// History and export limits
const (
	MaxHistoryWindow    = 32 * 24 * time.Hour
	DefaultExportWindow = 24 * time.Hour
	HistoryTimeout      = 30 * time.Second
	ExportTimeout       = 60 * time.Second
)

// Feed client defaults
const (
	TfLBaseURL       = "https://api.tfl.gov.uk"
	TfLTimeout       = 10 * time.Second
	TfLMaxRetries    = 3
	StationDetailTTL = 24 * time.Hour
)

// Storage pool
const (
	DefaultMaxConnections = 5
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

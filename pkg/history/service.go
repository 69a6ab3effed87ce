package history

import (
	"context"
	"time"

	"github.com/nicktill/tubestatus/pkg/status"
	"github.com/nicktill/tubestatus/pkg/storage"
)

type (
	// LineHistory is the display history of one line.
	LineHistory = EntityHistory[status.LineStatus, status.LineMetadata]
	// StationHistory is the display history of one station.
	StationHistory = EntityHistory[status.StationStatus, status.StationMetadata]
)

// Service exposes history for both entity families.
type Service struct {
	lines    *Query[status.LineStatus, status.LineMetadata]
	stations *Query[status.StationStatus, status.StationMetadata]
}

// NewService wires queries for the line and station families.
func NewService(store storage.Storage, lines, stations storage.Family, maxWindow time.Duration) *Service {
	return &Service{
		lines:    NewQuery[status.LineStatus, status.LineMetadata](store, lines, status.LineParser{}, maxWindow),
		stations: NewQuery[status.StationStatus, status.StationMetadata](store, stations, status.StationParser{}, maxWindow),
	}
}

// Lines returns line history for [from, to].
func (s *Service) Lines(ctx context.Context, from, to time.Time) (map[string]LineHistory, error) {
	return s.lines.Get(ctx, from, to)
}

// Stations returns station history for [from, to].
func (s *Service) Stations(ctx context.Context, from, to time.Time) (map[string]StationHistory, error) {
	return s.stations.Get(ctx, from, to)
}

// MaxWindow is the widest window either query accepts.
func (s *Service) MaxWindow() time.Duration {
	return s.lines.maxWindow
}

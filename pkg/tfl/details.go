package tfl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// StationDetails describes a station for display next to its history.
type StationDetails struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Lines []string `json:"lines"`
	Modes []string `json:"modes"`
}

type stopPointsResponse struct {
	StopPoints []struct {
		NaptanID   string   `json:"naptanId"`
		CommonName string   `json:"commonName"`
		StopType   string   `json:"stopType"`
		Lat        float64  `json:"lat"`
		Lon        float64  `json:"lon"`
		Modes      []string `json:"modes"`
		Lines      []struct {
			ID string `json:"id"`
		} `json:"lines"`
	} `json:"stopPoints"`
}

// stationStopTypes are the stop point types that represent whole stations.
var stationStopTypes = map[string]bool{
	"NaptanMetroStation": true,
	"NaptanRailStation":  true,
}

// StationDetails fetches every station of the configured station modes,
// keyed by station id.
func (c *Client) StationDetails(ctx context.Context) (map[string]StationDetails, error) {
	path := "/StopPoint/Mode/" + joinModes(c.cfg.StationModes)

	doc, err := c.getDocument(ctx, path)
	if err != nil {
		return nil, err
	}

	var resp stopPointsResponse
	if err := doc.Decode(&resp); err != nil {
		return nil, &FetchError{Endpoint: path, Err: fmt.Errorf("decode stop points: %w", err)}
	}

	out := make(map[string]StationDetails)
	for _, sp := range resp.StopPoints {
		if !stationStopTypes[sp.StopType] || sp.NaptanID == "" {
			continue
		}
		details := StationDetails{
			ID:    sp.NaptanID,
			Name:  sp.CommonName,
			Lat:   sp.Lat,
			Lon:   sp.Lon,
			Modes: sp.Modes,
			Lines: make([]string, 0, len(sp.Lines)),
		}
		for _, l := range sp.Lines {
			details.Lines = append(details.Lines, l.ID)
		}
		out[sp.NaptanID] = details
	}
	return out, nil
}

// ErrDetailsLoading is returned while a details load is in flight.
var ErrDetailsLoading = errors.New("station details are currently loading, try again later")

// DetailsState describes the loader's progress.
type DetailsState string

const (
	DetailsNotLoaded DetailsState = "not_loaded"
	DetailsLoading   DetailsState = "loading"
	DetailsLoaded    DetailsState = "loaded"
	DetailsFailed    DetailsState = "failed"
)

const detailsCacheKey = "station-details"

// DetailsLoader loads station details lazily and caches them. Only one load
// runs at a time; a failed load is retried by the next caller.
type DetailsLoader struct {
	client *Client
	cache  *cache.Cache

	mu      sync.Mutex
	loading bool
	lastErr error
}

// NewDetailsLoader creates a loader whose results expire after ttl.
func NewDetailsLoader(client *Client, ttl time.Duration) *DetailsLoader {
	return &DetailsLoader{
		client: client,
		cache:  cache.New(ttl, ttl),
	}
}

// Get returns cached details, loading them if needed. It returns
// ErrDetailsLoading instead of waiting when another load is in progress.
func (l *DetailsLoader) Get(ctx context.Context) (map[string]StationDetails, error) {
	if v, ok := l.cache.Get(detailsCacheKey); ok {
		return v.(map[string]StationDetails), nil
	}

	l.mu.Lock()
	if l.loading {
		l.mu.Unlock()
		return nil, ErrDetailsLoading
	}
	l.loading = true
	l.mu.Unlock()

	details, err := l.client.StationDetails(ctx)

	l.mu.Lock()
	l.loading = false
	l.lastErr = err
	l.mu.Unlock()

	if err != nil {
		return nil, err
	}

	l.cache.Set(detailsCacheKey, details, cache.DefaultExpiration)
	zap.S().Infof("Loaded details for %d stations", len(details))
	return details, nil
}

// State reports the loader's current state.
func (l *DetailsLoader) State() DetailsState {
	if _, ok := l.cache.Get(detailsCacheKey); ok {
		return DetailsLoaded
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.loading:
		return DetailsLoading
	case l.lastErr != nil:
		return DetailsFailed
	default:
		return DetailsNotLoaded
	}
}

// Warm loads details in the background so the first request is served from
// cache.
func (l *DetailsLoader) Warm(ctx context.Context) {
	go func() {
		if _, err := l.Get(ctx); err != nil && !errors.Is(err, ErrDetailsLoading) {
			zap.S().Warnf("Failed to preload station details: %v", err)
		}
	}()
}

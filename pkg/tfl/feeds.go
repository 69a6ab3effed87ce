package tfl

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/storage"
)

var errNotArray = errors.New("response is not an array")

// LineStatuses fetches the status of every line of the configured modes,
// keyed by line id.
func (c *Client) LineStatuses(ctx context.Context) (map[string]document.Document, error) {
	path := "/Line/Mode/" + joinModes(c.cfg.LineModes) + "/Status"

	doc, err := c.getDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	if doc.Kind() != document.KindArray {
		return nil, &FetchError{Endpoint: path, Err: errNotArray}
	}

	out := make(map[string]document.Document, doc.Len())
	for _, line := range doc.Items() {
		id, ok := stringField(line, "id")
		if !ok {
			zap.S().Warnf("Line status without id, skipping")
			continue
		}
		out[id] = line
	}
	return out, nil
}

// StationDisruptions fetches current station disruptions, grouped by station.
// Each station maps to an array of its disruption records in feed order.
// Stations without disruptions are absent.
func (c *Client) StationDisruptions(ctx context.Context) (map[string]document.Document, error) {
	path := "/StopPoint/Mode/" + joinModes(c.cfg.StationModes) + "/Disruption"

	doc, err := c.getDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	if doc.Kind() != document.KindArray {
		return nil, &FetchError{Endpoint: path, Err: errNotArray}
	}

	grouped := make(map[string][]document.Document)
	for _, d := range doc.Items() {
		id, ok := stringField(d, "stationAtcoCode")
		if !ok {
			id, ok = stringField(d, "atcoCode")
		}
		if !ok {
			zap.S().Warnf("Station disruption without station code, skipping")
			continue
		}
		grouped[id] = append(grouped[id], d)
	}

	out := make(map[string]document.Document, len(grouped))
	for id, records := range grouped {
		out[id] = document.NewArray(records...)
	}
	return out, nil
}

func stringField(d document.Document, key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.Str()
	return s, ok && s != ""
}

// LineFeed polls line statuses into the line family.
type LineFeed struct {
	client *Client
	family storage.Family
}

// NewLineFeed binds the client's line endpoint to family.
func NewLineFeed(client *Client, family storage.Family) *LineFeed {
	return &LineFeed{client: client, family: family}
}

// Name implements poller.Feed.
func (f *LineFeed) Name() string { return "lines" }

// Family implements poller.Feed.
func (f *LineFeed) Family() storage.Family { return f.family }

// Fetch implements poller.Feed.
func (f *LineFeed) Fetch(ctx context.Context) (map[string]document.Document, error) {
	return f.client.LineStatuses(ctx)
}

// StationFeed polls station disruptions into the station family.
type StationFeed struct {
	client *Client
	family storage.Family
}

// NewStationFeed binds the client's disruption endpoint to family.
func NewStationFeed(client *Client, family storage.Family) *StationFeed {
	return &StationFeed{client: client, family: family}
}

// Name implements poller.Feed.
func (f *StationFeed) Name() string { return "stations" }

// Family implements poller.Feed.
func (f *StationFeed) Family() storage.Family { return f.family }

// Fetch implements poller.Feed.
func (f *StationFeed) Fetch(ctx context.Context) (map[string]document.Document, error) {
	return f.client.StationDisruptions(ctx)
}

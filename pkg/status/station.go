package status

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nicktill/tubestatus/pkg/document"
)

// StationStatus is the kind of disruption reported at a station.
type StationStatus int

const (
	Closure StationStatus = iota
	StationPartClosure
	InterchangeMessage
	Information
	StationOther
)

var stationStatusNames = map[StationStatus]string{
	Closure:            "Closure",
	StationPartClosure: "PartClosure",
	InterchangeMessage: "InterchangeMessage",
	Information:        "Information",
	StationOther:       "Other",
}

func (s StationStatus) String() string {
	if name, ok := stationStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StationStatus(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s StationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *StationStatus) UnmarshalText(text []byte) error {
	for status, name := range stationStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown station status %q", text)
}

// DisruptionTypeToStationStatus maps a feed disruption type such as
// "Part Closure" to a StationStatus.
func DisruptionTypeToStationStatus(kind string) StationStatus {
	switch strings.ToLower(strings.ReplaceAll(kind, " ", "")) {
	case "closure":
		return Closure
	case "partclosure":
		return StationPartClosure
	case "interchangemessage":
		return InterchangeMessage
	case "information":
		return Information
	default:
		return StationOther
	}
}

// StationMetadata is empty: the station family carries no metadata.
type StationMetadata struct{}

// StationParser parses station disruption lists.
type StationParser struct{}

type disruption struct {
	Type        *string `json:"type"`
	Description string  `json:"description"`
}

var errNotArray = errors.New("document is not an array of disruptions")

// Parse implements Parser. Stations have no metadata.
func (StationParser) Parse(entityID string, doc document.Document) (Parsed[StationStatus, StationMetadata], error) {
	if doc.Kind() != document.KindArray {
		return Parsed[StationStatus, StationMetadata]{}, &ParseError{EntityID: entityID, Err: errNotArray}
	}

	var raw []disruption
	if err := doc.Decode(&raw); err != nil {
		return Parsed[StationStatus, StationMetadata]{}, &ParseError{EntityID: entityID, Err: err}
	}

	entries := make([]Entry[StationStatus], 0, len(raw))
	for i, d := range raw {
		if d.Type == nil {
			return Parsed[StationStatus, StationMetadata]{}, &ParseError{
				EntityID: entityID,
				Err:      fmt.Errorf("disruption %d has no type", i),
			}
		}
		entries = append(entries, Entry[StationStatus]{
			Status: DisruptionTypeToStationStatus(*d.Type),
			Reason: d.Description,
		})
	}
	sortEntries(entries)

	return Parsed[StationStatus, StationMetadata]{Entries: entries}, nil
}

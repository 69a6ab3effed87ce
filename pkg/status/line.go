package status

import (
	"errors"
	"fmt"

	"github.com/nicktill/tubestatus/pkg/document"
)

// LineStatus is the operational state of a line, most severe first.
type LineStatus int

const (
	Suspended LineStatus = iota
	PartSuspended
	PlannedClosure
	PartClosure
	ServiceClosed
	SevereDelays
	ReducedService
	MinorDelays
	GoodService
	LineOther
)

var lineStatusNames = map[LineStatus]string{
	Suspended:      "Suspended",
	PartSuspended:  "PartSuspended",
	PlannedClosure: "PlannedClosure",
	PartClosure:    "PartClosure",
	ServiceClosed:  "ServiceClosed",
	SevereDelays:   "SevereDelays",
	ReducedService: "ReducedService",
	MinorDelays:    "MinorDelays",
	GoodService:    "GoodService",
	LineOther:      "Other",
}

func (s LineStatus) String() string {
	if name, ok := lineStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("LineStatus(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s LineStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *LineStatus) UnmarshalText(text []byte) error {
	for status, name := range lineStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown line status %q", text)
}

// SeverityToLineStatus maps a feed severity code to a LineStatus.
func SeverityToLineStatus(severity int) LineStatus {
	switch severity {
	case 0, 7:
		return ReducedService
	case 2:
		return Suspended
	case 3:
		return PartSuspended
	case 4:
		return PlannedClosure
	case 5:
		return PartClosure
	case 6:
		return SevereDelays
	case 9:
		return MinorDelays
	case 10:
		return GoodService
	case 20:
		return ServiceClosed
	default:
		return LineOther
	}
}

// LineMetadata is descriptive data about a line.
type LineMetadata struct {
	Mode string `json:"mode,omitempty"`
}

// LineParser parses line status documents.
type LineParser struct{}

type lineDocument struct {
	ModeName     string `json:"modeName"`
	LineStatuses []struct {
		StatusSeverity *int    `json:"statusSeverity"`
		Reason         *string `json:"reason"`
	} `json:"lineStatuses"`
}

var (
	errNotObject       = errors.New("document is not an object")
	errNoLineStatuses  = errors.New("missing lineStatuses")
	errMissingSeverity = errors.New("status without statusSeverity")
)

// Parse implements Parser.
func (LineParser) Parse(entityID string, doc document.Document) (Parsed[LineStatus, LineMetadata], error) {
	if doc.Kind() != document.KindObject {
		return Parsed[LineStatus, LineMetadata]{}, &ParseError{EntityID: entityID, Err: errNotObject}
	}
	if statuses, ok := doc.Get("lineStatuses"); !ok || statuses.Kind() != document.KindArray {
		return Parsed[LineStatus, LineMetadata]{}, &ParseError{EntityID: entityID, Err: errNoLineStatuses}
	}

	var raw lineDocument
	if err := doc.Decode(&raw); err != nil {
		return Parsed[LineStatus, LineMetadata]{}, &ParseError{EntityID: entityID, Err: err}
	}

	entries := make([]Entry[LineStatus], 0, len(raw.LineStatuses))
	for _, ls := range raw.LineStatuses {
		if ls.StatusSeverity == nil {
			return Parsed[LineStatus, LineMetadata]{}, &ParseError{EntityID: entityID, Err: errMissingSeverity}
		}
		entry := Entry[LineStatus]{Status: SeverityToLineStatus(*ls.StatusSeverity)}
		if ls.Reason != nil {
			entry.Reason = *ls.Reason
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)

	return Parsed[LineStatus, LineMetadata]{
		Entries:  entries,
		Metadata: &LineMetadata{Mode: raw.ModeName},
	}, nil
}

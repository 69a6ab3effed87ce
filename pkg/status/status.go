// Package status turns raw feed documents into ordered, comparable statuses.
package status

import (
	"fmt"
	"sort"

	"github.com/nicktill/tubestatus/pkg/document"
)

// Code is an ordered status enumeration. Lower values are more severe.
type Code interface {
	~int
	String() string
}

// Entry is one parsed status of an entity with its optional reason text.
type Entry[S Code] struct {
	Status S      `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Parsed is the display form of one stored document.
type Parsed[S Code, M any] struct {
	Entries []Entry[S]
	// Metadata is nil for families that carry none.
	Metadata *M
}

// Parser maps a raw document to its parsed form.
type Parser[S Code, M any] interface {
	Parse(entityID string, doc document.Document) (Parsed[S, M], error)
}

// ParseError reports a document whose shape the parser does not recognise.
type ParseError struct {
	EntityID string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.EntityID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// EntriesEqual reports whether two entry lists are identical, in order.
func EntriesEqual[S Code](a, b []Entry[S]) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Status != b[i].Status || a[i].Reason != b[i].Reason {
			return false
		}
	}
	return true
}

// sortEntries orders entries by severity, keeping feed order among equals.
func sortEntries[S Code](entries []Entry[S]) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Status < entries[j].Status
	})
}

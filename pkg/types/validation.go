package types

import (
	"strings"
	"time"
)

// ValidationState is the manual-investigation workflow state of a UC.
type ValidationState string

const (
	// ValidationInvestigating means an engineer flagged the UC's anomaly
	// for review.
	ValidationInvestigating ValidationState = "Investigating"
	// ValidationResolved means the anomaly that triggered the
	// investigation has been confirmed recovered.
	ValidationResolved ValidationState = "Resolved"
)

// ValidationEntry is one append-only history entry of a validation
// record.
type ValidationEntry struct {
	State ValidationState `json:"state"`
	// DateLabel is the transition date formatted DD/MM/YYYY for display.
	DateLabel string    `json:"dateLabel"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidationRecord tracks the investigation workflow for one
// (normalized document, UC) pair. History only ever grows; the current
// State always equals the state of the last history entry.
type ValidationRecord struct {
	// DocumentID is the normalized client tax ID.
	DocumentID string            `json:"documentID"`
	UC         string            `json:"uc"`
	State      ValidationState   `json:"state"`
	History    []ValidationEntry `json:"history"`
}

var documentReplacer = strings.NewReplacer(".", "", "-", "", "/", "")

// NormalizeDocument strips the punctuation of a client tax ID so that
// formatted and unformatted variants key the same ledger row.
func NormalizeDocument(document string) string {
	return documentReplacer.Replace(document)
}

// ValidationKey returns the ledger key for a (document, UC) pair.
func ValidationKey(document, uc string) string {
	return NormalizeDocument(document) + ":" + uc
}

package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MinAbstractLength is the shortest trimmed abstract a Document may carry.
const MinAbstractLength = 10

// Source tells which kind of publication a Document was extracted from.
type Source string

const (
	SourceGrant    Source = "GRANT"
	SourcePregrant Source = "PREGRANT"
	SourceCSV      Source = "CSV"
	SourceUnknown  Source = "UNKNOWN"
)

// ParseSource maps stored or user-supplied values onto a Source.
func ParseSource(value string) Source {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "GRANT":
		return SourceGrant
	case "PREGRANT", "IPAB", "APPLICATION":
		return SourcePregrant
	case "CSV":
		return SourceCSV
	default:
		return SourceUnknown
	}
}

// Document is a normalized patent record produced by the extractor.
type Document struct {
	ExternalID      string
	Title           string
	Abstract        string
	PublicationDate string
	Source          Source
}

// Valid reports whether the document may enter the pipeline.
func (d Document) Valid() bool {
	return strings.TrimSpace(d.ExternalID) != "" &&
		utf8.RuneCountInString(strings.TrimSpace(d.Abstract)) >= MinAbstractLength
}

// Key is the composite identity shared by queue items and results.
type Key struct {
	ExternalID  string
	Fingerprint string
}

func (k Key) String() string {
	return k.ExternalID + "@" + k.Fingerprint
}

// Status tracks a queue item through classification.
type Status string

const (
	StatusPending Status = "pending"
	StatusScored  Status = "scored"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(value))); s {
	case StatusPending, StatusScored, StatusSkipped, StatusError:
		return s, nil
	default:
		return "", fmt.Errorf("unknown queue status %q", value)
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusScored || s == StatusSkipped || s == StatusError
}

// CanTransition encodes the queue state machine: only pending items move.
func CanTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	return to == StatusScored || to == StatusSkipped || to == StatusError
}

// Relevance is the classifier verdict for a document.
type Relevance string

const (
	RelevanceHigh   Relevance = "High"
	RelevanceMedium Relevance = "Medium"
	RelevanceLow    Relevance = "Low"
)

// ParseRelevance accepts any casing of High, Medium or Low.
func ParseRelevance(value string) (Relevance, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high":
		return RelevanceHigh, nil
	case "medium":
		return RelevanceMedium, nil
	case "low":
		return RelevanceLow, nil
	default:
		return "", fmt.Errorf("unknown relevance %q", value)
	}
}

// Rank orders relevance levels for threshold comparisons: High(3) > Medium(2) > Low(1).
func (r Relevance) Rank() int {
	switch r {
	case RelevanceHigh:
		return 3
	case RelevanceMedium:
		return 2
	case RelevanceLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r meets the min threshold.
func (r Relevance) AtLeast(min Relevance) bool {
	return r.Rank() >= min.Rank()
}

// QueueItem is a document admitted for classification.
type QueueItem struct {
	Key
	Title           string
	Abstract        string
	PublicationDate string
	Source          Source
	Status          Status
	EnqueuedAt      time.Time
}

// NewQueueItem builds a pending item for a fingerprinted document.
func NewQueueItem(doc Document, fingerprint string, now time.Time) QueueItem {
	return QueueItem{
		Key:             Key{ExternalID: doc.ExternalID, Fingerprint: fingerprint},
		Title:           doc.Title,
		Abstract:        doc.Abstract,
		PublicationDate: doc.PublicationDate,
		Source:          doc.Source,
		Status:          StatusPending,
		EnqueuedAt:      now,
	}
}

// Result is the stored outcome of classifying one queue item.
type Result struct {
	Key
	Relevance         Relevance
	Tags              []string
	Title             string
	Abstract          string
	PublicationDate   string
	Source            Source
	ClassifierID      string
	ClassifierVersion string
	ScoredAt          time.Time
}

// ParseTags decodes a stored JSON array of strings. Anything else yields an empty set.
func ParseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// EncodeTags is the inverse of ParseTags.
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

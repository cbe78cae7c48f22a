package domain

import "time"

// JobStatus enumerates ingest job milestones.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IngestJob is the persisted record of one file ingestion.
type IngestJob struct {
	ID              string
	Filename        string
	Status          JobStatus
	StartedAt       time.Time
	CompletedAt     *time.Time
	TotalParsed     int
	Existing        int
	QueuedDuplicate int
	Enqueued        int
	Log             string
}

// IngestReport carries the dedup gate counters for one run.
type IngestReport struct {
	JobID           string `json:"jobId"`
	Filename        string `json:"filename"`
	TotalParsed     int    `json:"totalParsed"`
	Existing        int    `json:"existingScores"`
	QueuedDuplicate int    `json:"alreadyQueued"`
	Enqueued        int    `json:"newToScore"`
}

// BatchResult summarizes one or more classification batches.
type BatchResult struct {
	Processed   int      `json:"processed"`
	Scored      int      `json:"scored"`
	Filtered    int      `json:"filtered"`
	Errors      int      `json:"errors"`
	ExternalIDs []string `json:"-"`
}

// Add folds another batch into the running total.
func (b *BatchResult) Add(other BatchResult) {
	b.Processed += other.Processed
	b.Scored += other.Scored
	b.Filtered += other.Filtered
	b.Errors += other.Errors
	b.ExternalIDs = append(b.ExternalIDs, other.ExternalIDs...)
}

// SyncDetail records a per-identifier sync failure.
type SyncDetail struct {
	ExternalID string `json:"externalId"`
	Status     int    `json:"status,omitempty"`
	Error      string `json:"error"`
}

// SyncReport summarizes a sync gate run.
type SyncReport struct {
	RunID          string       `json:"runId"`
	Considered     int          `json:"considered"`
	Created        int          `json:"created"`
	AlreadyPresent int          `json:"alreadyPresent"`
	Failed         int          `json:"failed"`
	Retired        int          `json:"retired"`
	RemoteDeleted  int          `json:"remoteDeleted"`
	Details        []SyncDetail `json:"details"`
}

// TrackerRecord is the external mirror of a High or Medium result.
type TrackerRecord struct {
	RemoteID        string
	ExternalID      string
	Title           string
	Abstract        string
	Relevance       Relevance
	Tags            []string
	PublicationDate string
}

// TrackerUpdate carries the editable fields of a tracker record.
type TrackerUpdate struct {
	Relevance Relevance
	Tags      []string
}

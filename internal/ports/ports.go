package ports

import (
	"context"
	"time"

	"PatentTriage/internal/domain"
)

// QueueFilter narrows queue listings. A zero Status lists every status.
type QueueFilter struct {
	Status domain.Status
	Limit  int
	Offset int
}

// ResultFilter narrows result listings; empty fields match everything.
type ResultFilter struct {
	Relevance domain.Relevance
	Source    domain.Source
	Search    string
	Limit     int
	Offset    int
}

// ResultRepository reads classification results.
type ResultRepository interface {
	ResultExists(ctx context.Context, key domain.Key) (bool, error)
	GetResult(ctx context.Context, key domain.Key) (domain.Result, bool, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]domain.Result, int, error)
	// EachResult streams every result matching filter in scoring order,
	// ignoring Limit and Offset. fn must not call back into the store.
	EachResult(ctx context.Context, filter ResultFilter, fn func(domain.Result) error) error
}

// QueueRepository owns queue items and their status transitions.
type QueueRepository interface {
	QueueExists(ctx context.Context, key domain.Key) (bool, error)
	// Enqueue inserts a pending item and reports false when the key already exists.
	Enqueue(ctx context.Context, item domain.QueueItem) (bool, error)
	FetchPending(ctx context.Context, limit int) ([]domain.QueueItem, error)
	// MarkStatus moves a pending item to a terminal status; it reports false
	// when the item was no longer pending.
	MarkStatus(ctx context.Context, key domain.Key, to domain.Status) (bool, error)
	// CommitResult marks a pending item scored and stores its result
	// atomically; it reports false when the item had already left pending.
	CommitResult(ctx context.Context, result domain.Result) (bool, error)
	Skip(ctx context.Context, externalIDs []string) (int, error)
	ListQueue(ctx context.Context, filter QueueFilter) ([]domain.QueueItem, int, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
	DeleteQueueItem(ctx context.Context, key domain.Key) (bool, error)
}

// SyncRepository tracks which results were mirrored to the tracker.
type SyncRepository interface {
	UnsyncedResults(ctx context.Context, externalIDs []string) ([]domain.Result, error)
	LowResults(ctx context.Context, externalIDs []string) ([]domain.Result, error)
	RecordSync(ctx context.Context, key domain.Key, remoteID string, at time.Time) error
}

// JobRepository persists ingest job records.
type JobRepository interface {
	CreateJob(ctx context.Context, job domain.IngestJob) error
	FinishJob(ctx context.Context, job domain.IngestJob) error
	GetJob(ctx context.Context, id string) (domain.IngestJob, bool, error)
}

// Store is the full persistence surface.
type Store interface {
	ResultRepository
	QueueRepository
	SyncRepository
	JobRepository
}

// Tracker is the external system that mirrors relevant results.
type Tracker interface {
	LookupByIdentifier(ctx context.Context, externalID string) (*domain.TrackerRecord, error)
	Create(ctx context.Context, record domain.TrackerRecord) (string, error)
	Delete(ctx context.Context, remoteID string) error
}

// TrackerFilter narrows tracker record listings; empty fields match everything.
type TrackerFilter struct {
	Search    string
	Relevance domain.Relevance
	Tag       string
	Limit     int
	Offset    int
}

// TrackerRecords browses and edits records already mirrored to the tracker.
type TrackerRecords interface {
	// ListRecords returns one window of matching records and the total match count.
	ListRecords(ctx context.Context, filter TrackerFilter) ([]domain.TrackerRecord, int, error)
	// GetRecord returns nil when remoteID does not exist.
	GetRecord(ctx context.Context, remoteID string) (*domain.TrackerRecord, error)
	UpdateRecord(ctx context.Context, remoteID string, update domain.TrackerUpdate) (domain.TrackerRecord, error)
}

// Notifier streams digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// ChatClient sends a system and user prompt to an LLM API and returns the reply.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Scheduler controls when background drains execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

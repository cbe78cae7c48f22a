package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"PatentTriage/internal/domain"
	"PatentTriage/internal/extract"
	"PatentTriage/internal/fingerprint"
	"PatentTriage/internal/logging"
	"PatentTriage/internal/ports"
)

// IngestorDeps wires the extractor and stores into the dedup gate.
type IngestorDeps struct {
	Extractor   *extract.Extractor
	Results     ports.ResultRepository
	Queue       ports.QueueRepository
	Jobs        ports.JobRepository
	Version     string
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Ingestor runs files through extraction and the dedup gate.
type Ingestor struct {
	extractor   *extract.Extractor
	results     ports.ResultRepository
	queue       ports.QueueRepository
	jobs        ports.JobRepository
	version     string
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewIngestor constructs the ingestion use case.
func NewIngestor(deps IngestorDeps) *Ingestor {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 1
	}
	return &Ingestor{
		extractor:   deps.Extractor,
		results:     deps.Results,
		queue:       deps.Queue,
		jobs:        deps.Jobs,
		version:     deps.Version,
		concurrency: deps.Concurrency,
		logger:      deps.Logger,
		now:         deps.Now,
	}
}

// Begin validates name and records a running job for it.
func (i *Ingestor) Begin(ctx context.Context, name string) (domain.IngestJob, error) {
	if err := extract.CheckName(name); err != nil {
		return domain.IngestJob{}, err
	}

	job := domain.IngestJob{
		ID:        ulid.Make().String(),
		Filename:  filepath.Base(name),
		Status:    domain.JobRunning,
		StartedAt: i.now().UTC(),
	}
	if err := i.jobs.CreateJob(ctx, job); err != nil {
		return domain.IngestJob{}, fmt.Errorf("create ingest job: %w", err)
	}
	return job, nil
}

// Ingest extracts r and admits every new document to the queue.
func (i *Ingestor) Ingest(ctx context.Context, name string, r io.Reader) (domain.IngestReport, error) {
	job, err := i.Begin(ctx, name)
	if err != nil {
		return domain.IngestReport{}, err
	}
	return i.Run(ctx, job, r)
}

// Run performs the dedup gate for a job created by Begin and finalizes it.
func (i *Ingestor) Run(ctx context.Context, job domain.IngestJob, r io.Reader) (domain.IngestReport, error) {
	logger := i.logger.With("job", job.ID, "file", job.Filename)
	report := domain.IngestReport{JobID: job.ID, Filename: job.Filename}

	err := i.admit(ctx, job.Filename, r, &report)

	completed := i.now().UTC()
	job.CompletedAt = &completed
	job.TotalParsed = report.TotalParsed
	job.Existing = report.Existing
	job.QueuedDuplicate = report.QueuedDuplicate
	job.Enqueued = report.Enqueued
	if err != nil {
		job.Status = domain.JobFailed
		job.Log = err.Error()
		logger.Error("ingest failed", "error", err)
	} else {
		job.Status = domain.JobCompleted
		job.Log = fmt.Sprintf("parsed %d: %d already scored, %d already queued, %d enqueued",
			report.TotalParsed, report.Existing, report.QueuedDuplicate, report.Enqueued)
		logger.Info("ingest completed",
			"parsed", report.TotalParsed,
			"existing", report.Existing,
			"queued", report.QueuedDuplicate,
			"enqueued", report.Enqueued)
	}

	if ferr := i.jobs.FinishJob(context.WithoutCancel(ctx), job); ferr != nil {
		logger.Warn("cannot finalize job", "error", ferr)
		if err == nil {
			err = fmt.Errorf("finish ingest job: %w", ferr)
		}
	}
	return report, err
}

func (i *Ingestor) admit(ctx context.Context, name string, r io.Reader, report *domain.IngestReport) error {
	docs, err := i.extractor.Extract(ctx, name, r)
	if err != nil {
		return err
	}

	for doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.TotalParsed++

		key := domain.Key{
			ExternalID:  doc.ExternalID,
			Fingerprint: fingerprint.Compute(doc.ExternalID, doc.Abstract, i.version),
		}

		scored, err := i.results.ResultExists(ctx, key)
		if err != nil {
			return err
		}
		if scored {
			report.Existing++
			continue
		}

		queued, err := i.queue.QueueExists(ctx, key)
		if err != nil {
			return err
		}
		if queued {
			report.QueuedDuplicate++
			continue
		}

		inserted, err := i.queue.Enqueue(ctx, domain.NewQueueItem(doc, key.Fingerprint, i.now().UTC()))
		if err != nil {
			return err
		}
		if inserted {
			report.Enqueued++
		} else {
			report.QueuedDuplicate++
		}
	}
	return nil
}

// IngestFiles ingests each path as its own job, at most Concurrency at a time.
// Reports come back in path order; a failed file leaves a zero report in its slot.
func (i *Ingestor) IngestFiles(ctx context.Context, paths []string) ([]domain.IngestReport, error) {
	for _, path := range paths {
		if err := extract.CheckName(path); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	reports := make([]domain.IngestReport, len(paths))
	var g errgroup.Group
	g.SetLimit(i.concurrency)

	for idx, path := range paths {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			report, err := i.Ingest(ctx, path, f)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", path, err)
			}
			reports[idx] = report
			return nil
		})
	}

	return reports, g.Wait()
}

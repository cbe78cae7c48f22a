package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"PatentTriage/internal/apperr"
	"PatentTriage/internal/classify"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/logging"
	"PatentTriage/internal/ports"
)

// BatchDeps wires the classifier and queue into the batch orchestrator.
type BatchDeps struct {
	Queue        ports.QueueRepository
	Classifier   classify.Classifier
	Rules        classify.TagRules
	Version      string
	MinRelevance domain.Relevance
	Logger       *slog.Logger
	Now          func() time.Time
}

// BatchProcessor drains pending queue items through the classifier.
type BatchProcessor struct {
	queue        ports.QueueRepository
	classifier   classify.Classifier
	rules        classify.TagRules
	version      string
	minRelevance domain.Relevance
	logger       *slog.Logger
	now          func() time.Time

	// drains in this process run one at a time
	mu sync.Mutex
}

// NewBatchProcessor constructs the batch orchestrator.
func NewBatchProcessor(deps BatchDeps) *BatchProcessor {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MinRelevance == "" {
		deps.MinRelevance = domain.RelevanceMedium
	}
	return &BatchProcessor{
		queue:        deps.Queue,
		classifier:   deps.Classifier,
		rules:        deps.Rules.WithDefaults(),
		version:      deps.Version,
		minRelevance: deps.MinRelevance,
		logger:       deps.Logger,
		now:          deps.Now,
	}
}

// ProcessBatch classifies up to limit pending items in enqueue order.
// An empty minRelevance falls back to the configured threshold.
func (p *BatchProcessor) ProcessBatch(ctx context.Context, limit int, minRelevance domain.Relevance) (domain.BatchResult, error) {
	if limit <= 0 {
		return domain.BatchResult{}, fmt.Errorf("batch limit %d: %w", limit, apperr.ErrInvalidInput)
	}
	if minRelevance == "" {
		minRelevance = p.minRelevance
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	items, err := p.queue.FetchPending(ctx, limit)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("fetch pending: %w", err)
	}

	// items in flight finish even when ctx is cancelled
	itemCtx := context.WithoutCancel(ctx)

	var res domain.BatchResult
	for _, item := range items {
		res.Processed++
		if err := p.processItem(itemCtx, item, minRelevance, &res); err != nil {
			return res, err
		}
	}

	if res.Processed > 0 {
		p.logger.Info("batch processed",
			"processed", res.Processed,
			"scored", res.Scored,
			"filtered", res.Filtered,
			"errors", res.Errors)
	}
	return res, nil
}

func (p *BatchProcessor) processItem(ctx context.Context, item domain.QueueItem, minRelevance domain.Relevance, res *domain.BatchResult) error {
	logger := p.logger.With("external_id", item.ExternalID, "fingerprint", item.Fingerprint)

	outcome, err := p.classifier.Classify(ctx, item.Title, item.Abstract, p.rules)
	if err != nil {
		logger.Warn("classification failed", "classifier", p.classifier.ID(), "error", err)
		moved, serr := p.queue.MarkStatus(ctx, item.Key, domain.StatusError)
		if serr != nil {
			return fmt.Errorf("mark %s error: %w", item.Key, serr)
		}
		if !moved {
			logger.Info("item left pending during classification")
			return nil
		}
		res.Errors++
		return nil
	}

	result := domain.Result{
		Key:               item.Key,
		Relevance:         outcome.Relevance,
		Tags:              outcome.Tags,
		Title:             item.Title,
		Abstract:          item.Abstract,
		PublicationDate:   item.PublicationDate,
		Source:            item.Source,
		ClassifierID:      p.classifier.ID(),
		ClassifierVersion: p.version,
		ScoredAt:          p.now().UTC(),
	}
	committed, err := p.queue.CommitResult(ctx, result)
	if err != nil {
		return fmt.Errorf("commit %s: %w", item.Key, err)
	}
	if !committed {
		logger.Info("item left pending during classification")
		return nil
	}

	res.ExternalIDs = append(res.ExternalIDs, item.ExternalID)
	if outcome.Relevance.AtLeast(minRelevance) {
		res.Scored++
	} else {
		res.Filtered++
	}
	logger.Debug("item scored", "relevance", outcome.Relevance, "tags", outcome.Tags)
	return nil
}

// ProcessAll repeats ProcessBatch until a batch pulls nothing. Cancellation
// is honoured between batches only.
func (p *BatchProcessor) ProcessAll(ctx context.Context, batchSize int, minRelevance domain.Relevance) (domain.BatchResult, error) {
	var total domain.BatchResult
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := p.ProcessBatch(ctx, batchSize, minRelevance)
		total.Add(res)
		if err != nil {
			return total, err
		}
		if res.Processed == 0 {
			return total, nil
		}
	}
}

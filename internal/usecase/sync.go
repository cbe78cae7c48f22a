package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"PatentTriage/internal/apperr"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/logging"
	"PatentTriage/internal/ports"
)

// SyncDeps wires the stores and the external tracker into the sync gate.
type SyncDeps struct {
	Sync           ports.SyncRepository
	Queue          ports.QueueRepository
	Tracker        ports.Tracker
	Notifier       ports.Notifier
	PruneRemoteLow bool
	Logger         *slog.Logger
	Now            func() time.Time
}

// Syncer mirrors High and Medium results to the tracker and retires Low ones.
//
// Lookup-then-create is best effort: two concurrent runs for the same
// identifier can both miss the lookup and create twice.
type Syncer struct {
	sync           ports.SyncRepository
	queue          ports.QueueRepository
	tracker        ports.Tracker
	notifier       ports.Notifier
	pruneRemoteLow bool
	logger         *slog.Logger
	now            func() time.Time
}

// NewSyncer constructs the sync gate. A nil Tracker limits Sync to local
// retirement of Low results.
func NewSyncer(deps SyncDeps) *Syncer {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Syncer{
		sync:           deps.Sync,
		queue:          deps.Queue,
		tracker:        deps.Tracker,
		notifier:       deps.Notifier,
		pruneRemoteLow: deps.PruneRemoteLow,
		logger:         deps.Logger,
		now:            deps.Now,
	}
}

// Sync processes results for externalIDs; an empty set means every result.
// Per-identifier tracker failures are collected in the report, store
// failures abort the run. Without a tracker only the local retirement of
// Low results runs, and the report comes back with apperr.ErrNotConfigured.
func (s *Syncer) Sync(ctx context.Context, externalIDs []string) (domain.SyncReport, error) {
	report := domain.SyncReport{RunID: uuid.NewString(), Details: []domain.SyncDetail{}}
	logger := s.logger.With("run", report.RunID)

	var created []domain.Result
	if s.tracker != nil {
		var err error
		if created, err = s.mirrorAll(ctx, externalIDs, &report, logger); err != nil {
			return report, err
		}
	}

	if err := s.retireLow(ctx, externalIDs, &report, logger); err != nil {
		return report, err
	}

	if s.tracker == nil {
		logger.Info("tracker not configured, mirroring skipped", "retired", report.Retired)
		return report, fmt.Errorf("tracker: %w", apperr.ErrNotConfigured)
	}

	logger.Info("sync completed",
		"considered", report.Considered,
		"created", report.Created,
		"already_present", report.AlreadyPresent,
		"failed", report.Failed,
		"retired", report.Retired)

	s.notify(ctx, created, logger)
	return report, nil
}

func (s *Syncer) mirrorAll(ctx context.Context, externalIDs []string, report *domain.SyncReport, logger *slog.Logger) ([]domain.Result, error) {
	pending, err := s.sync.UnsyncedResults(ctx, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("select unsynced results: %w", err)
	}

	var created []domain.Result
	for _, result := range pending {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		report.Considered++

		remoteID, isNew, err := s.mirror(ctx, result)
		if err != nil {
			report.Failed++
			report.Details = append(report.Details, failure(result.ExternalID, err))
			logger.Warn("sync failed", "external_id", result.ExternalID, "error", err)
			continue
		}

		if err := s.sync.RecordSync(ctx, result.Key, remoteID, s.now().UTC()); err != nil {
			return created, err
		}
		if isNew {
			report.Created++
			created = append(created, result)
		} else {
			report.AlreadyPresent++
		}
	}
	return created, nil
}

// mirror looks the identifier up remotely and creates it when absent.
func (s *Syncer) mirror(ctx context.Context, result domain.Result) (string, bool, error) {
	existing, err := s.tracker.LookupByIdentifier(ctx, result.ExternalID)
	if err != nil {
		return "", false, fmt.Errorf("lookup: %w", err)
	}
	if existing != nil {
		return existing.RemoteID, false, nil
	}

	// tags stay empty until the tracker schema accepts arbitrary values
	remoteID, err := s.tracker.Create(ctx, domain.TrackerRecord{
		ExternalID:      result.ExternalID,
		Title:           result.Title,
		Abstract:        result.Abstract,
		Relevance:       result.Relevance,
		Tags:            []string{},
		PublicationDate: result.PublicationDate,
	})
	if err != nil {
		return "", false, fmt.Errorf("create: %w", err)
	}
	return remoteID, true, nil
}

func (s *Syncer) retireLow(ctx context.Context, externalIDs []string, report *domain.SyncReport, logger *slog.Logger) error {
	lows, err := s.sync.LowResults(ctx, externalIDs)
	if err != nil {
		return fmt.Errorf("select low results: %w", err)
	}

	for _, result := range lows {
		removed, err := s.queue.DeleteQueueItem(ctx, result.Key)
		if err != nil {
			return err
		}
		if removed {
			report.Retired++
		}

		if !s.pruneRemoteLow || s.tracker == nil {
			continue
		}
		pruned, err := s.pruneRemote(ctx, result.ExternalID)
		if err != nil {
			report.Failed++
			report.Details = append(report.Details, failure(result.ExternalID, err))
			logger.Warn("remote prune failed", "external_id", result.ExternalID, "error", err)
			continue
		}
		if pruned {
			report.RemoteDeleted++
		}
	}
	return nil
}

// pruneRemote deletes the tracker record for a Low identifier, if any.
func (s *Syncer) pruneRemote(ctx context.Context, externalID string) (bool, error) {
	existing, err := s.tracker.LookupByIdentifier(ctx, externalID)
	if err != nil {
		return false, fmt.Errorf("prune lookup: %w", err)
	}
	if existing == nil {
		return false, nil
	}
	if err := s.tracker.Delete(ctx, existing.RemoteID); err != nil {
		return false, fmt.Errorf("prune delete: %w", err)
	}
	return true, nil
}

func (s *Syncer) notify(ctx context.Context, created []domain.Result, logger *slog.Logger) {
	if s.notifier == nil || len(created) == 0 {
		return
	}
	if err := s.notifier.PublishDigest(ctx, buildDigestMessage(created)); err != nil {
		logger.Warn("digest not delivered", "error", err)
	}
}

func buildDigestMessage(results []domain.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d new patents mirrored\n\n", len(results))
	for _, r := range results {
		title := r.Title
		if title == "" {
			title = r.ExternalID
		}
		fmt.Fprintf(&b, "- %s [%s] %s\n", r.ExternalID, r.Relevance, title)
		if len(r.Tags) > 0 {
			fmt.Fprintf(&b, "  %s\n", strings.Join(r.Tags, ", "))
		}
	}
	return b.String()
}

func failure(externalID string, err error) domain.SyncDetail {
	detail := domain.SyncDetail{ExternalID: externalID, Error: err.Error()}
	var coded interface{ HTTPStatus() int }
	if errors.As(err, &coded) {
		detail.Status = coded.HTTPStatus()
	}
	return detail
}

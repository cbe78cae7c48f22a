package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"PatentTriage/internal/domain"
	"PatentTriage/internal/ports"
)

// idChunkSize bounds the identifiers bound into one IN clause, well below
// SQLite's host parameter limit.
const idChunkSize = 500

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

const (
	resultColumns = "external_id, fingerprint, relevance, tags_json, title, abstract, publication_date, source, classifier_id, classifier_version, scored_at"
	queueColumns  = "external_id, fingerprint, title, abstract, publication_date, source, status, enqueued_at"
	jobColumns    = "id, filename, status, started_at, completed_at, total_parsed, existing, queued_duplicate, enqueued, log"
)

// SQLiteStore persists results, queue items, sync bookkeeping and ingest jobs.
// The pool is capped at one connection, so every query drains its rows
// before the next statement runs.
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.Store = (*SQLiteStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ResultExists reports whether a result is stored for key.
func (s *SQLiteStore) ResultExists(ctx context.Context, key domain.Key) (bool, error) {
	return s.exists(ctx, "results", key)
}

// QueueExists reports whether a queue item exists for key, in any status.
func (s *SQLiteStore) QueueExists(ctx context.Context, key domain.Key) (bool, error) {
	return s.exists(ctx, "queue", key)
}

func (s *SQLiteStore) exists(ctx context.Context, table string, key domain.Key) (bool, error) {
	query, args, err := sq.Select("1").From(table).Where(keyEq(key)).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build %s lookup: %w", table, err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s %s: %w", table, key, err)
	}
	return true, nil
}

// GetResult loads a single result.
func (s *SQLiteStore) GetResult(ctx context.Context, key domain.Key) (domain.Result, bool, error) {
	query, args, err := sq.Select(resultColumns).From("results").Where(keyEq(key)).ToSql()
	if err != nil {
		return domain.Result{}, false, fmt.Errorf("build result query: %w", err)
	}

	result, err := scanResult(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Result{}, false, nil
	}
	if err != nil {
		return domain.Result{}, false, fmt.Errorf("get result %s: %w", key, err)
	}
	return result, true, nil
}

// ListResults pages through results, newest first, and returns the total match count.
func (s *SQLiteStore) ListResults(ctx context.Context, filter ports.ResultFilter) ([]domain.Result, int, error) {
	where := resultWhere(filter)

	total, err := s.count(ctx, "results", where)
	if err != nil {
		return nil, 0, err
	}

	builder := sq.Select(resultColumns).From("results").Where(where).
		OrderBy("scored_at DESC", "external_id ASC")
	builder = paginate(builder, filter.Limit, filter.Offset)

	results, err := s.queryResults(ctx, builder)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// EachResult streams matching results oldest first.
func (s *SQLiteStore) EachResult(ctx context.Context, filter ports.ResultFilter, fn func(domain.Result) error) error {
	query, args, err := sq.Select(resultColumns).From("results").Where(resultWhere(filter)).
		OrderBy("scored_at ASC", "external_id ASC").ToSql()
	if err != nil {
		return fmt.Errorf("build result export: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		if err := fn(result); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration: %w", err)
	}
	return nil
}

func resultWhere(filter ports.ResultFilter) sq.And {
	where := sq.And{}
	if filter.Relevance != "" {
		where = append(where, sq.Eq{"relevance": string(filter.Relevance)})
	}
	if filter.Source != "" {
		where = append(where, sq.Eq{"source": string(filter.Source)})
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		like := "%" + likeEscaper.Replace(term) + "%"
		where = append(where, sq.Or{
			sq.Expr(`external_id LIKE ? ESCAPE '\'`, like),
			sq.Expr(`title LIKE ? ESCAPE '\'`, like),
			sq.Expr(`abstract LIKE ? ESCAPE '\'`, like),
		})
	}
	return where
}

// Enqueue inserts a pending item; a key that already exists is left untouched.
func (s *SQLiteStore) Enqueue(ctx context.Context, item domain.QueueItem) (bool, error) {
	if item.Status == "" {
		item.Status = domain.StatusPending
	}
	query, args, err := sq.Insert("queue").
		Columns("external_id", "fingerprint", "title", "abstract", "publication_date", "source", "status", "enqueued_at").
		Values(item.ExternalID, item.Fingerprint, item.Title, item.Abstract, item.PublicationDate,
			string(item.Source), string(item.Status), item.EnqueuedAt.UnixNano()).
		Suffix("ON CONFLICT (external_id, fingerprint) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build enqueue: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", item.Key, err)
	}
	return affected(res)
}

// FetchPending returns up to limit pending items, oldest first.
func (s *SQLiteStore) FetchPending(ctx context.Context, limit int) ([]domain.QueueItem, error) {
	builder := sq.Select(queueColumns).From("queue").
		Where(sq.Eq{"status": string(domain.StatusPending)}).
		OrderBy("enqueued_at ASC", "seq ASC")
	builder = paginate(builder, limit, 0)
	return s.queryQueue(ctx, builder)
}

// MarkStatus applies a transition out of pending. Rows that already left
// pending are not touched.
func (s *SQLiteStore) MarkStatus(ctx context.Context, key domain.Key, to domain.Status) (bool, error) {
	if !domain.CanTransition(domain.StatusPending, to) {
		return false, fmt.Errorf("invalid queue transition to %q", to)
	}
	return s.transition(ctx, s.db, key, to)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) transition(ctx context.Context, db execer, key domain.Key, to domain.Status) (bool, error) {
	query, args, err := sq.Update("queue").
		Set("status", string(to)).
		Where(keyEq(key)).
		Where(sq.Eq{"status": string(domain.StatusPending)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build status update: %w", err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("mark %s %s: %w", key, to, err)
	}
	return affected(res)
}

// CommitResult marks the queue item scored and inserts its result in one
// transaction. Nothing is written when the item already left pending; the
// result insert keeps the first writer's row.
func (s *SQLiteStore) CommitResult(ctx context.Context, result domain.Result) (bool, error) {
	if result.ScoredAt.IsZero() {
		result.ScoredAt = time.Now().UTC()
	}

	query, args, err := sq.Insert("results").
		Columns("external_id", "fingerprint", "relevance", "tags_json", "title", "abstract",
			"publication_date", "source", "classifier_id", "classifier_version", "scored_at").
		Values(result.ExternalID, result.Fingerprint, string(result.Relevance), domain.EncodeTags(result.Tags),
			result.Title, result.Abstract, result.PublicationDate, string(result.Source),
			result.ClassifierID, result.ClassifierVersion, result.ScoredAt.UnixNano()).
		Suffix("ON CONFLICT (external_id, fingerprint) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build result insert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	moved, err := s.transition(ctx, tx, result.Key, domain.StatusScored)
	if err != nil || !moved {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("insert result %s: %w", result.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit result %s: %w", result.Key, err)
	}
	return true, nil
}

// Skip moves pending items with the given identifiers to skipped.
func (s *SQLiteStore) Skip(ctx context.Context, externalIDs []string) (int, error) {
	total := 0
	for chunk := range slices.Chunk(uniqueIDs(externalIDs), idChunkSize) {
		query, args, err := sq.Update("queue").
			Set("status", string(domain.StatusSkipped)).
			Where(sq.Eq{"external_id": chunk, "status": string(domain.StatusPending)}).
			ToSql()
		if err != nil {
			return total, fmt.Errorf("build skip: %w", err)
		}

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("skip queue items: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// ListQueue pages through queue items in enqueue order.
func (s *SQLiteStore) ListQueue(ctx context.Context, filter ports.QueueFilter) ([]domain.QueueItem, int, error) {
	where := sq.And{}
	if filter.Status != "" {
		where = append(where, sq.Eq{"status": string(filter.Status)})
	}

	total, err := s.count(ctx, "queue", where)
	if err != nil {
		return nil, 0, err
	}

	builder := sq.Select(queueColumns).From("queue").Where(where).OrderBy("enqueued_at ASC", "seq ASC")
	builder = paginate(builder, filter.Limit, filter.Offset)

	items, err := s.queryQueue(ctx, builder)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CountByStatus returns the number of queue items per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	query, args, err := sq.Select("status", "COUNT(*)").From("queue").GroupBy("status").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build status counts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	counts := map[domain.Status]int{
		domain.StatusPending: 0,
		domain.StatusScored:  0,
		domain.StatusSkipped: 0,
		domain.StatusError:   0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

// DeleteQueueItem removes the queue row for key; a missing row is not an error.
func (s *SQLiteStore) DeleteQueueItem(ctx context.Context, key domain.Key) (bool, error) {
	query, args, err := sq.Delete("queue").Where(keyEq(key)).ToSql()
	if err != nil {
		return false, fmt.Errorf("build queue delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete queue item %s: %w", key, err)
	}
	return affected(res)
}

// UnsyncedResults returns High and Medium results without a sync_log row,
// optionally restricted to externalIDs, in scoring order.
func (s *SQLiteStore) UnsyncedResults(ctx context.Context, externalIDs []string) ([]domain.Result, error) {
	return s.resultsByIDs(ctx, externalIDs, func(ids []string) sq.SelectBuilder {
		where := sq.And{
			sq.Eq{"r.relevance": []string{string(domain.RelevanceHigh), string(domain.RelevanceMedium)}},
			sq.Expr("l.external_id IS NULL"),
		}
		if len(ids) > 0 {
			where = append(where, sq.Eq{"r.external_id": ids})
		}

		return sq.Select(prefixed("r", resultColumns)).
			From("results r").
			LeftJoin("sync_log l ON l.external_id = r.external_id AND l.fingerprint = r.fingerprint").
			Where(where).
			OrderBy("r.scored_at ASC", "r.external_id ASC")
	})
}

// LowResults returns Low results, optionally restricted to externalIDs.
func (s *SQLiteStore) LowResults(ctx context.Context, externalIDs []string) ([]domain.Result, error) {
	return s.resultsByIDs(ctx, externalIDs, func(ids []string) sq.SelectBuilder {
		where := sq.And{sq.Eq{"relevance": string(domain.RelevanceLow)}}
		if len(ids) > 0 {
			where = append(where, sq.Eq{"external_id": ids})
		}
		return sq.Select(resultColumns).From("results").Where(where).OrderBy("scored_at ASC", "external_id ASC")
	})
}

// resultsByIDs runs build once per chunk of externalIDs and merges the rows
// back into scoring order. An empty set runs build(nil) unrestricted.
func (s *SQLiteStore) resultsByIDs(ctx context.Context, externalIDs []string, build func(ids []string) sq.SelectBuilder) ([]domain.Result, error) {
	if len(externalIDs) == 0 {
		return s.queryResults(ctx, build(nil))
	}

	var out []domain.Result
	for chunk := range slices.Chunk(uniqueIDs(externalIDs), idChunkSize) {
		part, err := s.queryResults(ctx, build(chunk))
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}

	slices.SortStableFunc(out, func(a, b domain.Result) int {
		if c := a.ScoredAt.Compare(b.ScoredAt); c != 0 {
			return c
		}
		return strings.Compare(a.ExternalID, b.ExternalID)
	})
	return out, nil
}

// RecordSync notes that key is mirrored remotely.
func (s *SQLiteStore) RecordSync(ctx context.Context, key domain.Key, remoteID string, at time.Time) error {
	query, args, err := sq.Insert("sync_log").
		Columns("external_id", "fingerprint", "remote_id", "synced_at").
		Values(key.ExternalID, key.Fingerprint, remoteID, at.UnixNano()).
		Suffix("ON CONFLICT (external_id, fingerprint) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build sync log insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record sync %s: %w", key, err)
	}
	return nil
}

// CreateJob stores a new ingest job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job domain.IngestJob) error {
	query, args, err := sq.Insert("ingest_jobs").
		Columns("id", "filename", "status", "started_at", "log").
		Values(job.ID, job.Filename, string(job.Status), job.StartedAt.UnixNano(), job.Log).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// FinishJob writes the final status, counters and log of a job.
func (s *SQLiteStore) FinishJob(ctx context.Context, job domain.IngestJob) error {
	var completedAt any
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.UnixNano()
	}

	query, args, err := sq.Update("ingest_jobs").
		SetMap(map[string]any{
			"status":           string(job.Status),
			"completed_at":     completedAt,
			"total_parsed":     job.TotalParsed,
			"existing":         job.Existing,
			"queued_duplicate": job.QueuedDuplicate,
			"enqueued":         job.Enqueued,
			"log":              job.Log,
		}).
		Where(sq.Eq{"id": job.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads an ingest job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (domain.IngestJob, bool, error) {
	query, args, err := sq.Select(jobColumns).From("ingest_jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.IngestJob{}, false, fmt.Errorf("build job query: %w", err)
	}

	var (
		job         domain.IngestJob
		status      string
		startedAt   int64
		completedAt sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&job.ID, &job.Filename, &status, &startedAt,
		&completedAt, &job.TotalParsed, &job.Existing, &job.QueuedDuplicate, &job.Enqueued, &job.Log)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IngestJob{}, false, nil
	}
	if err != nil {
		return domain.IngestJob{}, false, fmt.Errorf("get job %s: %w", id, err)
	}

	job.Status = domain.JobStatus(status)
	job.StartedAt = time.Unix(0, startedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		job.CompletedAt = &t
	}
	return job, true, nil
}

func (s *SQLiteStore) count(ctx context.Context, table string, where sq.And) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From(table).Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s count: %w", table, err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteStore) queryResults(ctx context.Context, builder sq.SelectBuilder) ([]domain.Result, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build result query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []domain.Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

func (s *SQLiteStore) queryQueue(ctx context.Context, builder sq.SelectBuilder) ([]domain.QueueItem, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build queue query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		var (
			item       domain.QueueItem
			source     string
			status     string
			enqueuedAt int64
		)
		if err := rows.Scan(&item.ExternalID, &item.Fingerprint, &item.Title, &item.Abstract,
			&item.PublicationDate, &source, &status, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item.Source = domain.Source(source)
		item.Status = domain.Status(status)
		item.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (domain.Result, error) {
	var (
		result    domain.Result
		relevance string
		tagsJSON  string
		source    string
		scoredAt  int64
	)
	if err := row.Scan(&result.ExternalID, &result.Fingerprint, &relevance, &tagsJSON, &result.Title,
		&result.Abstract, &result.PublicationDate, &source, &result.ClassifierID,
		&result.ClassifierVersion, &scoredAt); err != nil {
		return domain.Result{}, err
	}
	result.Relevance = domain.Relevance(relevance)
	result.Tags = domain.ParseTags(tagsJSON)
	result.Source = domain.Source(source)
	result.ScoredAt = time.Unix(0, scoredAt).UTC()
	return result, nil
}

func uniqueIDs(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func keyEq(key domain.Key) sq.Eq {
	return sq.Eq{"external_id": key.ExternalID, "fingerprint": key.Fingerprint}
}

func paginate(builder sq.SelectBuilder, limit, offset int) sq.SelectBuilder {
	if limit <= 0 {
		return builder
	}
	builder = builder.Limit(uint64(limit))
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}
	return builder
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, col := range parts {
		parts[i] = alias + "." + col
	}
	return strings.Join(parts, ", ")
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	external_id        TEXT    NOT NULL,
	fingerprint        TEXT    NOT NULL,
	relevance          TEXT    NOT NULL,
	tags_json          TEXT    NOT NULL DEFAULT '[]',
	title              TEXT    NOT NULL DEFAULT '',
	abstract           TEXT    NOT NULL DEFAULT '',
	publication_date   TEXT    NOT NULL DEFAULT '',
	source             TEXT    NOT NULL DEFAULT 'UNKNOWN',
	classifier_id      TEXT    NOT NULL,
	classifier_version TEXT    NOT NULL,
	scored_at          INTEGER NOT NULL,
	PRIMARY KEY (external_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_results_relevance ON results(relevance);
CREATE INDEX IF NOT EXISTS idx_results_publication_date ON results(publication_date);
CREATE INDEX IF NOT EXISTS idx_results_scored_at ON results(scored_at);

CREATE TABLE IF NOT EXISTS queue (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id      TEXT    NOT NULL,
	fingerprint      TEXT    NOT NULL,
	title            TEXT    NOT NULL DEFAULT '',
	abstract         TEXT    NOT NULL DEFAULT '',
	publication_date TEXT    NOT NULL DEFAULT '',
	source           TEXT    NOT NULL DEFAULT 'UNKNOWN',
	status           TEXT    NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'scored', 'skipped', 'error')),
	enqueued_at      INTEGER NOT NULL,
	UNIQUE (external_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_queue_status ON queue(status);
CREATE INDEX IF NOT EXISTS idx_queue_enqueued_at ON queue(enqueued_at);

CREATE TABLE IF NOT EXISTS sync_log (
	external_id TEXT    NOT NULL,
	fingerprint TEXT    NOT NULL,
	remote_id   TEXT    NOT NULL DEFAULT '',
	synced_at   INTEGER NOT NULL,
	PRIMARY KEY (external_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS ingest_jobs (
	id               TEXT PRIMARY KEY,
	filename         TEXT    NOT NULL,
	status           TEXT    NOT NULL,
	started_at       INTEGER NOT NULL,
	completed_at     INTEGER,
	total_parsed     INTEGER NOT NULL DEFAULT 0,
	existing         INTEGER NOT NULL DEFAULT 0,
	queued_duplicate INTEGER NOT NULL DEFAULT 0,
	enqueued         INTEGER NOT NULL DEFAULT 0,
	log              TEXT    NOT NULL DEFAULT ''
);
`

// initSchema creates tables if they don't exist.
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

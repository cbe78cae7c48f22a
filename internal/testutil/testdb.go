package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"PatentTriage/internal/domain"
	"PatentTriage/internal/fingerprint"
	"PatentTriage/internal/infrastructure/storage"
)

// OpenTestStore creates a SQLite store in a temp dir and closes it on cleanup.
func OpenTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "patents.db")
	store, err := storage.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Doc builds a valid document with a default abstract.
func Doc(id, title, abstract string) domain.Document {
	if abstract == "" {
		abstract = "Abstract text for " + id
	}
	return domain.Document{
		ExternalID: id,
		Title:      title,
		Abstract:   abstract,
		Source:     domain.SourceCSV,
	}
}

// MustEnqueue enqueues doc as pending under version and returns its key.
func MustEnqueue(t *testing.T, store *storage.SQLiteStore, doc domain.Document, version string, at time.Time) domain.Key {
	t.Helper()

	fp := fingerprint.Compute(doc.ExternalID, doc.Abstract, version)
	inserted, err := store.Enqueue(context.Background(), domain.NewQueueItem(doc, fp, at))
	if err != nil {
		t.Fatalf("enqueue %s: %v", doc.ExternalID, err)
	}
	if !inserted {
		t.Fatalf("enqueue %s: key already present", doc.ExternalID)
	}
	return domain.Key{ExternalID: doc.ExternalID, Fingerprint: fp}
}

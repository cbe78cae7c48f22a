package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatentTriage/internal/domain"
	"PatentTriage/internal/ports"
	"PatentTriage/internal/testutil"
)

var base = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func result(key domain.Key, rel domain.Relevance, tags ...string) domain.Result {
	return domain.Result{
		Key:               key,
		Relevance:         rel,
		Tags:              tags,
		Title:             "Title " + key.ExternalID,
		Abstract:          "Abstract text for " + key.ExternalID,
		Source:            domain.SourceCSV,
		ClassifierID:      "keyword-scorer",
		ClassifierVersion: "v1",
		ScoredAt:          base,
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()
	doc := testutil.Doc("US-1", "Radar", "")
	key := testutil.MustEnqueue(t, store, doc, "v1", base)

	inserted, err := store.Enqueue(ctx, domain.NewQueueItem(doc, key.Fingerprint, base.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, inserted)

	exists, err := store.QueueExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	items, total, err := store.ListQueue(ctx, ports.QueueFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, base, items[0].EnqueuedAt)
}

func TestFetchPendingOrdersByEnqueueTime(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()
	testutil.MustEnqueue(t, store, testutil.Doc("late", "", ""), "v1", base.Add(2*time.Minute))
	testutil.MustEnqueue(t, store, testutil.Doc("early", "", ""), "v1", base)
	testutil.MustEnqueue(t, store, testutil.Doc("tie", "", ""), "v1", base)

	items, err := store.FetchPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "early", items[0].ExternalID)
	assert.Equal(t, "tie", items[1].ExternalID)
}

func TestMarkStatusOnlyLeavesPending(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()
	key := testutil.MustEnqueue(t, store, testutil.Doc("US-2", "", ""), "v1", base)

	moved, err := store.MarkStatus(ctx, key, domain.StatusError)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = store.MarkStatus(ctx, key, domain.StatusScored)
	require.NoError(t, err)
	assert.False(t, moved, "terminal rows never move")

	_, err = store.MarkStatus(ctx, key, domain.StatusPending)
	assert.Error(t, err)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusError])
	assert.Equal(t, 0, counts[domain.StatusPending])
}

func TestCommitResult(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()
	key := testutil.MustEnqueue(t, store, testutil.Doc("US-3", "", ""), "v1", base)

	committed, err := store.CommitResult(ctx, result(key, domain.RelevanceHigh, "Detection", "Power"))
	require.NoError(t, err)
	assert.True(t, committed)

	committed, err = store.CommitResult(ctx, result(key, domain.RelevanceLow))
	require.NoError(t, err)
	assert.False(t, committed, "a scored item is not committed twice")

	got, ok, err := store.GetResult(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RelevanceHigh, got.Relevance)
	assert.Equal(t, []string{"Detection", "Power"}, got.Tags)
	assert.Equal(t, base, got.ScoredAt)

	exists, err := store.ResultExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	items, _, err := store.ListQueue(ctx, ports.QueueFilter{Status: domain.StatusScored})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCommitResultSkipsItemsThatLeftPending(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()
	key := testutil.MustEnqueue(t, store, testutil.Doc("US-4", "", ""), "v1", base)

	n, err := store.Skip(ctx, []string{"US-4", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	committed, err := store.CommitResult(ctx, result(key, domain.RelevanceMedium))
	require.NoError(t, err)
	assert.False(t, committed)

	_, ok, err := store.GetResult(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListResultsFilters(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"A", "B", "C"} {
		key := testutil.MustEnqueue(t, store, testutil.Doc(id, "", ""), "v1", base)
		r := result(key, domain.RelevanceMedium)
		if id == "B" {
			r.Relevance = domain.RelevanceHigh
			r.Title = "Robotic gripper"
		}
		r.ScoredAt = base.Add(time.Duration(i) * time.Minute)
		_, err := store.CommitResult(ctx, r)
		require.NoError(t, err)
	}

	all, total, err := store.ListResults(ctx, ports.ResultFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 2)
	assert.Equal(t, "C", all[0].ExternalID, "newest first")

	page2, _, err := store.ListResults(ctx, ports.ResultFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "A", page2[0].ExternalID)

	high, total, err := store.ListResults(ctx, ports.ResultFilter{Relevance: domain.RelevanceHigh})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "B", high[0].ExternalID)

	found, _, err := store.ListResults(ctx, ports.ResultFilter{Search: "GRIPPER"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "B", found[0].ExternalID)
}

func TestSyncBookkeeping(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()
	high := testutil.MustEnqueue(t, store, testutil.Doc("H", "", ""), "v1", base)
	low := testutil.MustEnqueue(t, store, testutil.Doc("L", "", ""), "v1", base)
	_, err := store.CommitResult(ctx, result(high, domain.RelevanceHigh))
	require.NoError(t, err)
	_, err = store.CommitResult(ctx, result(low, domain.RelevanceLow))
	require.NoError(t, err)

	unsynced, err := store.UnsyncedResults(ctx, nil)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, "H", unsynced[0].ExternalID)

	restricted, err := store.UnsyncedResults(ctx, []string{"L"})
	require.NoError(t, err)
	assert.Empty(t, restricted)

	require.NoError(t, store.RecordSync(ctx, high, "rec123", base))
	require.NoError(t, store.RecordSync(ctx, high, "rec123", base))

	unsynced, err = store.UnsyncedResults(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	lows, err := store.LowResults(ctx, []string{"L", "H"})
	require.NoError(t, err)
	require.Len(t, lows, 1)

	deleted, err := store.DeleteQueueItem(ctx, lows[0].Key)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteQueueItem(ctx, lows[0].Key)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListResultsSearchIsLiteral(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()
	titles := map[string]string{
		"P1": "Filter with 100% coverage",
		"P2": "Filter with 1000 coverage",
		"P3": "Plate a_b joint",
		"P4": "Plate axb joint",
	}
	for id, title := range titles {
		key := testutil.MustEnqueue(t, store, testutil.Doc(id, title, ""), "v1", base)
		r := result(key, domain.RelevanceMedium)
		r.Title = title
		_, err := store.CommitResult(ctx, r)
		require.NoError(t, err)
	}

	found, total, err := store.ListResults(ctx, ports.ResultFilter{Search: "100%"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, found, 1)
	assert.Equal(t, "P1", found[0].ExternalID)

	found, _, err = store.ListResults(ctx, ports.ResultFilter{Search: "a_b"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "P3", found[0].ExternalID)

	found, _, err = store.ListResults(ctx, ports.ResultFilter{Search: `\`})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSyncQueriesAcceptLargeIdentifierSets(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()

	ids := make([]string, 0, 40000)
	for i := range 40000 {
		ids = append(ids, fmt.Sprintf("US-%05d", i))
	}
	ids = append(ids, "US-00007")

	stored := map[string]domain.Relevance{
		"US-39999": domain.RelevanceHigh,
		"US-00007": domain.RelevanceMedium,
		"US-20000": domain.RelevanceLow,
	}
	order := []string{"US-39999", "US-00007", "US-20000"}
	for i, id := range order {
		key := testutil.MustEnqueue(t, store, testutil.Doc(id, "", ""), "v1", base)
		r := result(key, stored[id])
		r.ScoredAt = base.Add(time.Duration(i) * time.Minute)
		_, err := store.CommitResult(ctx, r)
		require.NoError(t, err)
	}
	testutil.MustEnqueue(t, store, testutil.Doc("US-30000", "", ""), "v1", base)

	unsynced, err := store.UnsyncedResults(ctx, ids)
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	assert.Equal(t, "US-39999", unsynced[0].ExternalID, "scoring order survives chunking")
	assert.Equal(t, "US-00007", unsynced[1].ExternalID)

	lows, err := store.LowResults(ctx, ids)
	require.NoError(t, err)
	require.Len(t, lows, 1)
	assert.Equal(t, "US-20000", lows[0].ExternalID)

	n, err := store.Skip(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestJobs(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	ctx := context.Background()

	job := domain.IngestJob{ID: "01HZX", Filename: "ipg.zip", Status: domain.JobRunning, StartedAt: base}
	require.NoError(t, store.CreateJob(ctx, job))

	got, ok, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	done := base.Add(time.Minute)
	job.Status = domain.JobCompleted
	job.CompletedAt = &done
	job.TotalParsed, job.Existing, job.QueuedDuplicate, job.Enqueued = 5, 1, 1, 3
	job.Log = "Parsed 5"
	require.NoError(t, store.FinishJob(ctx, job))

	got, _, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, got)

	_, ok, err = store.GetJob(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

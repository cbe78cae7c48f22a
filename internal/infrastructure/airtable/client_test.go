package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatentTriage/internal/apperr"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/ports"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "key", BaseID: "app1", TableName: "Patents", RatePerSecond: 1000})
}

func TestLookupByIdentifier(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app1/Patents", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "1", r.URL.Query().Get("maxRecords"))

		if r.URL.Query().Get("filterByFormula") == `{Patent ID}='US1B2'` {
			_, _ = w.Write([]byte(`{"records":[{"id":"rec1","fields":{"Patent ID":"US1B2","Relevance":"High","Subsystem":["Detection"]}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"records":[]}`))
	})

	rec, err := client.LookupByIdentifier(context.Background(), "US1B2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "rec1", rec.RemoteID)
	assert.Equal(t, domain.RelevanceHigh, rec.Relevance)
	assert.Equal(t, []string{"Detection"}, rec.Tags)

	rec, err = client.LookupByIdentifier(context.Background(), "US404")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCreateSendsEmptySubsystem(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body struct {
			Fields map[string]any `json:"fields"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "US2A1", body.Fields["Patent ID"])
		assert.Equal(t, "Medium", body.Fields["Relevance"])
		assert.Equal(t, []any{}, body.Fields["Subsystem"])
		assert.NotContains(t, body.Fields, "Title")

		_, _ = w.Write([]byte(`{"id":"recNew","fields":{}}`))
	})

	id, err := client.Create(context.Background(), domain.TrackerRecord{
		ExternalID: "US2A1",
		Abstract:   "Tracked chassis",
		Relevance:  domain.RelevanceMedium,
		Tags:       []string{"Mobility"},
	})
	require.NoError(t, err)
	assert.Equal(t, "recNew", id)
}

func TestStatusErrors(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"type":"INVALID_MULTIPLE_CHOICE_OPTIONS"}}`))
	})

	err := client.Delete(context.Background(), "rec1")
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.HTTPStatus())
	assert.True(t, errors.Is(err, apperr.ErrUpstream))
}

func TestUnconfiguredClient(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{})
	assert.False(t, client.Configured())

	_, err := client.LookupByIdentifier(context.Background(), "x")
	assert.ErrorIs(t, err, apperr.ErrNotConfigured)
}

func TestLookupEscapesFormulaLiteral(t *testing.T) {
	t.Parallel()

	formulas := make(chan string, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		formulas <- r.URL.Query().Get("filterByFormula")
		_, _ = w.Write([]byte(`{"records":[]}`))
	})

	_, err := client.LookupByIdentifier(context.Background(), `US'7\`)
	require.NoError(t, err)
	assert.Equal(t, `{Patent ID}='US\'7\\'`, <-formulas)
}

func TestListRecordsWalksPages(t *testing.T) {
	t.Parallel()

	queries := make(chan url.Values, 4)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		queries <- q
		switch q.Get("offset") {
		case "":
			_, _ = w.Write([]byte(`{"records":[{"id":"rec1","fields":{"Patent ID":"A"}},{"id":"rec2","fields":{"Patent ID":"B"}}],"offset":"page2"}`))
		case "page2":
			_, _ = w.Write([]byte(`{"records":[{"id":"rec3","fields":{"Patent ID":"C","Subsystem":["Power"]}}]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	recs, total, err := client.ListRecords(context.Background(), ports.TrackerFilter{
		Search:    "Arm",
		Relevance: domain.RelevanceHigh,
		Tag:       "Power",
		Limit:     2,
		Offset:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, recs, 2)
	assert.Equal(t, "B", recs[0].ExternalID)
	assert.Equal(t, "C", recs[1].ExternalID)
	assert.Equal(t, []string{"Power"}, recs[1].Tags)

	require.Len(t, queries, 2)
	first := <-queries
	assert.Equal(t, "100", first.Get("pageSize"))
	assert.Equal(t, "Patent ID", first.Get("sort[0][field]"))
	assert.Equal(t,
		`AND(OR(SEARCH('arm', LOWER({Title})), SEARCH('arm', LOWER({Abstract}))), {Relevance}='High', FIND('Power', ARRAYJOIN({Subsystem})))`,
		first.Get("filterByFormula"))
	assert.Equal(t, "page2", (<-queries).Get("offset"))
}

func TestGetAndUpdateRecord(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/app1/Patents/rec1":
			_, _ = w.Write([]byte(`{"id":"rec1","fields":{"Patent ID":"US1","Relevance":"Medium"}}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/app1/Patents/rec1":
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "High", body.Fields["Relevance"])
			assert.Equal(t, []any{"Mobility"}, body.Fields["Subsystem"])
			_, _ = w.Write([]byte(`{"id":"rec1","fields":{"Patent ID":"US1","Relevance":"High","Subsystem":["Mobility"]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"NOT_FOUND"}`))
		}
	})
	ctx := context.Background()

	rec, err := client.GetRecord(ctx, "rec1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RelevanceMedium, rec.Relevance)

	missing, err := client.GetRecord(ctx, "recGone")
	require.NoError(t, err)
	assert.Nil(t, missing)

	updated, err := client.UpdateRecord(ctx, "rec1", domain.TrackerUpdate{Relevance: domain.RelevanceHigh, Tags: []string{"Mobility"}})
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceHigh, updated.Relevance)
	assert.Equal(t, []string{"Mobility"}, updated.Tags)

	_, err = client.UpdateRecord(ctx, "recGone", domain.TrackerUpdate{Relevance: domain.RelevanceLow})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
}

package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"PatentTriage/internal/apperr"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/ports"
)

const (
	DefaultBaseURL = "https://api.airtable.com/v0"

	fieldPatentID  = "Patent ID"
	fieldTitle     = "Title"
	fieldAbstract  = "Abstract"
	fieldRelevance = "Relevance"
	fieldSubsystem = "Subsystem"
	fieldPubDate   = "Publication Date"

	// Airtable caps pageSize at 100.
	listPageSize       = 100
	defaultRecordLimit = 25
)

// formulaEscaper quotes a value for a single-quoted formula string literal.
var formulaEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// Config holds the credentials and table coordinates of the tracker.
type Config struct {
	BaseURL       string
	APIKey        string
	BaseID        string
	TableName     string
	RatePerSecond float64
}

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("airtable status %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return apperr.ErrUpstream }

// HTTPStatus exposes the remote status to callers that only see error values.
func (e *StatusError) HTTPStatus() int { return e.Status }

// Client implements ports.Tracker against the Airtable REST API.
type Client struct {
	baseURL string
	apiKey  string
	baseID  string
	table   string
	limiter *rate.Limiter
	http    *http.Client
}

var (
	_ ports.Tracker        = (*Client)(nil)
	_ ports.TrackerRecords = (*Client)(nil)
)

// NewClient builds a rate-limited client. Airtable allows five requests per
// second per base.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		baseID:  cfg.BaseID,
		table:   cfg.TableName,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether credentials and table coordinates are set.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != "" && c.baseID != "" && c.table != ""
}

type record struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

// LookupByIdentifier finds the record whose Patent ID equals externalID.
func (c *Client) LookupByIdentifier(ctx context.Context, externalID string) (*domain.TrackerRecord, error) {
	formula := fmt.Sprintf("{%s}=%s", fieldPatentID, formulaString(externalID))
	query := url.Values{}
	query.Set("maxRecords", "1")
	query.Set("filterByFormula", formula)

	var resp struct {
		Records []record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, c.tableURL()+"?"+query.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", externalID, err)
	}
	if len(resp.Records) == 0 {
		return nil, nil
	}

	rec := toTrackerRecord(resp.Records[0])
	return &rec, nil
}

// Create inserts a record and returns its remote id. Tags are sent as an
// empty Subsystem list until the remote schema accepts arbitrary values.
func (c *Client) Create(ctx context.Context, rec domain.TrackerRecord) (string, error) {
	fields := map[string]any{
		fieldPatentID:  rec.ExternalID,
		fieldAbstract:  rec.Abstract,
		fieldRelevance: string(rec.Relevance),
		fieldSubsystem: []string{},
		fieldPubDate:   rec.PublicationDate,
	}
	if rec.Title != "" {
		fields[fieldTitle] = rec.Title
	}

	var created record
	if err := c.do(ctx, http.MethodPost, c.tableURL(), record{Fields: fields}, &created); err != nil {
		return "", fmt.Errorf("create %s: %w", rec.ExternalID, err)
	}
	return created.ID, nil
}

// Delete removes a record by remote id.
func (c *Client) Delete(ctx context.Context, remoteID string) error {
	if err := c.do(ctx, http.MethodDelete, c.recordURL(remoteID), nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", remoteID, err)
	}
	return nil
}

// ListRecords walks every page matching filter, sorted by Patent ID, and
// keeps only the requested window. The total is the full match count.
func (c *Client) ListRecords(ctx context.Context, filter ports.TrackerFilter) ([]domain.TrackerRecord, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	offset := max(filter.Offset, 0)

	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(listPageSize))
	query.Set("sort[0][field]", fieldPatentID)
	query.Set("sort[0][direction]", "asc")
	if formula := recordsFormula(filter); formula != "" {
		query.Set("filterByFormula", formula)
	}

	window := make([]domain.TrackerRecord, 0, limit)
	total := 0
	for {
		var page struct {
			Records []record `json:"records"`
			Offset  string   `json:"offset"`
		}
		if err := c.do(ctx, http.MethodGet, c.tableURL()+"?"+query.Encode(), nil, &page); err != nil {
			return nil, 0, fmt.Errorf("list records: %w", err)
		}

		for _, r := range page.Records {
			if total >= offset && len(window) < limit {
				window = append(window, toTrackerRecord(r))
			}
			total++
		}

		if page.Offset == "" {
			return window, total, nil
		}
		query.Set("offset", page.Offset)
	}
}

// GetRecord fetches one record by remote id; a 404 yields nil.
func (c *Client) GetRecord(ctx context.Context, remoteID string) (*domain.TrackerRecord, error) {
	var r record
	if err := c.do(ctx, http.MethodGet, c.recordURL(remoteID), nil, &r); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get record %s: %w", remoteID, err)
	}
	rec := toTrackerRecord(r)
	return &rec, nil
}

// UpdateRecord patches relevance and Subsystem on an existing record.
func (c *Client) UpdateRecord(ctx context.Context, remoteID string, update domain.TrackerUpdate) (domain.TrackerRecord, error) {
	tags := update.Tags
	if tags == nil {
		tags = []string{}
	}
	fields := map[string]any{
		fieldRelevance: string(update.Relevance),
		fieldSubsystem: tags,
	}

	var updated record
	if err := c.do(ctx, http.MethodPatch, c.recordURL(remoteID), record{Fields: fields}, &updated); err != nil {
		return domain.TrackerRecord{}, fmt.Errorf("update record %s: %w", remoteID, err)
	}
	return toTrackerRecord(updated), nil
}

func recordsFormula(filter ports.TrackerFilter) string {
	var parts []string
	if q := strings.TrimSpace(filter.Search); q != "" {
		lit := formulaString(strings.ToLower(q))
		parts = append(parts, fmt.Sprintf("OR(SEARCH(%s, LOWER({%s})), SEARCH(%s, LOWER({%s})))",
			lit, fieldTitle, lit, fieldAbstract))
	}
	if filter.Relevance != "" {
		parts = append(parts, fmt.Sprintf("{%s}=%s", fieldRelevance, formulaString(string(filter.Relevance))))
	}
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		parts = append(parts, fmt.Sprintf("FIND(%s, ARRAYJOIN({%s}))", formulaString(tag), fieldSubsystem))
	}

	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return "AND(" + strings.Join(parts, ", ") + ")"
	}
}

func formulaString(value string) string {
	return "'" + formulaEscaper.Replace(value) + "'"
}

func (c *Client) recordURL(remoteID string) string {
	return c.tableURL() + "/" + url.PathEscape(remoteID)
}

func (c *Client) tableURL() string {
	return c.baseURL + "/" + url.PathEscape(c.baseID) + "/" + url.PathEscape(c.table)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, v any) error {
	if !c.Configured() {
		return fmt.Errorf("airtable: %w", apperr.ErrNotConfigured)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toTrackerRecord(r record) domain.TrackerRecord {
	rec := domain.TrackerRecord{
		RemoteID:        r.ID,
		ExternalID:      stringField(r.Fields, fieldPatentID),
		Title:           stringField(r.Fields, fieldTitle),
		Abstract:        stringField(r.Fields, fieldAbstract),
		PublicationDate: stringField(r.Fields, fieldPubDate),
	}
	if rel, err := domain.ParseRelevance(stringField(r.Fields, fieldRelevance)); err == nil {
		rec.Relevance = rel
	}
	if list, ok := r.Fields[fieldSubsystem].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				rec.Tags = append(rec.Tags, s)
			}
		}
	}
	return rec
}

func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}

package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"PatentTriage/internal/apperr"
	"PatentTriage/internal/classify"
	"PatentTriage/internal/domain"
)

// Client talks to an external inference service that classifies patents.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ classify.Classifier = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) ID() string { return "remote:" + c.endpoint }

type classifyRequest struct {
	Title    string             `json:"title"`
	Abstract string             `json:"abstract"`
	Rules    []classify.TagRule `json:"rules"`
}

type classifyResponse struct {
	Relevance string   `json:"relevance"`
	Tags      []string `json:"tags"`
}

// Classify sends the document and the active tag rules to /classify.
func (c *Client) Classify(ctx context.Context, title, abstract string, rules classify.TagRules) (classify.Outcome, error) {
	payload := classifyRequest{
		Title:    title,
		Abstract: abstract,
		Rules:    rules.WithDefaults().Rules,
	}

	var resp classifyResponse
	if err := c.post(ctx, "/classify", payload, &resp); err != nil {
		return classify.Outcome{}, classify.Failure(c.ID(), err)
	}

	rel, err := domain.ParseRelevance(resp.Relevance)
	if err != nil {
		return classify.Outcome{}, classify.Failure(c.ID(), err)
	}
	tags := resp.Tags
	if tags == nil || rel == domain.RelevanceLow {
		tags = []string{}
	}
	return classify.Outcome{Relevance: rel, Tags: tags}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	if c.endpoint == "" {
		return fmt.Errorf("inference endpoint: %w", apperr.ErrNotConfigured)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s: %w", resp.Status, apperr.ErrUpstream)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}

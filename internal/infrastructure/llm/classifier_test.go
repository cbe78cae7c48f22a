package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatentTriage/internal/classify"
	"PatentTriage/internal/config"
	"PatentTriage/internal/domain"
)

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	out, err := ParseVerdict("```json\n{\"Relevance\": \"High\", \"Subsystem\": [\"Detection\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceHigh, out.Relevance)
	assert.Equal(t, []string{"Detection"}, out.Tags)

	out, err = ParseVerdict(`{"Relevance": "Low", "Subsystem": ["Power"]}`)
	require.NoError(t, err)
	assert.Empty(t, out.Tags, "low verdicts carry no tags")

	for _, bad := range []string{
		`not json`,
		`{"Subsystem": []}`,
		`{"Relevance": "Critical", "Subsystem": []}`,
		`{"Relevance": "high", "Subsystem": []}`,
		`{"Relevance": "High", "Subsystem": "Detection"}`,
		`{"Relevance": "High", "Subsystem": null}`,
		`{"Relevance": "High"}`,
	} {
		_, err := ParseVerdict(bad)
		assert.Error(t, err, bad)
	}
}

func newChatServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}

		var req struct {
			Model    string        `json:"model"`
			Messages []chatMessage `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[0].Content, `"Manipulation"`) {
			t.Errorf("system prompt should list tags: %+v", req.Messages)
		}

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatClassifier(t *testing.T) {
	t.Parallel()

	srv := newChatServer(t, `{"Relevance": "Medium", "Subsystem": ["Manipulation"]}`, http.StatusOK)
	client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: srv.URL, Model: "gpt-test", APIKey: "secret"})
	c := NewChatClassifier(client, client.Model(), "")

	assert.Equal(t, "chat:gpt-test", c.ID())

	out, err := c.Classify(context.Background(), "Robotic Arm", "gripper", classify.DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceMedium, out.Relevance)
	assert.Equal(t, []string{"Manipulation"}, out.Tags)
}

func TestChatClassifierFailures(t *testing.T) {
	t.Parallel()

	malformed := newChatServer(t, "I think it is relevant.", http.StatusOK)
	client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: malformed.URL, Model: "m", APIKey: "secret"})
	_, err := NewChatClassifier(client, "m", "").Classify(context.Background(), "t", "a", classify.DefaultRules())
	assert.ErrorIs(t, err, classify.ErrFailure)

	failing := newChatServer(t, "", http.StatusTooManyRequests)
	client = NewChatGPTClient(config.ChatGPTConfig{Endpoint: failing.URL, Model: "m", APIKey: "secret"})
	_, err = NewChatClassifier(client, "m", "").Classify(context.Background(), "t", "a", classify.DefaultRules())
	assert.ErrorIs(t, err, classify.ErrFailure)

	unconfigured := NewChatGPTClient(config.ChatGPTConfig{})
	_, err = unconfigured.Complete(context.Background(), "s", "u")
	assert.Error(t, err)
}

type capturingChat struct {
	system string
}

func (c *capturingChat) Complete(_ context.Context, system, _ string) (string, error) {
	c.system = system
	return `{"Relevance": "Low", "Subsystem": []}`, nil
}

func TestCustomPromptKeepsLiteralPercent(t *testing.T) {
	t.Parallel()

	chat := &capturingChat{}
	prompt := "Rank 100% of inputs. Tags: {{tags}}. Ignore %d and %s markers."
	rules := classify.TagRules{Rules: []classify.TagRule{{Tag: "Power", Patterns: []string{"battery"}}}}

	_, err := NewChatClassifier(chat, "m", prompt).Classify(context.Background(), "t", "a", rules)
	require.NoError(t, err)
	assert.Equal(t, `Rank 100% of inputs. Tags: "Power". Ignore %d and %s markers.`, chat.system)

	_, err = NewChatClassifier(chat, "m", "No tag list here, 50% off.").Classify(context.Background(), "t", "a", rules)
	require.NoError(t, err)
	assert.Equal(t, "No tag list here, 50% off.", chat.system)
}

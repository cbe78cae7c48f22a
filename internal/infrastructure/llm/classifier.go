package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"PatentTriage/internal/classify"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/ports"
)

// TagsPlaceholder in a system prompt is replaced with the quoted tag list.
const TagsPlaceholder = "{{tags}}"

const defaultSystemPrompt = `You evaluate patents for an autonomous demining robot project.
Return JSON only:
{"Relevance": "High" | "Medium" | "Low", "Subsystem": [{{tags}}]}
Rules:
- If Relevance = Low, Subsystem = [].
- If Relevance = Medium or High, include all relevant subsystems from the list.`

// ChatClassifier scores documents with a chat model.
type ChatClassifier struct {
	client ports.ChatClient
	model  string
	prompt string
}

var _ classify.Classifier = (*ChatClassifier)(nil)

// NewChatClassifier wraps a chat client. An empty prompt selects the default;
// every TagsPlaceholder in a custom prompt becomes the quoted tag list.
func NewChatClassifier(client ports.ChatClient, model, prompt string) *ChatClassifier {
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultSystemPrompt
	}
	return &ChatClassifier{client: client, model: model, prompt: prompt}
}

func (c *ChatClassifier) ID() string { return "chat:" + c.model }

// Classify asks the model for a verdict and validates the structured reply.
func (c *ChatClassifier) Classify(ctx context.Context, title, abstract string, rules classify.TagRules) (classify.Outcome, error) {
	system := strings.ReplaceAll(c.prompt, TagsPlaceholder, quoteList(rules.WithDefaults().TagNames()))
	user := fmt.Sprintf("Title: %s\nAbstract: %s", title, abstract)

	reply, err := c.client.Complete(ctx, system, user)
	if err != nil {
		return classify.Outcome{}, classify.Failure(c.ID(), err)
	}

	out, err := ParseVerdict(reply)
	if err != nil {
		return classify.Outcome{}, classify.Failure(c.ID(), err)
	}
	return out, nil
}

// ParseVerdict decodes {"Relevance": ..., "Subsystem": [...]} from a model
// reply, tolerating a Markdown code fence around it. Low forces empty tags.
func ParseVerdict(reply string) (classify.Outcome, error) {
	var raw struct {
		Relevance *string         `json:"Relevance"`
		Subsystem json.RawMessage `json:"Subsystem"`
	}
	if err := json.Unmarshal([]byte(unfence(reply)), &raw); err != nil {
		return classify.Outcome{}, fmt.Errorf("malformed verdict: %w", err)
	}
	if raw.Relevance == nil {
		return classify.Outcome{}, fmt.Errorf("malformed verdict: missing Relevance")
	}

	var rel domain.Relevance
	switch *raw.Relevance {
	case "High", "Medium", "Low":
		rel = domain.Relevance(*raw.Relevance)
	default:
		return classify.Outcome{}, fmt.Errorf("malformed verdict: relevance %q", *raw.Relevance)
	}

	var tags []string
	if len(raw.Subsystem) == 0 || json.Unmarshal(raw.Subsystem, &tags) != nil || tags == nil {
		return classify.Outcome{}, fmt.Errorf("malformed verdict: Subsystem must be a list of strings")
	}
	if rel == domain.RelevanceLow {
		tags = []string{}
	}
	return classify.Outcome{Relevance: rel, Tags: tags}, nil
}

func unfence(reply string) string {
	reply = strings.TrimSpace(reply)
	if !strings.HasPrefix(reply, "```") {
		return reply
	}
	reply = strings.TrimPrefix(reply, "```")
	if nl := strings.IndexByte(reply, '\n'); nl >= 0 {
		reply = reply[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(reply), "```"))
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = `"` + n + `"`
	}
	return strings.Join(quoted, ", ")
}

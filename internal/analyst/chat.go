package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// ChatClient is a development stand-in for the Cortex Analyst: it asks an
// OpenAI-compatible chat model to answer over the ADS-B table and parses the
// reply into content items. Useful when no warehouse account is at hand.
type ChatClient struct {
	client *openai.Client
	model  string
}

// NewChatClient creates a development analyst on an OpenAI-compatible
// endpoint. An empty baseURL uses the library default.
func NewChatClient(baseURL, apiKey, model string) *ChatClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ChatClient{client: openai.NewClientWithConfig(cfg), model: model}
}

const chatSystemPrompt = `You translate questions about aircraft surveillance data into SQL.
The table %s holds one row per aircraft observation with columns such as
ICAO_HEX, FLIGHT, AIRCRAFT_TYPE, CATEGORY, ALTITUDE_BARO, GROUND_SPEED,
LATITUDE, LONGITUDE and DATETIMESTAMP.
Reply with a single JSON object and nothing else:
{"answer": "<short prose answer>", "sql": "<SELECT statement or empty>", "suggestions": ["<follow-up>", ...]}`

// SendMessage renders the history as a chat transcript, requests a
// completion, and maps the model's JSON reply onto the analyst content
// variants. The semantic view identifier doubles as the table name in the
// prompt.
func (c *ChatClient) SendMessage(ctx context.Context, history []Message, semanticView string) ([]ContentItem, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(chatSystemPrompt, semanticView),
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAnalyst {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: flattenContent(m.Content)})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &MalformedResponseError{Reason: "no choices in completion"}
	}
	return parseChatReply(resp.Choices[0].Message.Content)
}

// parseChatReply extracts answer/sql/suggestions from the model output.
// Models occasionally wrap the JSON in prose or code fences, so the fields
// are pulled out leniently rather than strictly decoded.
func parseChatReply(reply string) ([]ContentItem, error) {
	trimmed := strings.TrimSpace(reply)
	if i := strings.Index(trimmed, "{"); i >= 0 {
		if j := strings.LastIndex(trimmed, "}"); j > i {
			trimmed = trimmed[i : j+1]
		}
	}
	if !gjson.Valid(trimmed) {
		// Plain-text replies still render as a single text item.
		return []ContentItem{Text{Text: reply}}, nil
	}

	var items []ContentItem
	if answer := gjson.Get(trimmed, "answer"); answer.Exists() && answer.String() != "" {
		items = append(items, Text{Text: answer.String()})
	}
	if stmt := gjson.Get(trimmed, "sql"); stmt.Exists() && stmt.String() != "" {
		items = append(items, SQL{Statement: stmt.String()})
	}
	if sugg := gjson.Get(trimmed, "suggestions"); sugg.IsArray() {
		var hints []string
		for _, s := range sugg.Array() {
			if s.String() != "" {
				hints = append(hints, s.String())
			}
		}
		if len(hints) > 0 {
			items = append(items, Suggestions{Suggestions: hints})
		}
	}
	if len(items) == 0 {
		return nil, &MalformedResponseError{Reason: "completion contained no usable fields"}
	}
	return items, nil
}

func flattenContent(items []ContentItem) string {
	var b strings.Builder
	for _, item := range items {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		switch v := item.(type) {
		case Text:
			b.WriteString(v.Text)
		case SQL:
			b.WriteString(v.Statement)
		case Suggestions:
			b.WriteString(strings.Join(v.Suggestions, "; "))
		}
	}
	return b.String()
}

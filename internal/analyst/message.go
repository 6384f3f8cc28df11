package analyst

import (
	"encoding/json"
	"fmt"
)

// Roles of a conversation turn as the analyst service expects them on the
// wire. The service answers as "analyst"; presentation layers are free to
// relabel it "assistant" for display.
const (
	RoleUser    = "user"
	RoleAnalyst = "analyst"
)

// Message is one turn of an analyst conversation. Content is ordered and
// never mutated after the message is appended to a history.
type Message struct {
	Role    string
	Content []ContentItem
}

// ContentItem is one unit of an analyst response: prose, a generated SQL
// statement, or follow-up suggestions. The set of variants is closed.
type ContentItem interface {
	contentType() string
}

// Text is prose to display as-is.
type Text struct {
	Text string `json:"text"`
}

// SQL is a generated query string. It is server-authored but still external
// input: opaque text, only ever passed whole to the warehouse query
// interface.
type SQL struct {
	Statement string `json:"statement"`
}

// Suggestions is an ordered list of follow-up question hints.
type Suggestions struct {
	Suggestions []string `json:"suggestions"`
}

func (Text) contentType() string        { return "text" }
func (SQL) contentType() string         { return "sql" }
func (Suggestions) contentType() string { return "suggestions" }

type messageJSON struct {
	Role    string            `json:"role"`
	Content []json.RawMessage `json:"content"`
}

type contentItemJSON struct {
	Type        string   `json:"type"`
	Text        string   `json:"text,omitempty"`
	Statement   string   `json:"statement,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// MarshalJSON encodes the message with a "type" discriminator on every
// content item, the shape the analyst service consumes.
func (m Message) MarshalJSON() ([]byte, error) {
	out := struct {
		Role    string            `json:"role"`
		Content []contentItemJSON `json:"content"`
	}{Role: m.Role, Content: make([]contentItemJSON, 0, len(m.Content))}

	for _, item := range m.Content {
		switch v := item.(type) {
		case Text:
			out.Content = append(out.Content, contentItemJSON{Type: "text", Text: v.Text})
		case SQL:
			out.Content = append(out.Content, contentItemJSON{Type: "sql", Statement: v.Statement})
		case Suggestions:
			out.Content = append(out.Content, contentItemJSON{Type: "suggestions", Suggestions: v.Suggestions})
		default:
			return nil, fmt.Errorf("analyst: unknown content item %T", item)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a message, dispatching content items on their "type"
// discriminator. Items with an unrecognized discriminator are skipped.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	items, err := decodeContent(raw.Content)
	if err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = items
	return nil
}

func decodeContent(raw []json.RawMessage) ([]ContentItem, error) {
	items := make([]ContentItem, 0, len(raw))
	for _, r := range raw {
		var probe contentItemJSON
		if err := json.Unmarshal(r, &probe); err != nil {
			return nil, fmt.Errorf("analyst: decode content item: %w", err)
		}
		switch probe.Type {
		case "text":
			items = append(items, Text{Text: probe.Text})
		case "sql":
			items = append(items, SQL{Statement: probe.Statement})
		case "suggestions":
			items = append(items, Suggestions{Suggestions: probe.Suggestions})
		}
	}
	return items, nil
}

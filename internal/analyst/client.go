package analyst

import "context"

// Client is the minimal surface the conversation orchestrator needs from an
// analyst service; it is easy to mock in tests. The service is stateless
// across calls: every request carries the full conversation history.
type Client interface {
	SendMessage(ctx context.Context, history []Message, semanticView string) ([]ContentItem, error)
}

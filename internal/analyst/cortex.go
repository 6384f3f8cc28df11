package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flightdeck/skyboard/internal/logger"
)

// DefaultTimeout bounds an analyst round trip; a request that has not
// answered by then fails rather than hangs.
const DefaultTimeout = 30 * time.Second

const messagePath = "/api/v2/cortex/analyst/message"

// TokenSource supplies bearer tokens for the analyst endpoint.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// CortexClient calls the Cortex Analyst message API. One synchronous POST
// per conversation turn; no retries.
type CortexClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// NewCortexClient creates a client for the analyst service at baseURL
// (scheme and host, no path). A non-positive timeout selects DefaultTimeout.
func NewCortexClient(baseURL string, tokens TokenSource, timeout time.Duration) *CortexClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CortexClient{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
	}
}

type cortexRequest struct {
	Messages     []Message `json:"messages"`
	SemanticView string    `json:"semantic_view"`
}

type cortexResponse struct {
	Message   *Message `json:"message"`
	RequestID string   `json:"request_id"`
}

// SendMessage posts the full history plus the semantic view identifier and
// returns the content of the analyst's reply.
func (c *CortexClient) SendMessage(ctx context.Context, history []Message, semanticView string) ([]ContentItem, error) {
	body, err := json.Marshal(cortexRequest{Messages: history, SemanticView: semanticView})
	if err != nil {
		return nil, fmt.Errorf("analyst: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagePath, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &TransportError{Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Snowflake-Authorization-Token-Type", "KEYPAIR_JWT")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		logger.L.Warn("analyst request rejected", "status", resp.StatusCode, "body", string(respBody))
		return nil, &TransportError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out cortexResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &MalformedResponseError{Reason: err.Error()}
	}
	if out.Message == nil || len(out.Message.Content) == 0 {
		return nil, &MalformedResponseError{Reason: "no message.content in response"}
	}
	logger.L.Debug("analyst response received", "request_id", out.RequestID, "items", len(out.Message.Content))
	return out.Message.Content, nil
}

// Package ai calls the generative reply service.
//
// The service is a black box behind a small HTTP contract; the relay only
// cares that a prompt resolves to reply text or a hard error for the turn.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/relaychat/internal/platform/timeouts"
)

// ErrEmptyReply indicates the service answered without usable output text.
var ErrEmptyReply = errors.New("generative reply service returned no output text")

// Client invokes the generative reply service over HTTP.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type invokeRequest struct {
	ModelID   string `json:"modelId"`
	InputText string `json:"inputText"`
}

type invokeResponse struct {
	OutputText string `json:"outputText"`
}

// NewClient creates a reply client. A blank base URL returns nil, which the
// router treats as "AI replies disabled".
func NewClient(baseURL string, model string, timeout time.Duration) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = timeouts.ReplyRequest
	}
	return &Client{
		baseURL: baseURL,
		model:   strings.TrimSpace(model),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Complete resolves prompt to reply text. Any transport failure, non-200
// status, or malformed body is a hard error; there is no partial reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.httpClient == nil {
		return "", errors.New("reply client is not configured")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt is required")
	}

	body, err := json.Marshal(invokeRequest{
		ModelID:   c.model,
		InputText: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal invoke request: %w", err)
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + "/invoke"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call reply service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reply service status %d", resp.StatusCode)
	}

	var payload invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode reply response: %w", err)
	}
	if strings.TrimSpace(payload.OutputText) == "" {
		return "", ErrEmptyReply
	}
	return payload.OutputText, nil
}

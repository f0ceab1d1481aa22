// Package llm is the optional client for the insight sidecar. It answers
// free-form /ask questions and produces trade summaries that are persisted
// as write-only enrichment records.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the insight service. A nil client is a valid disabled
// state for callers that treat insights as best-effort.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.SugaredLogger
}

// NewClient builds an insight client.
func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Insight is one model response.
type Insight struct {
	Content          string
	Confidence       float64
	ProcessingTimeMs int64
}

type completionRequest struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

type completionResponse struct {
	Response   string  `json:"response"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Ask sends a free-form question, optionally with a context blob such as
// the current status report.
func (c *Client) Ask(ctx context.Context, question, contextBlob string) (Insight, error) {
	start := time.Now()

	data, err := json.Marshal(completionRequest{Prompt: question, Context: contextBlob})
	if err != nil {
		return Insight{}, fmt.Errorf("llm: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(data))
	if err != nil {
		return Insight{}, fmt.Errorf("llm: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Insight{}, fmt.Errorf("llm: completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Insight{}, fmt.Errorf("llm: completion returned %d", resp.StatusCode)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Insight{}, fmt.Errorf("llm: decoding response: %w", err)
	}
	if out.Error != "" {
		return Insight{}, fmt.Errorf("llm: %s", out.Error)
	}

	return Insight{
		Content:          out.Response,
		Confidence:       out.Confidence,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

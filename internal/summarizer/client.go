package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"loanlens/internal/models"
)

// Client represents the summarization service client
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// SummarizeRequest represents the request to summarize one transcript
type SummarizeRequest struct {
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

// Summary is the prose summary and sentiment label of a call.
type Summary struct {
	Summary   string `json:"summary"`
	Sentiment string `json:"sentiment"`
	Model     string `json:"model,omitempty"`
}

// NewClient creates a new summarization service client
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // local LLMs are slow
		},
		logger: logger,
	}
}

// Summarize sends one transcript for summarization. Unknown sentiment
// labels are dropped.
func (c *Client) Summarize(ctx context.Context, callID, text string) (*Summary, error) {
	jsonData, err := json.Marshal(SummarizeRequest{CallID: callID, Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/summarize", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("summarizer returned status %d", resp.StatusCode)
	}

	var s Summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	s.Summary = strings.TrimSpace(s.Summary)
	s.Sentiment = normalizeSentiment(s.Sentiment)
	return &s, nil
}

// Ping checks if the summarization service is available
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("summarizer health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func normalizeSentiment(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case models.SentimentPositive:
		return models.SentimentPositive
	case models.SentimentNeutral:
		return models.SentimentNeutral
	case models.SentimentNegative:
		return models.SentimentNegative
	default:
		return ""
	}
}

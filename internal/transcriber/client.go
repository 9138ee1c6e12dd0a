package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client talks to the speech-to-text service. The model behind it is not
// our concern; it only has to return text for an audio file.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// TranscribeRequest points the service at an audio file it can read.
type TranscribeRequest struct {
	CallID    string `json:"call_id"`
	AudioPath string `json:"audio_path"`
}

// Result is the transcription of one call.
type Result struct {
	CallID          string  `json:"call_id"`
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds"`
	Language        string  `json:"language,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

// NewClient creates a transcriber client. A zero timeout keeps the default
// of five minutes; long recordings take a while.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Transcribe asks the service to transcribe the recording at audioPath.
func (c *Client) Transcribe(ctx context.Context, callID, audioPath string) (*Result, error) {
	jsonData, err := json.Marshal(TranscribeRequest{CallID: callID, AudioPath: audioPath})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/transcribe", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcriber returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.CallID == "" {
		result.CallID = callID
	}

	c.logger.Debug("Call transcribed",
		zap.String("call_id", callID),
		zap.Int("chars", len(result.Text)),
		zap.Duration("took", time.Since(start)))

	return &result, nil
}

// HealthCheck checks if the transcriber is up.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcriber health check failed with status %d", resp.StatusCode)
	}

	var result HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

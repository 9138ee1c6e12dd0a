package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash"

const systemInstruction = `You summarize phone calls between mortgage borrowers and loan servicing staff.
Reply with a single JSON object: {"summary": "<two or three sentences>", "sentiment": "positive|neutral|negative"}.
The sentiment is the borrower's overall tone. Do not invent loan numbers or amounts.`

// GeminiConfig configures the Gemini-backed summarizer.
type GeminiConfig struct {
	APIKey     string
	ModelName  string
	MaxRetries int
	RetryDelay time.Duration
}

// GeminiClient summarizes transcripts directly through the Gemini API,
// for deployments without a local summarization service.
type GeminiClient struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	modelName  string
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = defaultGeminiModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	model.ResponseMIMEType = "application/json"
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.2),
		MaxOutputTokens: genai.Ptr[int32](400),
	}

	logger.Info("Gemini summarizer initialized", zap.String("model", cfg.ModelName))

	return &GeminiClient{
		client:     client,
		model:      model,
		modelName:  cfg.ModelName,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Summarize asks the model for a summary, retrying on API and parse errors.
func (c *GeminiClient) Summarize(ctx context.Context, callID, text string) (*Summary, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		resp, err := c.model.GenerateContent(ctx, genai.Text(text))
		if err != nil {
			lastErr = fmt.Errorf("gemini API error: %w", err)
			c.logger.Warn("Gemini request failed",
				zap.String("call_id", callID), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = fmt.Errorf("empty response from gemini")
			continue
		}
		part, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
		if !ok {
			lastErr = fmt.Errorf("unexpected response type from gemini")
			continue
		}

		s, err := parseModelReply(string(part))
		if err != nil {
			lastErr = err
			c.logger.Warn("Unparseable Gemini reply",
				zap.String("call_id", callID), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		s.Model = c.modelName
		return s, nil
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

// parseModelReply decodes the model's JSON, tolerating markdown fences.
func parseModelReply(reply string) (*Summary, error) {
	clean := strings.TrimSpace(reply)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var s Summary
	if err := json.Unmarshal([]byte(clean), &s); err != nil {
		return nil, fmt.Errorf("failed to parse gemini response: %w", err)
	}
	s.Summary = strings.TrimSpace(s.Summary)
	if s.Summary == "" {
		return nil, fmt.Errorf("gemini response has no summary")
	}
	s.Sentiment = normalizeSentiment(s.Sentiment)
	return &s, nil
}

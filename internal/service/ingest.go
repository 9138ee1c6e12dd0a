package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"loanlens/internal/extractor"
	"loanlens/internal/indexer"
	"loanlens/internal/models"
	"loanlens/internal/notify"
	"loanlens/internal/repository"
	"loanlens/internal/timeline"
)

// ErrEmptyTranscript rejects ingestion of blank text.
var ErrEmptyTranscript = errors.New("transcript text is empty")

// IngestInput is what the Transcriber hands over for one call.
type IngestInput struct {
	CallID          string  `json:"call_id" binding:"required"`
	Text            string  `json:"text" binding:"required"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type IngestResult struct {
	CallID       string                 `json:"call_id"`
	Facts        extractor.FactSet      `json:"facts"`
	Indexed      []string               `json:"indexed"`
	Existing     []string               `json:"existing"`
	Sentiment    string                 `json:"sentiment,omitempty"`
	TurningPoint *timeline.TurningPoint `json:"turning_point,omitempty"`
}

// Ingest stores a new transcript for an existing call and processes it.
func (s *loanService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrEmptyTranscript
	}

	call, err := s.calls.GetCall(ctx, in.CallID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call: %w", err)
	}

	path, err := s.transcripts.Save(call.CallID, in.Text)
	if err != nil {
		return nil, err
	}
	duration := int(math.Round(in.DurationSeconds))
	if err := s.calls.SetTranscript(ctx, call.CallID, path, duration); err != nil {
		return nil, fmt.Errorf("failed to record transcript path: %w", err)
	}

	call.TranscriptPath = path
	call.Transcript = in.Text
	if duration > 0 {
		call.Duration = duration
	}
	return s.ProcessCall(ctx, call)
}

// Reindex re-runs extraction and indexing for a stored call.
func (s *loanService) Reindex(ctx context.Context, callID string) (*IngestResult, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	return s.ProcessCall(ctx, call)
}

// ProcessCall extracts facts from the call text, writes the annotations
// back, indexes every loan number and marks the call indexed. A call whose
// index entries were only partly written stays pending so the processor
// retries it.
func (s *loanService) ProcessCall(ctx context.Context, call *models.Call) (*IngestResult, error) {
	text := call.Text()
	facts := extractor.ExtractFinancialFacts(text)

	ann := models.CallAnnotations{
		LoanNumbers: models.NewLoanNumbers(facts.LoanNumbers...),
		KeyFacts:    facts.JSON(),
	}
	if s.summarizer != nil && call.Transcript != "" {
		summary, err := s.summarizer.Summarize(ctx, call.CallID, call.Transcript)
		if err != nil {
			s.logger.Warn("Failed to summarize call, continuing without summary",
				zap.String("call_id", call.CallID), zap.Error(err))
		} else {
			ann.Summary = summary.Summary
			ann.Sentiment = summary.Sentiment
		}
	}

	if err := s.calls.UpdateAnnotations(ctx, call.CallID, ann); err != nil {
		return nil, fmt.Errorf("failed to update annotations: %w", err)
	}

	res := &IngestResult{CallID: call.CallID, Facts: facts, Sentiment: ann.Sentiment}

	indexed, err := s.indexer.IndexCall(ctx, call.CallID, facts, indexer.MetadataFromCall(call))
	res.Indexed, res.Existing = indexed.Indexed, indexed.Existing
	if err != nil {
		return res, fmt.Errorf("failed to index call %s: %w", call.CallID, err)
	}

	// Only the pass that flips indexed_at notifies, whatever the caller's
	// copy of the call says.
	firstPass, err := s.calls.MarkIndexed(ctx, call.CallID, time.Now())
	if err != nil {
		return res, fmt.Errorf("failed to mark call indexed: %w", err)
	}

	if tp, ok := timeline.DetectTurningPoint(text); ok {
		tp.CallID = call.CallID
		tp.Timestamp = call.Timestamp
		res.TurningPoint = &tp

		if firstPass {
			ev := notify.Event{LoanNumbers: facts.LoanNumbers, Point: tp}
			if err := s.notifier.Notify(ctx, ev); err != nil {
				s.logger.Warn("Turning point notification failed",
					zap.String("call_id", call.CallID), zap.Error(err))
			}
		}
	}

	s.logger.Info("Call processed",
		zap.String("call_id", call.CallID),
		zap.Strings("loan_numbers", facts.LoanNumbers),
		zap.Bool("turning_point", res.TurningPoint != nil))
	return res, nil
}

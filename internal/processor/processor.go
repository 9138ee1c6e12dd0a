package processor

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"loanlens/internal/models"
	"loanlens/internal/repository"
	"loanlens/internal/service"
	"loanlens/internal/transcriber"
	"loanlens/internal/transcript"
)

// Transcriber turns a recording into text. Implemented by transcriber.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, callID, audioPath string) (*transcriber.Result, error)
}

var errNoText = errors.New("call has neither transcript nor summary text")

// Stats counts what one pass did. Abandoned counts failures that used up
// the call's last attempt.
type Stats struct {
	Transcribed int
	Indexed     int
	Failed      int
	Abandoned   int
}

// Processor transcribes pending recordings and indexes pending transcripts
// in the background.
type Processor struct {
	calls        repository.CallRepository
	transcriber  Transcriber
	transcripts  *transcript.Store
	loans        service.LoanService
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	trigger      chan struct{}
}

// NewProcessor creates a new processor. transcriber may be nil, in which
// case only transcripts that already exist are indexed. A call that fails
// maxAttempts passes in a row is no longer picked up until it receives a
// new transcript.
func NewProcessor(
	calls repository.CallRepository,
	transcriber Transcriber,
	transcripts *transcript.Store,
	loans service.LoanService,
	logger *zap.Logger,
	pollInterval time.Duration,
	batchSize int,
	maxAttempts int,
) *Processor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Processor{
		calls:        calls,
		transcriber:  transcriber,
		transcripts:  transcripts,
		loans:        loans,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxAttempts:  maxAttempts,
		trigger:      make(chan struct{}, 1),
	}
}

// Trigger asks Run for an immediate pass. It never blocks.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run starts the periodic processing loop.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Call processor started.", zap.Duration("poll_interval", p.pollInterval))

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Call processor stopped.")
			return
		case <-ticker.C:
			p.pass(ctx)
		case <-p.trigger:
			p.pass(ctx)
		}
	}
}

func (p *Processor) pass(ctx context.Context) {
	stats, err := p.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Processing pass failed", zap.Error(err))
		return
	}
	if stats.Transcribed+stats.Indexed+stats.Failed > 0 {
		p.logger.Info("Processing pass finished",
			zap.Int("transcribed", stats.Transcribed),
			zap.Int("indexed", stats.Indexed),
			zap.Int("failed", stats.Failed),
			zap.Int("abandoned", stats.Abandoned))
	}
}

// RunOnce transcribes one batch of recordings and indexes one batch of
// transcripts. Per-call failures are logged and recorded against the call,
// which moves it behind calls with fewer failures; only store failures
// abort the pass.
func (p *Processor) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := p.transcribePending(ctx, &stats); err != nil {
		return stats, err
	}
	if err := p.indexPending(ctx, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (p *Processor) transcribePending(ctx context.Context, stats *Stats) error {
	if p.transcriber == nil {
		return nil
	}

	pending, err := p.calls.ListUntranscribed(ctx, p.batchSize, p.maxAttempts)
	if err != nil {
		return err
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		call := &pending[i]
		p.logger.Debug("Transcribing call", zap.String("call_id", call.CallID), zap.String("audio_path", call.AudioPath))

		res, err := p.transcriber.Transcribe(ctx, call.CallID, call.AudioPath)
		if err != nil {
			p.fail(ctx, call, "Failed to transcribe call", err, stats)
			continue
		}

		_, err = p.loans.Ingest(ctx, service.IngestInput{
			CallID:          call.CallID,
			Text:            res.Text,
			DurationSeconds: res.DurationSeconds,
		})
		if err != nil {
			p.fail(ctx, call, "Failed to ingest transcript", err, stats)
			continue
		}
		stats.Transcribed++
	}
	return nil
}

func (p *Processor) indexPending(ctx context.Context, stats *Stats) error {
	pending, err := p.calls.ListPendingIndex(ctx, p.batchSize, p.maxAttempts)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	var loadErrs map[string]error
	if err := p.transcripts.LoadAll(ctx, pending); err != nil {
		if ctx.Err() != nil {
			return err
		}
		p.logger.Warn("Batch transcript load failed, loading calls one by one", zap.Error(err))
		loadErrs = p.loadEach(ctx, pending)
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		call := &pending[i]
		if err := loadErrs[call.CallID]; err != nil {
			p.fail(ctx, call, "Failed to read transcript", err, stats)
			continue
		}
		if call.Text() == "" {
			p.fail(ctx, call, "Pending call has no text", errNoText, stats)
			continue
		}
		if _, err := p.loans.ProcessCall(ctx, call); err != nil {
			p.fail(ctx, call, "Failed to index call", err, stats)
			continue
		}
		stats.Indexed++
	}
	return nil
}

// loadEach loads the transcripts LoadAll left unread and returns the
// per-call read errors. Missing files are not errors; those calls fall back
// to their summary.
func (p *Processor) loadEach(ctx context.Context, calls []models.Call) map[string]error {
	errs := make(map[string]error)
	for i := range calls {
		c := &calls[i]
		if c.TranscriptPath == "" || c.Transcript != "" {
			continue
		}
		text, err := p.transcripts.Load(ctx, c.TranscriptPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			errs[c.CallID] = err
		default:
			c.Transcript = text
		}
	}
	return errs
}

// fail counts a failed pass against the call. The call keeps its place in
// the queue behind calls with fewer failures until maxAttempts is reached.
func (p *Processor) fail(ctx context.Context, call *models.Call, msg string, cause error, stats *Stats) {
	if ctx.Err() != nil {
		// Shutdown, not the call's fault.
		return
	}
	stats.Failed++

	attempt, err := p.calls.RecordFailure(ctx, call.CallID, cause, time.Now())
	if err != nil {
		p.logger.Error("Failed to record processing failure", zap.String("call_id", call.CallID), zap.Error(err))
		attempt = call.ProcessAttempts + 1
	}

	fields := []zap.Field{
		zap.String("call_id", call.CallID),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", p.maxAttempts),
		zap.Error(cause),
	}
	if attempt >= p.maxAttempts {
		stats.Abandoned++
		p.logger.Warn(msg+", giving up until the call gets a new transcript", fields...)
		return
	}
	p.logger.Error(msg, fields...)
}

// ImportTranscript attaches a transcript file dropped into the transcript
// directory to its call. Files for unknown calls or calls that already have
// a transcript are ignored.
func (p *Processor) ImportTranscript(ctx context.Context, path string) (bool, error) {
	callID, ok := transcript.CallIDFromPath(path)
	if !ok {
		return false, nil
	}

	call, err := p.calls.GetCall(ctx, callID)
	if errors.Is(err, repository.ErrNotFound) {
		p.logger.Debug("Transcript for unknown call", zap.String("call_id", callID), zap.String("path", path))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if call.TranscriptPath != "" {
		return false, nil
	}

	if err := p.calls.SetTranscript(ctx, callID, path, 0); err != nil {
		return false, err
	}
	p.logger.Info("Transcript imported", zap.String("call_id", callID), zap.String("path", path))
	return true, nil
}

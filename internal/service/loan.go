package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loanlens/internal/extractor"
	"loanlens/internal/indexer"
	"loanlens/internal/models"
	"loanlens/internal/network"
	"loanlens/internal/notify"
	"loanlens/internal/repository"
	"loanlens/internal/summarizer"
	"loanlens/internal/timeline"
	"loanlens/internal/transcript"
)

// ErrCallNotFound is returned when an operation names an unknown call.
var ErrCallNotFound = errors.New("call not found")

// Summarizer produces prose and a sentiment label for a transcript.
// Implemented by summarizer.Client and summarizer.GeminiClient.
type Summarizer interface {
	Summarize(ctx context.Context, callID, text string) (*summarizer.Summary, error)
}

type LoanService interface {
	Ingest(ctx context.Context, in IngestInput) (*IngestResult, error)
	ProcessCall(ctx context.Context, call *models.Call) (*IngestResult, error)
	Reindex(ctx context.Context, callID string) (*IngestResult, error)

	LoanCalls(ctx context.Context, loanNumber string) ([]models.Call, error)
	Network(ctx context.Context, loanNumber string, window time.Duration) (*network.CallSet, error)
	Timeline(ctx context.Context, loanNumber string, window *time.Duration) (*timeline.Timeline, error)
	ListLoans(ctx context.Context, limit int) ([]models.LoanSummary, error)
	LoansForUser(ctx context.Context, userName string) ([]models.LoanSummary, error)
	CallFacts(ctx context.Context, callID string) (extractor.FactSet, error)
	Transcript(ctx context.Context, callID string) (string, error)

	GetFeedback(ctx context.Context, callID string) (*models.CallFeedback, error)
	CreateFeedback(ctx context.Context, callID string, in models.FeedbackInput) (*models.CallFeedback, error)
	UpdateFeedback(ctx context.Context, callID string, in models.FeedbackInput) (*models.CallFeedback, error)
	OfficerAccuracy(ctx context.Context, phoneNumber string) (*models.OfficerAccuracy, error)

	Health(ctx context.Context) error
}

// Deps wires a loanService. Summarizer and Notifier are optional.
type Deps struct {
	Calls        repository.CallRepository
	Index        repository.LoanIndexRepository
	Feedback     repository.FeedbackRepository
	Transcripts  *transcript.Store
	Summarizer   Summarizer
	Notifier     notify.Notifier
	Processors   network.Processors
	QueryTimeout time.Duration
	Logger       *zap.Logger
}

type loanService struct {
	calls        repository.CallRepository
	index        repository.LoanIndexRepository
	feedback     repository.FeedbackRepository
	transcripts  *transcript.Store
	summarizer   Summarizer
	notifier     notify.Notifier
	indexer      *indexer.Indexer
	expander     *network.Expander
	queryTimeout time.Duration
	logger       *zap.Logger
}

func NewLoanService(d Deps) LoanService {
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	timeout := d.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &loanService{
		calls:        d.Calls,
		index:        d.Index,
		feedback:     d.Feedback,
		transcripts:  d.Transcripts,
		summarizer:   d.Summarizer,
		notifier:     notifier,
		indexer:      indexer.New(d.Index, d.Logger),
		expander:     network.NewExpander(callGraph{index: d.Index, calls: d.Calls}, d.Processors, d.Logger),
		queryTimeout: timeout,
		logger:       d.Logger,
	}
}

// callGraph joins the two repositories into the expander's read side.
type callGraph struct {
	index repository.LoanIndexRepository
	calls repository.CallRepository
}

func (g callGraph) DirectCalls(ctx context.Context, loanNumber string) ([]models.Call, error) {
	return g.index.DirectCalls(ctx, loanNumber)
}

func (g callGraph) CallsByParticipant(ctx context.Context, party string, from, to time.Time) ([]models.Call, error) {
	return g.calls.CallsByParticipant(ctx, party, from, to)
}

func (s *loanService) LoanCalls(ctx context.Context, loanNumber string) ([]models.Call, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	calls, err := s.index.DirectCalls(ctx, loanNumber)
	if err != nil {
		s.logger.Error("Failed to load loan calls", zap.String("loan_number", loanNumber), zap.Error(err))
		return nil, &network.LookupFailure{Op: "direct calls", LoanNumber: loanNumber, Err: err}
	}
	return calls, nil
}

func (s *loanService) Network(ctx context.Context, loanNumber string, window time.Duration) (*network.CallSet, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.expander.Expand(ctx, loanNumber, window)
}

// Timeline assembles the loan's timeline. With a window the calls come from
// the expanded network, otherwise from the index alone. Reviewer feedback
// removes calls marked irrelevant and adds calls corrected to this loan.
func (s *loanService) Timeline(ctx context.Context, loanNumber string, window *time.Duration) (*timeline.Timeline, error) {
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var calls []models.Call
	if window != nil {
		set, err := s.expander.Expand(qctx, loanNumber, *window)
		if err != nil {
			return nil, err
		}
		calls = make([]models.Call, 0, len(set.Calls))
		for _, c := range set.Calls {
			calls = append(calls, c.Call)
		}
	} else {
		direct, err := s.index.DirectCalls(qctx, loanNumber)
		if err != nil {
			return nil, &network.LookupFailure{Op: "direct calls", LoanNumber: loanNumber, Err: err}
		}
		calls = direct
	}

	calls, err := s.applyFeedback(qctx, loanNumber, calls)
	if err != nil {
		return nil, &network.LookupFailure{Op: "feedback", LoanNumber: loanNumber, Err: err}
	}

	if s.transcripts != nil {
		if err := s.transcripts.LoadAll(ctx, calls); err != nil {
			return nil, fmt.Errorf("failed to load transcripts: %w", err)
		}
	}

	tl := timeline.Assemble(loanNumber, calls)
	s.logger.Info("Timeline assembled",
		zap.String("loan_number", loanNumber),
		zap.Int("calls", tl.CallCount),
		zap.Int("conversations", len(tl.Conversations)),
		zap.Int("turning_points", len(tl.TurningPoints)))
	return &tl, nil
}

func (s *loanService) applyFeedback(ctx context.Context, loanNumber string, calls []models.Call) ([]models.Call, error) {
	corrected, err := s.feedback.CallsCorrectedTo(ctx, loanNumber)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(calls)+len(corrected))
	merged := make([]models.Call, 0, len(calls)+len(corrected))
	for _, c := range append(calls, corrected...) {
		if seen[c.CallID] {
			continue
		}
		seen[c.CallID] = true
		merged = append(merged, c)
	}

	ids := make([]string, len(merged))
	for i, c := range merged {
		ids[i] = c.CallID
	}
	reviews, err := s.feedback.ForCalls(ctx, ids)
	if err != nil {
		return nil, err
	}

	kept := merged[:0]
	for _, c := range merged {
		fb, ok := reviews[c.CallID]
		switch {
		case !ok:
		case !fb.IsRelevant:
			continue
		case fb.FeedbackType == models.FeedbackCorrected && fb.CorrectedLoanNumber != loanNumber:
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}

func (s *loanService) ListLoans(ctx context.Context, limit int) ([]models.LoanSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.index.ListLoans(ctx, limit)
}

func (s *loanService) LoansForUser(ctx context.Context, userName string) ([]models.LoanSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.index.LoansForUser(ctx, userName)
}

func (s *loanService) CallFacts(ctx context.Context, callID string) (extractor.FactSet, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return extractor.FactSet{}, err
	}
	return extractor.ExtractFinancialFacts(call.Text()), nil
}

func (s *loanService) Transcript(ctx context.Context, callID string) (string, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return "", err
	}
	return call.Transcript, nil
}

// loadCall fetches a call with its transcript text.
func (s *loanService) loadCall(ctx context.Context, callID string) (*models.Call, error) {
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	call, err := s.calls.GetCall(qctx, callID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, err
	}

	if call.TranscriptPath != "" && s.transcripts != nil {
		calls := []models.Call{*call}
		if err := s.transcripts.LoadAll(ctx, calls); err != nil {
			return nil, err
		}
		call = &calls[0]
	}
	return call, nil
}

func (s *loanService) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.calls.Ping(ctx)
}

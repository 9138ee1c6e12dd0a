// Package indexer records which calls mention which loan numbers.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"loanlens/internal/extractor"
	"loanlens/internal/models"
)

// Store persists index entries. Implemented by repository.LoanIndexRepository.
type Store interface {
	UpsertEntry(ctx context.Context, entry *models.LoanIndexEntry) (inserted bool, err error)
}

// CallMetadata carries the fields copied onto every index entry.
type CallMetadata struct {
	UserName      string
	UserFirstName string
	UserLastName  string
	LocalParty    string
	RemoteParty   string
	Timestamp     time.Time
	Duration      int
	Confidence    float64
}

// MetadataFromCall builds index metadata from a stored call.
func MetadataFromCall(c *models.Call) CallMetadata {
	return CallMetadata{
		UserName:      c.UserName,
		UserFirstName: c.UserFirstName,
		UserLastName:  c.UserLastName,
		LocalParty:    c.LocalParty,
		RemoteParty:   c.RemoteParty,
		Timestamp:     c.Timestamp,
		Duration:      c.Duration,
	}
}

// Result reports what happened to each loan number of one call.
type Result struct {
	Indexed  []string         `json:"indexed"`
	Existing []string         `json:"existing"`
	Failed   map[string]error `json:"-"`
}

type Indexer struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Indexer {
	return &Indexer{store: store, logger: logger}
}

// IndexCall upserts one entry per loan number in facts. Every loan number is
// attempted; failures are collected and returned together.
func (ix *Indexer) IndexCall(ctx context.Context, callID string, facts extractor.FactSet, meta CallMetadata) (Result, error) {
	res := Result{Failed: map[string]error{}}
	if callID == "" {
		return res, errors.New("call id is required")
	}

	userName, first, last := resolveUser(meta)
	confidence := meta.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	ts := meta.Timestamp.UTC()

	var errs []error
	for _, loan := range models.NewLoanNumbers(facts.LoanNumbers...) {
		entry := &models.LoanIndexEntry{
			LoanNumber:    loan,
			CallID:        callID,
			UserName:      userName,
			UserFirstName: first,
			UserLastName:  last,
			CallDate:      ts.Format("2006-01-02"),
			CallTimestamp: ts,
			Duration:      meta.Duration,
			Confidence:    confidence,
		}

		inserted, err := ix.store.UpsertEntry(ctx, entry)
		if err != nil {
			ix.logger.Error("Failed to index loan number",
				zap.String("call_id", callID), zap.String("loan_number", loan), zap.Error(err))
			res.Failed[loan] = err
			errs = append(errs, fmt.Errorf("loan %s: %w", loan, err))
			continue
		}
		if inserted {
			res.Indexed = append(res.Indexed, loan)
		} else {
			res.Existing = append(res.Existing, loan)
		}
	}

	if len(res.Indexed) > 0 {
		ix.logger.Info("Call indexed",
			zap.String("call_id", callID),
			zap.Strings("loan_numbers", res.Indexed),
			zap.Int("already_indexed", len(res.Existing)))
	}

	return res, errors.Join(errs...)
}

// resolveUser picks the user name, falling back to the first participant
// that is not an external '+' number, then to UnknownUser.
func resolveUser(meta CallMetadata) (name, first, last string) {
	name = strings.TrimSpace(meta.UserName)
	if name == "" {
		for _, party := range []string{meta.LocalParty, meta.RemoteParty} {
			party = strings.TrimSpace(party)
			if party != "" && !strings.HasPrefix(party, "+") {
				name = party
				break
			}
		}
	}
	if name == "" {
		return models.UnknownUser, meta.UserFirstName, meta.UserLastName
	}

	first, last = meta.UserFirstName, meta.UserLastName
	if first == "" && last == "" {
		if f, l, ok := strings.Cut(name, " "); ok {
			first, last = f, l
		}
	}
	return name, first, last
}

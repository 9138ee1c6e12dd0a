// Package network widens a loan's directly related calls into the calls
// made around it by the same loan officer line.
package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"loanlens/internal/models"
)

// Tag records why a call is part of a loan network.
type Tag string

const (
	TagDirect    Tag = "DIRECT"
	TagProcessor Tag = "PROCESSOR"
	TagNetwork   Tag = "NETWORK"
)

// ErrInvalidWindow is returned for a negative expansion window.
var ErrInvalidWindow = errors.New("network window must not be negative")

// LookupFailure means the record store could not answer, as opposed to
// answering with no calls.
type LookupFailure struct {
	Op         string
	LoanNumber string
	Err        error
}

func (e *LookupFailure) Error() string {
	return fmt.Sprintf("lookup failed for loan %s during %s: %v", e.LoanNumber, e.Op, e.Err)
}

func (e *LookupFailure) Unwrap() error { return e.Err }

// Store is the read side of the record store the expander needs.
type Store interface {
	DirectCalls(ctx context.Context, loanNumber string) ([]models.Call, error)
	CallsByParticipant(ctx context.Context, party string, from, to time.Time) ([]models.Call, error)
}

// Processors identifies back-office and intermediary numbers.
type Processors struct {
	Prefixes []string
	Numbers  []string
}

func (p Processors) matches(number string) bool {
	if number == "" {
		return false
	}
	for _, n := range p.Numbers {
		if number == n {
			return true
		}
	}
	for _, prefix := range p.Prefixes {
		if prefix != "" && strings.HasPrefix(number, prefix) {
			return true
		}
	}
	return false
}

// NetworkCall is one tagged call of a CallSet.
type NetworkCall struct {
	models.Call
	Tag Tag `json:"tag"`
}

// CallSet is the expanded, ordered view of a loan's calls. It is read-only
// for consumers.
type CallSet struct {
	LoanNumber  string        `json:"loan_number"`
	LoanOfficer string        `json:"loan_officer,omitempty"`
	WindowStart time.Time     `json:"window_start,omitempty"`
	WindowEnd   time.Time     `json:"window_end,omitempty"`
	Calls       []NetworkCall `json:"calls"`
	SkippedRows int           `json:"skipped_rows"`
}

// Count returns how many calls carry tag.
func (s *CallSet) Count(tag Tag) int {
	n := 0
	for _, c := range s.Calls {
		if c.Tag == tag {
			n++
		}
	}
	return n
}

type Expander struct {
	store      Store
	processors Processors
	logger     *zap.Logger
}

func NewExpander(store Store, processors Processors, logger *zap.Logger) *Expander {
	return &Expander{store: store, processors: processors, logger: logger}
}

// Expand returns the DIRECT calls for loanNumber plus every call of the
// inferred loan officer within window of the first and last DIRECT call.
// window has no default; callers must choose it.
func (e *Expander) Expand(ctx context.Context, loanNumber string, window time.Duration) (*CallSet, error) {
	if window < 0 {
		return nil, ErrInvalidWindow
	}

	set := &CallSet{LoanNumber: loanNumber, Calls: []NetworkCall{}}

	direct, err := e.store.DirectCalls(ctx, loanNumber)
	if err != nil {
		return nil, &LookupFailure{Op: "direct calls", LoanNumber: loanNumber, Err: err}
	}
	if len(direct) == 0 {
		return set, nil
	}

	officer := LoanOfficer(direct)
	set.LoanOfficer = officer

	byID := make(map[string]NetworkCall, len(direct))
	for _, c := range direct {
		byID[c.CallID] = NetworkCall{Call: c, Tag: TagDirect}
	}

	if officer != "" {
		first, last := span(direct)
		set.WindowStart = first.Add(-window)
		set.WindowEnd = last.Add(window)

		related, err := e.store.CallsByParticipant(ctx, officer, set.WindowStart, set.WindowEnd)
		if err != nil {
			return nil, &LookupFailure{Op: "officer calls", LoanNumber: loanNumber, Err: err}
		}

		var lastErr error
		for _, c := range related {
			if _, ok := byID[c.CallID]; ok {
				continue
			}
			loans, err := c.LoanNumbers()
			if err != nil {
				set.SkippedRows++
				lastErr = err
				e.logger.Warn("Skipping call with malformed loan numbers",
					zap.String("call_id", c.CallID), zap.String("loan_number", loanNumber), zap.Error(err))
				continue
			}
			byID[c.CallID] = NetworkCall{Call: c, Tag: e.classify(&c, loans, loanNumber)}
		}
		if len(related) > 0 && set.SkippedRows == len(related) {
			return nil, &LookupFailure{Op: "decode loan numbers", LoanNumber: loanNumber, Err: lastErr}
		}
	}

	for _, c := range byID {
		set.Calls = append(set.Calls, c)
	}
	sort.Slice(set.Calls, func(i, j int) bool {
		a, b := set.Calls[i], set.Calls[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.CallID < b.CallID
	})

	e.logger.Info("Loan network expanded",
		zap.String("loan_number", loanNumber),
		zap.String("loan_officer", officer),
		zap.Int("direct", set.Count(TagDirect)),
		zap.Int("processor", set.Count(TagProcessor)),
		zap.Int("network", set.Count(TagNetwork)),
		zap.Int("skipped", set.SkippedRows))

	return set, nil
}

func (e *Expander) classify(c *models.Call, loans models.LoanNumbers, loanNumber string) Tag {
	switch {
	case loans.Contains(loanNumber):
		return TagDirect
	case e.processors.matches(c.LocalParty) || e.processors.matches(c.RemoteParty):
		return TagProcessor
	default:
		return TagNetwork
	}
}

// LoanOfficer returns the most frequent counterpart number across calls.
// Ties go to the lexicographically smallest number; blanks are ignored.
func LoanOfficer(calls []models.Call) string {
	counts := make(map[string]int)
	for _, c := range calls {
		if c.RemoteParty != "" {
			counts[c.RemoteParty]++
		}
	}

	best, bestCount := "", 0
	for number, n := range counts {
		if n > bestCount || (n == bestCount && number < best) {
			best, bestCount = number, n
		}
	}
	return best
}

func span(calls []models.Call) (first, last time.Time) {
	first, last = calls[0].Timestamp, calls[0].Timestamp
	for _, c := range calls[1:] {
		if c.Timestamp.Before(first) {
			first = c.Timestamp
		}
		if c.Timestamp.After(last) {
			last = c.Timestamp
		}
	}
	return first, last
}

// Package timeline orders a loan's calls and derives trend summaries from
// them: sentiment counts, turning points, themes and aggregate facts.
package timeline

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"loanlens/internal/extractor"
	"loanlens/internal/models"
)

// Turning point event names.
const (
	EventLoanApproval         = "Loan Approval"
	EventLoanDenial           = "Loan Denial"
	EventModificationApproved = "Modification Approved"
)

// ContextRadius is how many characters are kept on each side of a
// turning-point keyword.
const ContextRadius = 100

const fallbackContextLength = 200

// Conversation is one logical interaction. Calls sharing an identical
// timestamp are legs of a transferred call and are grouped together.
type Conversation struct {
	Timestamp time.Time     `json:"timestamp"`
	Calls     []models.Call `json:"calls"`
}

type TurningPoint struct {
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Keyword   string    `json:"keyword"`
	Context   string    `json:"context"`
}

// Timeline is a read-only view rebuilt on every request.
type Timeline struct {
	LoanNumber    string            `json:"loan_number"`
	CallCount     int               `json:"call_count"`
	Conversations []Conversation    `json:"conversations"`
	Sentiment     map[string]int    `json:"sentiment"`
	TurningPoints []TurningPoint    `json:"turning_points"`
	Facts         extractor.FactSet `json:"facts"`
	Themes        map[string]int    `json:"themes"`
	FirstCall     *time.Time        `json:"first_call,omitempty"`
	LastCall      *time.Time        `json:"last_call,omitempty"`
}

// Assemble builds the timeline of loanNumber from calls. The input slice is
// not modified.
func Assemble(loanNumber string, calls []models.Call) Timeline {
	sorted := make([]models.Call, len(calls))
	copy(sorted, calls)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].CallID < sorted[j].CallID
	})

	tl := Timeline{
		LoanNumber:    loanNumber,
		CallCount:     len(sorted),
		Conversations: []Conversation{},
		Sentiment:     map[string]int{},
		TurningPoints: []TurningPoint{},
		Themes:        map[string]int{},
	}

	facts := make([]extractor.FactSet, 0, len(sorted))
	for _, c := range sorted {
		n := len(tl.Conversations)
		if n > 0 && tl.Conversations[n-1].Timestamp.Equal(c.Timestamp) {
			tl.Conversations[n-1].Calls = append(tl.Conversations[n-1].Calls, c)
		} else {
			tl.Conversations = append(tl.Conversations, Conversation{Timestamp: c.Timestamp, Calls: []models.Call{c}})
		}

		if c.Sentiment != "" {
			tl.Sentiment[c.Sentiment]++
		}

		text := c.Text()
		if tp, ok := DetectTurningPoint(text); ok {
			tp.CallID = c.CallID
			tp.Timestamp = c.Timestamp
			tl.TurningPoints = append(tl.TurningPoints, tp)
		}
		for theme, n := range CountThemes(text) {
			tl.Themes[theme] += n
		}
		facts = append(facts, extractor.ExtractFinancialFacts(text))
	}
	tl.Facts = extractor.Merge(facts...)

	if len(sorted) > 0 {
		first, last := sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp
		tl.FirstCall, tl.LastCall = &first, &last
	}
	return tl
}

// DetectTurningPoint applies the fixed triggers to text. At most one event
// is reported per call; the first matching trigger wins.
func DetectTurningPoint(text string) (TurningPoint, bool) {
	lower := strings.ToLower(text)
	has := func(s string) bool { return strings.Contains(lower, s) }

	var event, keyword string
	switch {
	case has("approved") && has("loan"):
		event, keyword = EventLoanApproval, "approved"
	case has("denied"):
		event, keyword = EventLoanDenial, "denied"
	case has("declined"):
		event, keyword = EventLoanDenial, "declined"
	case has("modification") && (has("approved") || has("accept")):
		event, keyword = EventModificationApproved, "modification"
	default:
		return TurningPoint{}, false
	}

	return TurningPoint{
		Event:   event,
		Keyword: keyword,
		Context: ExtractContext(text, keyword, ContextRadius),
	}, true
}

// ExtractContext returns the text around the first case-insensitive
// occurrence of keyword, n characters on each side, marked with "..." where
// it was clipped. Without a match the first 200 characters are returned.
// A negative n is treated as zero.
func ExtractContext(text, keyword string, n int) string {
	n = max(n, 0)
	var loc []int
	if keyword != "" {
		loc = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(keyword)).FindStringIndex(text)
	}
	if loc == nil {
		return truncateRunes(text, fallbackContextLength)
	}

	runes := []rune(text)
	start := utf8.RuneCountInString(text[:loc[0]])
	end := start + utf8.RuneCountInString(text[loc[0]:loc[1]])

	from := max(0, start-n)
	to := min(len(runes), end+n)

	out := strings.TrimSpace(string(runes[from:to]))
	if from > 0 {
		out = "..." + out
	}
	if to < len(runes) {
		out += "..."
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

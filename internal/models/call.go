package models

import "time"

// Sentiment labels stored on calls.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// UnknownUser is stored in place of a missing user name.
const UnknownUser = "unknown"

// Call is a single recording row from the 'calls' table.
type Call struct {
	CallID         string     `db:"call_id" json:"call_id"`
	Timestamp      time.Time  `db:"call_timestamp" json:"timestamp"`
	Duration       int        `db:"duration" json:"duration"` // seconds
	LocalParty     string     `db:"local_party" json:"local_party"`
	RemoteParty    string     `db:"remote_party" json:"remote_party"` // counterpart, usually the loan officer line
	UserName       string     `db:"user_name" json:"user_name"`
	UserFirstName  string     `db:"user_firstname" json:"user_firstname"`
	UserLastName   string     `db:"user_lastname" json:"user_lastname"`
	TranscriptPath string     `db:"transcript_path" json:"transcript_path,omitempty"`
	AudioPath      string     `db:"audio_path" json:"audio_path,omitempty"`
	LoanNumbersRaw string     `db:"loan_numbers" json:"-"`
	Sentiment      string     `db:"sentiment" json:"sentiment,omitempty"`
	Summary        string     `db:"summary" json:"summary,omitempty"`
	KeyFacts       string     `db:"key_facts" json:"-"`
	IndexedAt      *time.Time `db:"indexed_at" json:"indexed_at,omitempty"`

	// ProcessAttempts counts consecutive failed transcription or indexing
	// passes; LastError holds the most recent cause.
	ProcessAttempts int    `db:"process_attempts" json:"process_attempts,omitempty"`
	LastError       string `db:"last_error" json:"last_error,omitempty"`

	// Transcript is loaded from TranscriptPath on demand.
	Transcript string `db:"-" json:"-"`
}

// LoanNumbers decodes the stored loan_numbers column.
func (c *Call) LoanNumbers() (LoanNumbers, error) {
	return DecodeLoanNumbers(c.LoanNumbersRaw)
}

// HasParty reports whether number is either participant of the call.
func (c *Call) HasParty(number string) bool {
	return number != "" && (c.LocalParty == number || c.RemoteParty == number)
}

// Text returns the transcript, or the summary when no transcript is loaded.
func (c *Call) Text() string {
	if c.Transcript != "" {
		return c.Transcript
	}
	return c.Summary
}

// CallAnnotations are the fields written back after extraction.
type CallAnnotations struct {
	LoanNumbers LoanNumbers
	Sentiment   string
	Summary     string
	KeyFacts    string
}

// LoanSummary is one row of the loan listing.
type LoanSummary struct {
	LoanNumber string `db:"loan_number" json:"loan_number"`
	CallCount  int    `db:"call_count" json:"call_count"`
	FirstCall  string `db:"first_call" json:"first_call"` // aggregate, driver formatted
	LastCall   string `db:"last_call" json:"last_call"`
}

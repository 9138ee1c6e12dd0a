package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// LoanIndexEntry links one loan number to one call in 'loan_number_index'.
// (loan_number, call_id) is unique.
type LoanIndexEntry struct {
	ID            int64     `db:"id" json:"id"`
	LoanNumber    string    `db:"loan_number" json:"loan_number"`
	CallID        string    `db:"call_id" json:"call_id"`
	UserName      string    `db:"user_name" json:"user_name"`
	UserFirstName string    `db:"user_firstname" json:"user_firstname"`
	UserLastName  string    `db:"user_lastname" json:"user_lastname"`
	CallDate      string    `db:"call_date" json:"call_date"` // YYYY-MM-DD
	CallTimestamp time.Time `db:"call_timestamp" json:"call_timestamp"`
	Duration      int       `db:"duration" json:"duration"`
	Confidence    float64   `db:"confidence" json:"confidence"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// LoanNumbers is a set of loan numbers kept sorted and free of duplicates.
// It is stored as a JSON array of strings; the empty set is "[]".
type LoanNumbers []string

// NewLoanNumbers builds a set from the given numbers, dropping blanks.
func NewLoanNumbers(numbers ...string) LoanNumbers {
	seen := make(map[string]struct{}, len(numbers))
	set := LoanNumbers{}
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		set = append(set, n)
	}
	sort.Strings(set)
	return set
}

// Contains reports whether number is in the set.
func (l LoanNumbers) Contains(number string) bool {
	i := sort.SearchStrings(l, number)
	return i < len(l) && l[i] == number
}

// Encode returns the JSON array form.
func (l LoanNumbers) Encode() string {
	if len(l) == 0 {
		return "[]"
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		// []string always marshals
		return "[]"
	}
	return string(b)
}

// DecodeLoanNumbers parses the stored JSON array. Empty text and null decode
// to the empty set.
func DecodeLoanNumbers(raw string) (LoanNumbers, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return LoanNumbers{}, nil
	}
	var numbers []string
	if err := json.Unmarshal([]byte(raw), &numbers); err != nil {
		return nil, fmt.Errorf("failed to decode loan numbers %q: %w", raw, err)
	}
	return NewLoanNumbers(numbers...), nil
}

// MarshalJSON never emits null.
func (l LoanNumbers) MarshalJSON() ([]byte, error) {
	return []byte(l.Encode()), nil
}

// UnmarshalJSON accepts null as the empty set.
func (l *LoanNumbers) UnmarshalJSON(data []byte) error {
	set, err := DecodeLoanNumbers(string(data))
	if err != nil {
		return err
	}
	*l = set
	return nil
}

// Value implements driver.Valuer.
func (l LoanNumbers) Value() (driver.Value, error) {
	return l.Encode(), nil
}

// Scan implements sql.Scanner.
func (l *LoanNumbers) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported loan numbers type %T", src)
	}
	set, err := DecodeLoanNumbers(raw)
	if err != nil {
		return err
	}
	*l = set
	return nil
}

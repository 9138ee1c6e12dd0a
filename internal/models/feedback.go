package models

import "time"

// Feedback types accepted for a call.
const (
	FeedbackConfirmed  = "confirmed"
	FeedbackIrrelevant = "irrelevant"
	FeedbackCorrected  = "corrected"
)

// CallFeedback is a reviewer's verdict on whether a call belongs to a loan.
// One row per call.
type CallFeedback struct {
	ID                  string    `db:"id" json:"id"`
	CallID              string    `db:"call_id" json:"call_id"`
	FeedbackType        string    `db:"feedback_type" json:"feedback_type"` // confirmed, irrelevant, corrected
	LoanNumber          string    `db:"loan_number" json:"loan_number,omitempty"`
	CorrectedLoanNumber string    `db:"corrected_loan_number" json:"corrected_loan_number,omitempty"`
	IsRelevant          bool      `db:"is_relevant" json:"is_relevant"`
	UserID              string    `db:"user_id" json:"user_id"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// FeedbackInput is the request body for creating or updating feedback.
type FeedbackInput struct {
	FeedbackType string `json:"feedback_type" binding:"required,oneof=confirmed irrelevant corrected"`
	LoanNumber   string `json:"loan_number"`
	UserID       string `json:"user_id"`
}

// OfficerAccuracy summarizes feedback on calls involving one phone number.
type OfficerAccuracy struct {
	PhoneNumber     string  `db:"phone_number" json:"phone_number"`
	RelevantCalls   int     `db:"relevant_calls" json:"relevant_calls"`
	IrrelevantCalls int     `db:"irrelevant_calls" json:"irrelevant_calls"`
	TotalCalls      int     `db:"total_calls" json:"total_calls"`
	AccuracyRate    float64 `db:"-" json:"accuracy_rate"` // percent
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"loanlens/internal/models"
)

var (
	// ErrFeedbackExists is returned by Create when the call already has feedback.
	ErrFeedbackExists = errors.New("feedback already exists for call")
	// ErrInvalidFeedback is returned for an unknown feedback type or a
	// correction without a loan number.
	ErrInvalidFeedback = errors.New("invalid feedback")
)

const feedbackColumns = `f.id, f.call_id, f.feedback_type, f.loan_number, f.corrected_loan_number,
	f.is_relevant, f.user_id, f.created_at, f.updated_at`

// FeedbackRepository persists reviewer feedback on calls.
type FeedbackRepository interface {
	Create(ctx context.Context, fb *models.CallFeedback) error
	Update(ctx context.Context, fb *models.CallFeedback) error
	Get(ctx context.Context, callID string) (*models.CallFeedback, error)
	ForCalls(ctx context.Context, callIDs []string) (map[string]models.CallFeedback, error)
	CallsCorrectedTo(ctx context.Context, loanNumber string) ([]models.Call, error)
	OfficerAccuracy(ctx context.Context, phoneNumber string) (*models.OfficerAccuracy, error)
}

type feedbackRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewFeedbackRepository(db *sqlx.DB, logger *zap.Logger) FeedbackRepository {
	return &feedbackRepository{db: db, logger: logger}
}

// NewFeedback validates input and builds the entity for callID.
func NewFeedback(callID string, in models.FeedbackInput) (*models.CallFeedback, error) {
	fb := &models.CallFeedback{
		CallID:       callID,
		FeedbackType: in.FeedbackType,
		UserID:       in.UserID,
	}
	if fb.UserID == "" {
		fb.UserID = "default_user"
	}
	switch in.FeedbackType {
	case models.FeedbackConfirmed:
		fb.IsRelevant = true
		fb.LoanNumber = in.LoanNumber
	case models.FeedbackIrrelevant:
		fb.IsRelevant = false
		fb.LoanNumber = in.LoanNumber
	case models.FeedbackCorrected:
		if in.LoanNumber == "" {
			return nil, ErrInvalidFeedback
		}
		fb.IsRelevant = true
		fb.CorrectedLoanNumber = in.LoanNumber
	default:
		return nil, ErrInvalidFeedback
	}
	return fb, nil
}

func (r *feedbackRepository) Create(ctx context.Context, fb *models.CallFeedback) error {
	now := time.Now().UTC()
	fb.ID = uuid.NewString()
	fb.CreatedAt = now
	fb.UpdatedAt = now

	query := `INSERT INTO call_feedback (id, call_id, feedback_type, loan_number, corrected_loan_number,
			is_relevant, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (call_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		fb.ID, fb.CallID, fb.FeedbackType, fb.LoanNumber, fb.CorrectedLoanNumber,
		fb.IsRelevant, fb.UserID, fb.CreatedAt, fb.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFeedbackExists
	}
	return nil
}

func (r *feedbackRepository) Update(ctx context.Context, fb *models.CallFeedback) error {
	fb.UpdatedAt = time.Now().UTC()
	query := `UPDATE call_feedback SET feedback_type = ?, loan_number = ?, corrected_loan_number = ?,
			is_relevant = ?, user_id = ?, updated_at = ?
		WHERE call_id = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		fb.FeedbackType, fb.LoanNumber, fb.CorrectedLoanNumber, fb.IsRelevant, fb.UserID, fb.UpdatedAt, fb.CallID)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}

	stored, err := r.Get(ctx, fb.CallID)
	if err != nil {
		return err
	}
	*fb = *stored
	return nil
}

func (r *feedbackRepository) Get(ctx context.Context, callID string) (*models.CallFeedback, error) {
	var fb models.CallFeedback
	query := `SELECT ` + feedbackColumns + ` FROM call_feedback f WHERE f.call_id = ?`
	if err := r.db.GetContext(ctx, &fb, r.db.Rebind(query), callID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &fb, nil
}

// ForCalls returns feedback keyed by call id for the calls that have any.
func (r *feedbackRepository) ForCalls(ctx context.Context, callIDs []string) (map[string]models.CallFeedback, error) {
	out := make(map[string]models.CallFeedback, len(callIDs))
	if len(callIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT `+feedbackColumns+` FROM call_feedback f WHERE f.call_id IN (?)`, callIDs)
	if err != nil {
		return nil, err
	}
	var rows []models.CallFeedback
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, fb := range rows {
		out[fb.CallID] = fb
	}
	return out, nil
}

// CallsCorrectedTo returns calls a reviewer reassigned to loanNumber.
func (r *feedbackRepository) CallsCorrectedTo(ctx context.Context, loanNumber string) ([]models.Call, error) {
	calls := []models.Call{}
	query := `SELECT ` + callColumns + `
		FROM call_feedback f
		JOIN calls c ON c.call_id = f.call_id
		WHERE f.corrected_loan_number = ?
		ORDER BY c.call_timestamp, c.call_id`
	if err := r.db.SelectContext(ctx, &calls, r.db.Rebind(query), loanNumber); err != nil {
		return nil, err
	}
	return calls, nil
}

// OfficerAccuracy counts feedback on calls where phoneNumber is a participant.
func (r *feedbackRepository) OfficerAccuracy(ctx context.Context, phoneNumber string) (*models.OfficerAccuracy, error) {
	acc := models.OfficerAccuracy{}
	query := `SELECT
			COALESCE(SUM(CASE WHEN f.is_relevant THEN 1 ELSE 0 END), 0) AS relevant_calls,
			COALESCE(SUM(CASE WHEN f.is_relevant THEN 0 ELSE 1 END), 0) AS irrelevant_calls,
			COUNT(f.call_id) AS total_calls
		FROM call_feedback f
		JOIN calls c ON c.call_id = f.call_id
		WHERE c.local_party = ? OR c.remote_party = ?`
	if err := r.db.GetContext(ctx, &acc, r.db.Rebind(query), phoneNumber, phoneNumber); err != nil {
		return nil, err
	}
	acc.PhoneNumber = phoneNumber
	if acc.TotalCalls > 0 {
		acc.AccuracyRate = float64(acc.RelevantCalls) / float64(acc.TotalCalls) * 100
	}
	return &acc, nil
}

package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"loanlens/internal/models"
)

// LoanIndexRepository maintains the loan_number_index table.
type LoanIndexRepository interface {
	// UpsertEntry inserts the entry unless (loan_number, call_id) already
	// exists. inserted is false for the no-op case.
	UpsertEntry(ctx context.Context, entry *models.LoanIndexEntry) (inserted bool, err error)
	EntriesForLoan(ctx context.Context, loanNumber string) ([]models.LoanIndexEntry, error)
	DirectCalls(ctx context.Context, loanNumber string) ([]models.Call, error)
	ListLoans(ctx context.Context, limit int) ([]models.LoanSummary, error)
	LoansForUser(ctx context.Context, userName string) ([]models.LoanSummary, error)
}

type loanIndexRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewLoanIndexRepository(db *sqlx.DB, logger *zap.Logger) LoanIndexRepository {
	return &loanIndexRepository{db: db, logger: logger}
}

func (r *loanIndexRepository) UpsertEntry(ctx context.Context, entry *models.LoanIndexEntry) (bool, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO loan_number_index (loan_number, call_id, user_name, user_firstname, user_lastname,
			call_date, call_timestamp, duration, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (loan_number, call_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		entry.LoanNumber, entry.CallID, entry.UserName, entry.UserFirstName, entry.UserLastName,
		entry.CallDate, entry.CallTimestamp.UTC(), entry.Duration, entry.Confidence, entry.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *loanIndexRepository) EntriesForLoan(ctx context.Context, loanNumber string) ([]models.LoanIndexEntry, error) {
	entries := []models.LoanIndexEntry{}
	query := `SELECT id, loan_number, call_id, user_name, user_firstname, user_lastname,
			call_date, call_timestamp, duration, confidence, created_at
		FROM loan_number_index
		WHERE loan_number = ?
		ORDER BY call_timestamp, call_id`
	if err := r.db.SelectContext(ctx, &entries, r.db.Rebind(query), loanNumber); err != nil {
		return nil, err
	}
	return entries, nil
}

// DirectCalls returns the calls indexed under loanNumber, oldest first.
func (r *loanIndexRepository) DirectCalls(ctx context.Context, loanNumber string) ([]models.Call, error) {
	calls := []models.Call{}
	query := `SELECT ` + callColumns + `
		FROM loan_number_index li
		JOIN calls c ON c.call_id = li.call_id
		WHERE li.loan_number = ?
		ORDER BY c.call_timestamp, c.call_id`
	if err := r.db.SelectContext(ctx, &calls, r.db.Rebind(query), loanNumber); err != nil {
		return nil, err
	}
	return calls, nil
}

func (r *loanIndexRepository) ListLoans(ctx context.Context, limit int) ([]models.LoanSummary, error) {
	loans := []models.LoanSummary{}
	query := `SELECT loan_number, COUNT(*) AS call_count,
			MIN(call_timestamp) AS first_call, MAX(call_timestamp) AS last_call
		FROM loan_number_index
		GROUP BY loan_number
		ORDER BY call_count DESC, loan_number
		LIMIT ?`
	if err := r.db.SelectContext(ctx, &loans, r.db.Rebind(query), limit); err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanIndexRepository) LoansForUser(ctx context.Context, userName string) ([]models.LoanSummary, error) {
	loans := []models.LoanSummary{}
	query := `SELECT loan_number, COUNT(*) AS call_count,
			MIN(call_timestamp) AS first_call, MAX(call_timestamp) AS last_call
		FROM loan_number_index
		WHERE user_name = ?
		GROUP BY loan_number
		ORDER BY call_count DESC, loan_number`
	if err := r.db.SelectContext(ctx, &loans, r.db.Rebind(query), userName); err != nil {
		return nil, err
	}
	return loans, nil
}

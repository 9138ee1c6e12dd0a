package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"loanlens/internal/models"
)

const callColumns = `c.call_id, c.call_timestamp, c.duration, c.local_party, c.remote_party,
	c.user_name, c.user_firstname, c.user_lastname, c.transcript_path, c.audio_path,
	c.loan_numbers, c.sentiment, c.summary, c.key_facts, c.indexed_at,
	c.process_attempts, c.last_error`

// CallRepository reads and annotates recorded calls.
type CallRepository interface {
	SaveCall(ctx context.Context, call *models.Call) error
	GetCall(ctx context.Context, callID string) (*models.Call, error)
	CallsByParticipant(ctx context.Context, party string, from, to time.Time) ([]models.Call, error)
	CallsMentioningLoan(ctx context.Context, loanNumber string) ([]models.Call, error)
	ListPendingIndex(ctx context.Context, limit, maxAttempts int) ([]models.Call, error)
	ListUntranscribed(ctx context.Context, limit, maxAttempts int) ([]models.Call, error)
	SetTranscript(ctx context.Context, callID, path string, durationSeconds int) error
	UpdateAnnotations(ctx context.Context, callID string, ann models.CallAnnotations) error
	MarkIndexed(ctx context.Context, callID string, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, callID string, cause error, at time.Time) (int, error)
	Ping(ctx context.Context) error
}

type callRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewCallRepository(db *sqlx.DB, logger *zap.Logger) CallRepository {
	return &callRepository{db: db, logger: logger}
}

// SaveCall inserts a call or refreshes its recording metadata. Annotations
// written by extraction are left alone.
func (r *callRepository) SaveCall(ctx context.Context, call *models.Call) error {
	query := `INSERT INTO calls (call_id, call_timestamp, duration, local_party, remote_party,
			user_name, user_firstname, user_lastname, transcript_path, audio_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (call_id) DO UPDATE SET
			call_timestamp = excluded.call_timestamp,
			duration = excluded.duration,
			local_party = excluded.local_party,
			remote_party = excluded.remote_party,
			user_name = excluded.user_name,
			user_firstname = excluded.user_firstname,
			user_lastname = excluded.user_lastname,
			transcript_path = CASE WHEN excluded.transcript_path <> '' THEN excluded.transcript_path ELSE calls.transcript_path END,
			audio_path = CASE WHEN excluded.audio_path <> '' THEN excluded.audio_path ELSE calls.audio_path END`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		call.CallID, call.Timestamp.UTC(), call.Duration, call.LocalParty, call.RemoteParty,
		call.UserName, call.UserFirstName, call.UserLastName, call.TranscriptPath, call.AudioPath)
	return err
}

func (r *callRepository) GetCall(ctx context.Context, callID string) (*models.Call, error) {
	var call models.Call
	query := `SELECT ` + callColumns + ` FROM calls c WHERE c.call_id = ?`
	err := r.db.GetContext(ctx, &call, r.db.Rebind(query), callID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &call, nil
}

// CallsByParticipant returns calls where party is on either side, within
// [from, to], oldest first.
func (r *callRepository) CallsByParticipant(ctx context.Context, party string, from, to time.Time) ([]models.Call, error) {
	calls := []models.Call{}
	query := `SELECT ` + callColumns + ` FROM calls c
		WHERE (c.local_party = ? OR c.remote_party = ?)
		AND c.call_timestamp >= ? AND c.call_timestamp <= ?
		ORDER BY c.call_timestamp, c.call_id`
	err := r.db.SelectContext(ctx, &calls, r.db.Rebind(query), party, party, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return calls, nil
}

// CallsMentioningLoan matches the stored loan_numbers JSON text directly,
// without going through the index.
func (r *callRepository) CallsMentioningLoan(ctx context.Context, loanNumber string) ([]models.Call, error) {
	calls := []models.Call{}
	query := `SELECT ` + callColumns + ` FROM calls c
		WHERE c.loan_numbers LIKE ?
		ORDER BY c.call_timestamp, c.call_id`
	err := r.db.SelectContext(ctx, &calls, r.db.Rebind(query), `%"`+loanNumber+`"%`)
	if err != nil {
		return nil, err
	}
	return calls, nil
}

// ListPendingIndex returns transcribed calls that have not been indexed
// yet and have failed fewer than maxAttempts times. Calls with the fewest
// failures come first, so a call that keeps failing cannot hold the head
// of the batch.
func (r *callRepository) ListPendingIndex(ctx context.Context, limit, maxAttempts int) ([]models.Call, error) {
	calls := []models.Call{}
	query := `SELECT ` + callColumns + ` FROM calls c
		WHERE c.transcript_path <> '' AND c.indexed_at IS NULL AND c.process_attempts < ?
		ORDER BY c.process_attempts, c.call_timestamp, c.call_id
		LIMIT ?`
	err := r.db.SelectContext(ctx, &calls, r.db.Rebind(query), maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return calls, nil
}

// ListUntranscribed returns calls with audio but no transcript, ordered
// like ListPendingIndex.
func (r *callRepository) ListUntranscribed(ctx context.Context, limit, maxAttempts int) ([]models.Call, error) {
	calls := []models.Call{}
	query := `SELECT ` + callColumns + ` FROM calls c
		WHERE c.audio_path <> '' AND c.transcript_path = '' AND c.process_attempts < ?
		ORDER BY c.process_attempts, c.call_timestamp, c.call_id
		LIMIT ?`
	err := r.db.SelectContext(ctx, &calls, r.db.Rebind(query), maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return calls, nil
}

// SetTranscript records a new transcript and clears the failure count, so
// the call gets a fresh set of indexing attempts.
func (r *callRepository) SetTranscript(ctx context.Context, callID, path string, durationSeconds int) error {
	var (
		res sql.Result
		err error
	)
	if durationSeconds > 0 {
		res, err = r.db.ExecContext(ctx, r.db.Rebind(`UPDATE calls SET transcript_path = ?, duration = ?,
			process_attempts = 0, last_error = '' WHERE call_id = ?`), path, durationSeconds, callID)
	} else {
		res, err = r.db.ExecContext(ctx, r.db.Rebind(`UPDATE calls SET transcript_path = ?,
			process_attempts = 0, last_error = '' WHERE call_id = ?`), path, callID)
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateAnnotations writes extraction results back to the call. Empty
// sentiment or summary keeps the stored value.
func (r *callRepository) UpdateAnnotations(ctx context.Context, callID string, ann models.CallAnnotations) error {
	keyFacts := ann.KeyFacts
	if keyFacts == "" {
		keyFacts = "{}"
	}
	query := `UPDATE calls SET
			loan_numbers = ?,
			sentiment = COALESCE(NULLIF(?, ''), sentiment),
			summary = COALESCE(NULLIF(?, ''), summary),
			key_facts = ?
		WHERE call_id = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), ann.LoanNumbers.Encode(), ann.Sentiment, ann.Summary, keyFacts, callID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkIndexed stamps indexed_at on a call that has none and reports whether
// this call made the transition. Concurrent or repeated passes over the
// same call see false.
func (r *callRepository) MarkIndexed(ctx context.Context, callID string, at time.Time) (bool, error) {
	query := `UPDATE calls SET indexed_at = ?, process_attempts = 0, last_error = ''
		WHERE call_id = ? AND indexed_at IS NULL`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), at.UTC(), callID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.GetCall(ctx, callID); err != nil {
		return false, err
	}
	return false, nil
}

// RecordFailure counts a failed processing pass against the call and
// returns its failure count.
func (r *callRepository) RecordFailure(ctx context.Context, callID string, cause error, at time.Time) (int, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := `UPDATE calls SET process_attempts = process_attempts + 1, last_error = ?, last_error_at = ?
		WHERE call_id = ?
		RETURNING process_attempts`
	var attempts int
	err := r.db.GetContext(ctx, &attempts, r.db.Rebind(query), msg, at.UTC(), callID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (r *callRepository) Ping(ctx context.Context) error {
	var one int
	return r.db.GetContext(ctx, &one, `SELECT 1`)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

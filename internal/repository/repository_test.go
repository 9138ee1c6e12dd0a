package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"loanlens/internal/models"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	logger := zap.NewNop()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "loanlens.db"), logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := MigrateDB(db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

var base = time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

func saveCall(t *testing.T, repo CallRepository, id string, at time.Time, local, remote string) {
	t.Helper()
	err := repo.SaveCall(context.Background(), &models.Call{
		CallID:         id,
		Timestamp:      at,
		Duration:       120,
		LocalParty:     local,
		RemoteParty:    remote,
		TranscriptPath: "/transcripts/" + id + ".txt",
	})
	if err != nil {
		t.Fatalf("save call %s: %v", id, err)
	}
}

func TestCallRepositoryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db, zap.NewNop())
	ctx := context.Background()

	saveCall(t, repo, "c1", base, "1001", "+15550001")

	ann := models.CallAnnotations{
		LoanNumbers: models.NewLoanNumbers("1225290972"),
		Sentiment:   models.SentimentPositive,
		KeyFacts:    `{"loan_amounts":[425000]}`,
	}
	if err := repo.UpdateAnnotations(ctx, "c1", ann); err != nil {
		t.Fatalf("update annotations: %v", err)
	}

	call, err := repo.GetCall(ctx, "c1")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if !call.Timestamp.Equal(base) {
		t.Fatalf("timestamp = %v, want %v", call.Timestamp, base)
	}
	loans, err := call.LoanNumbers()
	if err != nil {
		t.Fatalf("decode loans: %v", err)
	}
	if !loans.Contains("1225290972") || len(loans) != 1 {
		t.Fatalf("loan numbers = %v", loans)
	}
	if call.Sentiment != models.SentimentPositive {
		t.Fatalf("sentiment = %q", call.Sentiment)
	}

	// An empty sentiment keeps the stored one and an empty set is stored as [].
	if err := repo.UpdateAnnotations(ctx, "c1", models.CallAnnotations{}); err != nil {
		t.Fatalf("update annotations: %v", err)
	}
	call, err = repo.GetCall(ctx, "c1")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if call.LoanNumbersRaw != "[]" {
		t.Fatalf("loan_numbers = %q, want []", call.LoanNumbersRaw)
	}
	if call.Sentiment != models.SentimentPositive {
		t.Fatalf("sentiment overwritten: %q", call.Sentiment)
	}

	if _, err := repo.GetCall(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.MarkIndexed(ctx, "missing", base); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCallsByParticipantWindow(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db, zap.NewNop())
	ctx := context.Background()

	saveCall(t, repo, "early", base.Add(-72*time.Hour), "1001", "+15550001")
	saveCall(t, repo, "inside-remote", base, "1001", "+15550001")
	saveCall(t, repo, "inside-local", base.Add(time.Hour), "+15550001", "1002")
	saveCall(t, repo, "other", base.Add(2*time.Hour), "1003", "+15559999")
	saveCall(t, repo, "late", base.Add(72*time.Hour), "1001", "+15550001")

	calls, err := repo.CallsByParticipant(ctx, "+15550001", base.Add(-24*time.Hour), base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("calls by participant: %v", err)
	}
	if len(calls) != 2 || calls[0].CallID != "inside-remote" || calls[1].CallID != "inside-local" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestPendingAndTranscriptLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db, zap.NewNop())
	ctx := context.Background()

	if err := repo.SaveCall(ctx, &models.Call{CallID: "audio-only", Timestamp: base, AudioPath: "/audio/a.wav"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	saveCall(t, repo, "transcribed", base.Add(time.Minute), "1001", "+15550001")

	untranscribed, err := repo.ListUntranscribed(ctx, 10, 5)
	if err != nil || len(untranscribed) != 1 || untranscribed[0].CallID != "audio-only" {
		t.Fatalf("untranscribed = %+v, err %v", untranscribed, err)
	}

	if err := repo.SetTranscript(ctx, "audio-only", "/transcripts/audio-only.txt", 95); err != nil {
		t.Fatalf("set transcript: %v", err)
	}
	pending, err := repo.ListPendingIndex(ctx, 10, 5)
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending = %+v, err %v", pending, err)
	}
	if pending[0].Duration != 95 {
		t.Fatalf("duration not updated: %d", pending[0].Duration)
	}

	first, err := repo.MarkIndexed(ctx, "audio-only", base)
	if err != nil || !first {
		t.Fatalf("mark indexed = %v, %v", first, err)
	}
	again, err := repo.MarkIndexed(ctx, "audio-only", base.Add(time.Hour))
	if err != nil || again {
		t.Fatalf("second mark indexed = %v, %v", again, err)
	}
	call, err := repo.GetCall(ctx, "audio-only")
	if err != nil || call.IndexedAt == nil || !call.IndexedAt.Equal(base) {
		t.Fatalf("indexed_at = %v, err %v", call.IndexedAt, err)
	}
	pending, err = repo.ListPendingIndex(ctx, 10, 5)
	if err != nil || len(pending) != 1 || pending[0].CallID != "transcribed" {
		t.Fatalf("pending after mark = %+v, err %v", pending, err)
	}
}

func TestFailingCallsYieldTheBatch(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db, zap.NewNop())
	ctx := context.Background()

	saveCall(t, repo, "old", base, "1001", "+15550001")
	saveCall(t, repo, "new", base.Add(time.Hour), "1001", "+15550001")

	cause := errors.New("transcript unreadable")
	if n, err := repo.RecordFailure(ctx, "old", cause, base); err != nil || n != 1 {
		t.Fatalf("record failure = %d, %v", n, err)
	}
	pending, err := repo.ListPendingIndex(ctx, 1, 3)
	if err != nil || len(pending) != 1 || pending[0].CallID != "new" {
		t.Fatalf("failed call still heads the batch: %+v, err %v", pending, err)
	}

	for want := 2; want <= 3; want++ {
		if n, err := repo.RecordFailure(ctx, "old", cause, base); err != nil || n != want {
			t.Fatalf("record failure = %d, %v, want %d", n, err, want)
		}
	}
	call, err := repo.GetCall(ctx, "old")
	if err != nil || call.ProcessAttempts != 3 || call.LastError != cause.Error() {
		t.Fatalf("call = %+v, err %v", call, err)
	}
	pending, err = repo.ListPendingIndex(ctx, 10, 3)
	if err != nil || len(pending) != 1 || pending[0].CallID != "new" {
		t.Fatalf("exhausted call still pending: %+v, err %v", pending, err)
	}

	// A new transcript gives the call a fresh budget.
	if err := repo.SetTranscript(ctx, "old", "/transcripts/old-v2.txt", 0); err != nil {
		t.Fatalf("set transcript: %v", err)
	}
	pending, err = repo.ListPendingIndex(ctx, 10, 3)
	if err != nil || len(pending) != 2 || pending[0].CallID != "old" || pending[0].ProcessAttempts != 0 {
		t.Fatalf("pending after new transcript = %+v, err %v", pending, err)
	}

	if _, err := repo.RecordFailure(ctx, "missing", cause, base); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoanIndexUpsertIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	calls := NewCallRepository(db, zap.NewNop())
	index := NewLoanIndexRepository(db, zap.NewNop())
	ctx := context.Background()

	saveCall(t, calls, "c1", base, "1001", "+15550001")
	entry := &models.LoanIndexEntry{
		LoanNumber:    "1225290972",
		CallID:        "c1",
		UserName:      models.UnknownUser,
		CallDate:      "2025-06-02",
		CallTimestamp: base,
		Duration:      120,
		Confidence:    1,
	}

	inserted, err := index.UpsertEntry(ctx, entry)
	if err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = index.UpsertEntry(ctx, entry)
	if err != nil || inserted {
		t.Fatalf("second upsert: inserted=%v err=%v", inserted, err)
	}

	entries, err := index.EntriesForLoan(ctx, "1225290972")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	direct, err := index.DirectCalls(ctx, "1225290972")
	if err != nil || len(direct) != 1 || direct[0].CallID != "c1" {
		t.Fatalf("direct calls = %+v, err %v", direct, err)
	}

	loans, err := index.ListLoans(ctx, 10)
	if err != nil || len(loans) != 1 || loans[0].CallCount != 1 {
		t.Fatalf("loans = %+v, err %v", loans, err)
	}
	byUser, err := index.LoansForUser(ctx, models.UnknownUser)
	if err != nil || len(byUser) != 1 || byUser[0].LoanNumber != "1225290972" {
		t.Fatalf("loans for user = %+v, err %v", byUser, err)
	}
}

func TestCallsMentioningLoan(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db, zap.NewNop())
	ctx := context.Background()

	saveCall(t, repo, "c1", base, "1001", "+15550001")
	saveCall(t, repo, "c2", base.Add(time.Hour), "1001", "+15550001")
	if err := repo.UpdateAnnotations(ctx, "c1", models.CallAnnotations{LoanNumbers: models.NewLoanNumbers("1225290972")}); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if err := repo.UpdateAnnotations(ctx, "c2", models.CallAnnotations{LoanNumbers: models.NewLoanNumbers("12252909721")}); err != nil {
		t.Fatalf("annotate: %v", err)
	}

	calls, err := repo.CallsMentioningLoan(ctx, "1225290972")
	if err != nil || len(calls) != 1 || calls[0].CallID != "c1" {
		t.Fatalf("calls = %+v, err %v", calls, err)
	}
}

func TestFeedbackLifecycle(t *testing.T) {
	db := openTestDB(t)
	calls := NewCallRepository(db, zap.NewNop())
	repo := NewFeedbackRepository(db, zap.NewNop())
	ctx := context.Background()

	saveCall(t, calls, "c1", base, "1001", "+15550001")
	saveCall(t, calls, "c2", base.Add(time.Hour), "1002", "+15550001")

	fb, err := NewFeedback("c1", models.FeedbackInput{FeedbackType: models.FeedbackIrrelevant})
	if err != nil {
		t.Fatalf("new feedback: %v", err)
	}
	if err := repo.Create(ctx, fb); err != nil {
		t.Fatalf("create: %v", err)
	}
	if fb.ID == "" {
		t.Fatal("expected generated id")
	}
	dup, _ := NewFeedback("c1", models.FeedbackInput{FeedbackType: models.FeedbackConfirmed})
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrFeedbackExists) {
		t.Fatalf("expected ErrFeedbackExists, got %v", err)
	}

	corrected, err := NewFeedback("c1", models.FeedbackInput{FeedbackType: models.FeedbackCorrected, LoanNumber: "7654321"})
	if err != nil {
		t.Fatalf("new feedback: %v", err)
	}
	if err := repo.Update(ctx, corrected); err != nil {
		t.Fatalf("update: %v", err)
	}
	if corrected.ID != fb.ID || !corrected.IsRelevant {
		t.Fatalf("update did not keep identity: %+v", corrected)
	}

	moved, err := repo.CallsCorrectedTo(ctx, "7654321")
	if err != nil || len(moved) != 1 || moved[0].CallID != "c1" {
		t.Fatalf("corrected calls = %+v, err %v", moved, err)
	}

	missing, _ := NewFeedback("c2", models.FeedbackInput{FeedbackType: models.FeedbackConfirmed})
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	irrelevant, _ := NewFeedback("c2", models.FeedbackInput{FeedbackType: models.FeedbackIrrelevant})
	if err := repo.Create(ctx, irrelevant); err != nil {
		t.Fatalf("create: %v", err)
	}
	byCall, err := repo.ForCalls(ctx, []string{"c1", "c2", "c3"})
	if err != nil || len(byCall) != 2 {
		t.Fatalf("for calls = %+v, err %v", byCall, err)
	}

	acc, err := repo.OfficerAccuracy(ctx, "+15550001")
	if err != nil {
		t.Fatalf("accuracy: %v", err)
	}
	if acc.TotalCalls != 2 || acc.RelevantCalls != 1 || acc.IrrelevantCalls != 1 || acc.AccuracyRate != 50 {
		t.Fatalf("accuracy = %+v", acc)
	}
}

func TestNewFeedbackValidation(t *testing.T) {
	if _, err := NewFeedback("c1", models.FeedbackInput{FeedbackType: "maybe"}); !errors.Is(err, ErrInvalidFeedback) {
		t.Fatalf("expected ErrInvalidFeedback, got %v", err)
	}
	if _, err := NewFeedback("c1", models.FeedbackInput{FeedbackType: models.FeedbackCorrected}); !errors.Is(err, ErrInvalidFeedback) {
		t.Fatalf("expected ErrInvalidFeedback for correction without loan, got %v", err)
	}
}

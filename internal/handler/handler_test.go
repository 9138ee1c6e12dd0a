package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"loanlens/internal/extractor"
	"loanlens/internal/models"
	"loanlens/internal/network"
	"loanlens/internal/repository"
	"loanlens/internal/service"
	"loanlens/internal/timeline"
)

// fakeLoans is a LoanService with canned answers. err, when set, is
// returned by every method.
type fakeLoans struct {
	err        error
	lastWindow *time.Duration
	calls      []models.Call
}

func (f *fakeLoans) Ingest(_ context.Context, in service.IngestInput) (*service.IngestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.IngestResult{CallID: in.CallID, Indexed: []string{"1225290972"}}, nil
}

func (f *fakeLoans) ProcessCall(context.Context, *models.Call) (*service.IngestResult, error) {
	return nil, f.err
}

func (f *fakeLoans) Reindex(context.Context, string) (*service.IngestResult, error) {
	return nil, f.err
}

func (f *fakeLoans) LoanCalls(context.Context, string) ([]models.Call, error) {
	return f.calls, f.err
}

func (f *fakeLoans) Network(_ context.Context, loan string, window time.Duration) (*network.CallSet, error) {
	f.lastWindow = &window
	if f.err != nil {
		return nil, f.err
	}
	if window < 0 {
		return nil, network.ErrInvalidWindow
	}
	return &network.CallSet{LoanNumber: loan, Calls: []network.NetworkCall{}}, nil
}

func (f *fakeLoans) Timeline(_ context.Context, loan string, window *time.Duration) (*timeline.Timeline, error) {
	f.lastWindow = window
	if f.err != nil {
		return nil, f.err
	}
	tl := timeline.Assemble(loan, f.calls)
	return &tl, nil
}

func (f *fakeLoans) ListLoans(context.Context, int) ([]models.LoanSummary, error) {
	return []models.LoanSummary{{LoanNumber: "1225290972", CallCount: 2}}, f.err
}

func (f *fakeLoans) LoansForUser(context.Context, string) ([]models.LoanSummary, error) {
	return nil, f.err
}

func (f *fakeLoans) CallFacts(context.Context, string) (extractor.FactSet, error) {
	return extractor.FactSet{}, f.err
}

func (f *fakeLoans) Transcript(context.Context, string) (string, error) {
	return "", f.err
}

func (f *fakeLoans) GetFeedback(context.Context, string) (*models.CallFeedback, error) {
	return nil, f.err
}

func (f *fakeLoans) CreateFeedback(_ context.Context, callID string, in models.FeedbackInput) (*models.CallFeedback, error) {
	if f.err != nil {
		return nil, f.err
	}
	return repository.NewFeedback(callID, in)
}

func (f *fakeLoans) UpdateFeedback(context.Context, string, models.FeedbackInput) (*models.CallFeedback, error) {
	return nil, f.err
}

func (f *fakeLoans) OfficerAccuracy(context.Context, string) (*models.OfficerAccuracy, error) {
	return &models.OfficerAccuracy{}, f.err
}

func (f *fakeLoans) Health(context.Context) error { return f.err }

func newRouter(loans service.LoanService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	lh := NewLoanHandler(loans, zap.NewNop())
	ch := NewCallHandler(loans, zap.NewNop())
	r.GET("/health", lh.Health)
	r.GET("/api/loans", lh.ListLoans)
	r.GET("/api/loans/:loan/calls", lh.GetLoanCalls)
	r.GET("/api/loans/:loan/network", lh.GetNetwork)
	r.GET("/api/loans/:loan/timeline", lh.GetTimeline)
	r.POST("/api/transcripts", ch.IngestTranscript)
	r.GET("/api/calls/:id/transcript", ch.GetTranscript)
	r.POST("/api/calls/:id/feedback", ch.CreateFeedback)
	r.PUT("/api/calls/:id/feedback", ch.UpdateFeedback)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLookupFailureIsNotAnEmptySuccess(t *testing.T) {
	loans := &fakeLoans{err: &network.LookupFailure{Op: "direct calls", LoanNumber: "1225290972", Err: context.DeadlineExceeded}}
	r := newRouter(loans)

	for _, path := range []string{
		"/api/loans/1225290972/calls",
		"/api/loans/1225290972/network?window_days=30",
		"/api/loans/1225290972/timeline",
	} {
		w := do(r, http.MethodGet, path, "")
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: status = %d", path, w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["state"] != StateDataUnavailable {
			t.Fatalf("%s: body = %v", path, body)
		}
	}
}

func TestNetworkWindowParameter(t *testing.T) {
	loans := &fakeLoans{}
	r := newRouter(loans)

	tests := []struct {
		path   string
		status int
	}{
		{"/api/loans/1225290972/network", http.StatusBadRequest},
		{"/api/loans/1225290972/network?window_days=abc", http.StatusBadRequest},
		{"/api/loans/1225290972/network?window_days=-1", http.StatusBadRequest},
		{"/api/loans/12x/network?window_days=1", http.StatusBadRequest},
		{"/api/loans/1225290972/network?window_days=0", http.StatusOK},
		{"/api/loans/1225290972/network?window_days=1.5", http.StatusOK},
	}
	for _, tt := range tests {
		if w := do(r, http.MethodGet, tt.path, ""); w.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.path, w.Code, tt.status)
		}
	}
	if loans.lastWindow == nil || *loans.lastWindow != 36*time.Hour {
		t.Fatalf("window = %v", loans.lastWindow)
	}
}

func TestTimelineWindowIsOptional(t *testing.T) {
	loans := &fakeLoans{calls: []models.Call{
		{CallID: "c1", Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Summary: "loan approved"},
	}}
	r := newRouter(loans)

	w := do(r, http.MethodGet, "/api/loans/1225290972/timeline", "")
	if w.Code != http.StatusOK || loans.lastWindow != nil {
		t.Fatalf("status = %d, window = %v", w.Code, loans.lastWindow)
	}
	var body struct {
		Timeline timeline.Timeline `json:"timeline"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Timeline.TurningPoints) != 1 {
		t.Fatalf("timeline = %+v", body.Timeline)
	}

	w = do(r, http.MethodGet, "/api/loans/1225290972/timeline?window_days=7", "")
	if w.Code != http.StatusOK || loans.lastWindow == nil || *loans.lastWindow != 7*24*time.Hour {
		t.Fatalf("status = %d, window = %v", w.Code, loans.lastWindow)
	}
}

func TestIngestTranscript(t *testing.T) {
	r := newRouter(&fakeLoans{})

	if w := do(r, http.MethodPost, "/api/transcripts", `{"call_id":"c1"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing text: status = %d", w.Code)
	}
	w := do(r, http.MethodPost, "/api/transcripts", `{"call_id":"c1","text":"loan 1225290972","duration_seconds":12}`)
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), "1225290972") {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	r = newRouter(&fakeLoans{err: service.ErrCallNotFound})
	if w := do(r, http.MethodPost, "/api/transcripts", `{"call_id":"zz","text":"x"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown call: status = %d", w.Code)
	}
}

func TestFeedbackStatusCodes(t *testing.T) {
	body := `{"feedback_type":"corrected","loan_number":"1225290972"}`

	w := do(newRouter(&fakeLoans{}), http.MethodPost, "/api/calls/c1/feedback", body)
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"corrected_loan_number":"1225290972"`) {
		t.Fatalf("create: status = %d, body = %s", w.Code, w.Body.String())
	}

	if w := do(newRouter(&fakeLoans{}), http.MethodPost, "/api/calls/c1/feedback", `{"feedback_type":"maybe"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid type: status = %d", w.Code)
	}
	if w := do(newRouter(&fakeLoans{err: repository.ErrFeedbackExists}), http.MethodPost, "/api/calls/c1/feedback", body); w.Code != http.StatusConflict {
		t.Fatalf("duplicate: status = %d", w.Code)
	}
	if w := do(newRouter(&fakeLoans{err: repository.ErrNotFound}), http.MethodPut, "/api/calls/c1/feedback", body); w.Code != http.StatusNotFound {
		t.Fatalf("update missing: status = %d", w.Code)
	}
	if w := do(newRouter(&fakeLoans{err: repository.ErrInvalidFeedback}), http.MethodPut, "/api/calls/c1/feedback", body); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid feedback: status = %d", w.Code)
	}
}

func TestHealthAndUnknownErrors(t *testing.T) {
	if w := do(newRouter(&fakeLoans{}), http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health: status = %d", w.Code)
	}
	if w := do(newRouter(&fakeLoans{err: errors.New("db gone")}), http.MethodGet, "/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: status = %d", w.Code)
	}
	if w := do(newRouter(&fakeLoans{err: errors.New("boom")}), http.MethodGet, "/api/loans", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("list loans: status = %d", w.Code)
	}
	if w := do(newRouter(&fakeLoans{}), http.MethodGet, "/api/calls/c1/transcript", ""); w.Code != http.StatusNotFound {
		t.Fatalf("empty transcript: status = %d", w.Code)
	}
}

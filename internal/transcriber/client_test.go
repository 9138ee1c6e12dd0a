package transcriber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/transcribe" {
			http.NotFound(w, r)
			return
		}
		var req TranscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.AudioPath != "/audio/c1.wav" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "loan 1225290972 approved", "duration_seconds": 93.5})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	res, err := c.Transcribe(context.Background(), "c1", "/audio/c1.wav")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.CallID != "c1" || res.Text != "loan 1225290972 approved" || res.DurationSeconds != 93.5 {
		t.Fatalf("result = %+v", res)
	}
}

func TestTranscribeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, zap.NewNop()).Transcribe(context.Background(), "c1", "/a.wav")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","model_loaded":true,"device":"cuda"}`))
	}))
	defer srv.Close()

	h, err := NewClient(srv.URL, 0, zap.NewNop()).HealthCheck(context.Background())
	if err != nil || !h.ModelLoaded || h.Device != "cuda" {
		t.Fatalf("health = %+v, %v", h, err)
	}
}

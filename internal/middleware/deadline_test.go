package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDeadlineDisabled(t *testing.T) {
	handler := Deadline(0)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestDeadlineFastHandlerCompletes(t *testing.T) {
	handler := Deadline(time.Second)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestDeadlineExceededReturns504(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
			t.Error("handler context never cancelled")
		}
	})

	handler := Deadline(20 * time.Millisecond)(slow)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/listings", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}

	var body struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body.ErrorCode != "LISTING_DEADLINE_EXCEEDED" {
		t.Errorf("error_code = %q, want LISTING_DEADLINE_EXCEEDED", body.ErrorCode)
	}
}

func TestDeadlineDoesNotStompStartedResponse(t *testing.T) {
	started := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "partial")
		<-r.Context().Done()
	})

	handler := Deadline(20 * time.Millisecond)(started)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (already written)", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Errorf("body = %q, want the partial response untouched", rec.Body.String())
	}
}

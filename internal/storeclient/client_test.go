package storeclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "wrapped", body: `{"success":true,"data":{"id":"s1","name":"n"}}`, want: "s1"},
		{name: "bare", body: `{"id":"s2","name":"n"}`, want: "s2"},
		{name: "wrapped null data", body: `{"success":true,"data":null}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Session
			if err := decode([]byte(tt.body), &s); err != nil {
				t.Fatalf("decode() error = %v", err)
			}
			if s.ID != tt.want {
				t.Errorf("ID = %q, want %q", s.ID, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"503", &APIError{Status: 503}, true},
		{"429", &APIError{Status: 429}, true},
		{"400", &APIError{Status: 400}, false},
		{"404", &APIError{Status: 404}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"transport", &transportError{err: errors.New("connection reset")}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAPIErrorBodyIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", maxErrorBody*2)))
	}))
	defer srv.Close()

	err := New(srv.URL, time.Second).Health(context.Background())
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if ae.Status != http.StatusBadGateway || len(ae.Body) != maxErrorBody {
		t.Errorf("status %d body %d bytes", ae.Status, len(ae.Body))
	}
	if !Retryable(err) {
		t.Error("502 should be retryable")
	}
}

func TestTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, time.Second).PostAlert(context.Background(), models.Alert{ID: "a"})
	if err == nil || !Retryable(err) {
		t.Errorf("closed server should give a retryable error, got %v", err)
	}
	if IsAPIError(err) {
		t.Error("transport failure is not an APIError")
	}
}

func TestSessionFilePathEscapes(t *testing.T) {
	got := SessionFilePath("s 1", "/results/a b.json")
	want := "/sessions/s%201/files/results/a%20b.json"
	if got != want {
		t.Errorf("SessionFilePath() = %q, want %q", got, want)
	}
}

func TestHeadersAndListFiltering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("workflow_id") != "build" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"success":true,"data":[
			{"test_name":"unit","kind":"unit","workflow_id":"build","success":true},
			{"experiment":{"id":"e1"},"outcome":"recovered"}
		]}`))
	}))
	defer srv.Close()

	results, err := New(srv.URL, time.Second, WithHeader("X-Api-Key", "k")).ListTestResults(context.Background(), "build")
	if err != nil {
		t.Fatalf("ListTestResults() error = %v", err)
	}
	if len(results) != 1 || results[0].Name != "unit" {
		t.Errorf("chaos documents should be filtered out, got %+v", results)
	}
}

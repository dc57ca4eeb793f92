package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datarill/datarill/resilience"
)

func TestClientPostJSON(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resp, err := client.PostJSON(context.Background(), "/hook", map[string]any{"one": 1})
	if err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if !resp.IsSuccess() {
		t.Errorf("expected success, got %d", resp.StatusCode)
	}
	if received["one"] != float64(1) {
		t.Errorf("server received %v", received)
	}
}

func TestClientClassifiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, _ := New(Config{BaseURL: srv.URL})
	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}

	var clientErr *Error
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if clientErr.Code != ErrCodeServer {
		t.Errorf("expected server code, got %s", clientErr.Code)
	}
	if !clientErr.Retryable {
		t.Error("5xx should be retryable")
	}
}

func TestClientClassifiesClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, _ := New(Config{BaseURL: srv.URL})
	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})

	var clientErr *Error
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if clientErr.Retryable {
		t.Error("4xx should not be retryable")
	}
}

func TestClientConnectionError(t *testing.T) {
	client, _ := New(Config{Timeout: time.Second})
	_, err := client.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "http://127.0.0.1:1/unreachable",
	})
	var clientErr *Error
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if clientErr.Code != ErrCodeConnection {
		t.Errorf("expected connection code, got %s", clientErr.Code)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	retry := &resilience.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		RetryIf:        IsRetryable,
	}
	client, _ := New(Config{BaseURL: srv.URL, Retry: retry})

	resp, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if !resp.IsSuccess() {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		wantNil   bool
		retryable bool
	}{
		{200, true, false},
		{201, true, false},
		{400, false, false},
		{404, false, false},
		{429, false, true},
		{500, false, true},
		{502, false, true},
	}

	for _, tc := range tests {
		err := ClassifyStatusCode(tc.status, nil)
		if tc.wantNil {
			if err != nil {
				t.Errorf("status %d: expected nil, got %v", tc.status, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("status %d: expected error", tc.status)
			continue
		}
		if err.Retryable != tc.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, err.Retryable, tc.retryable)
		}
	}
}

package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRunHealthCheckSucceedsOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	addr := ":" + strings.TrimPrefix(srv.URL, "http://127.0.0.1:")
	if err := runHealthCheck(addr); err != nil {
		t.Fatalf("runHealthCheck() error: %v", err)
	}
}

func TestRunHealthCheckFailsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	addr := ":" + strings.TrimPrefix(srv.URL, "http://127.0.0.1:")
	if err := runHealthCheck(addr); err == nil {
		t.Fatal("expected error for 503 response, got nil")
	}
}

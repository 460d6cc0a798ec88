package research

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestResearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("expected bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Sentiment: bullish"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "sonar", 5*time.Second, nil)
	resp := c.Research(context.Background(), "AAPL outlook")
	if !resp.Success || resp.Answer != "Sentiment: bullish" {
		t.Errorf("Expected success, got %+v", resp)
	}
}

func TestResearch_NotConfigured(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", "sonar", time.Second, nil)
	resp := c.Research(context.Background(), "x")
	if resp.Success || !strings.Contains(resp.Error, "unavailable") {
		t.Errorf("Expected unavailable, got %+v", resp)
	}
}

func TestResearch_BreakerOpensAfterFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "sonar", 5*time.Second, nil)
	for i := 0; i < 5; i++ {
		if resp := c.Research(context.Background(), "x"); resp.Success {
			t.Fatalf("Expected failure on call %d", i)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("Expected breaker to stop calls after 3 failures, server saw %d", got)
	}
}

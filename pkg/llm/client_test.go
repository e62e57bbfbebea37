package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"persona-chat-go/internal/config"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string, retries int, timeout time.Duration) *anthropicClient {
	return &anthropicClient{
		cfg:        config.LLMConfig{BaseURL: url, APIKey: "k", APIVersion: "2023-06-01", MaxRetries: retries},
		model:      "test-model",
		client:     &http.Client{},
		timeout:    timeout,
		retryDelay: time.Millisecond,
	}
}

func TestAskReturnsTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System != "be kind" || req.MaxTokens != 64 || len(req.Messages) != 1 {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hello"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1, time.Second)
	text, tokens := c.Ask(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, 64, "be kind")
	if text != "hello" || tokens != 15 {
		t.Fatalf("Ask = (%q, %d), want (hello, 15)", text, tokens)
	}
}

func TestAskMissingUsageCountsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	text, tokens := newTestClient(srv.URL, 0, time.Second).Ask(context.Background(), nil, 10, "")
	if text != "ok" || tokens != 0 {
		t.Fatalf("Ask = (%q, %d), want (ok, 0)", text, tokens)
	}
}

func TestAskRetriesTransientOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"second"}],"usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	text, tokens := newTestClient(srv.URL, 1, time.Second).Ask(context.Background(), nil, 10, "")
	if text != "second" || tokens != 7 {
		t.Fatalf("Ask = (%q, %d), want (second, 7)", text, tokens)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestAskDoesNotRetryRejected(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := newTestClient(srv.URL, 3, time.Second).AskDetailed(context.Background(), nil, 10, "")
	if r.Text != "" || r.Tokens != 0 || r.Failure != FailureRejected {
		t.Fatalf("AskDetailed = %+v, want rejected failure", r)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestAskFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		failure Failure
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, FailureRateLimited},
		{"overloaded", 529, `{}`, FailureOverloaded},
		{"malformed", http.StatusOK, `not json`, FailureMalformed},
		{"no text block", http.StatusOK, `{"content":[{"type":"tool_use"}],"usage":{"input_tokens":3,"output_tokens":4}}`, FailureEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			r := newTestClient(srv.URL, 0, time.Second).AskDetailed(context.Background(), nil, 10, "")
			if r.Text != "" || r.Tokens != 0 || r.Failure != tt.failure {
				t.Fatalf("AskDetailed = %+v, want failure %q", r, tt.failure)
			}
		})
	}
}

func TestAskTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	r := newTestClient(srv.URL, 1, 50*time.Millisecond).AskDetailed(context.Background(), nil, 10, "")
	if r.Failure != FailureTimeout || r.Text != "" || r.Tokens != 0 {
		t.Fatalf("AskDetailed = %+v, want timeout failure", r)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("Ask blocked for %v", time.Since(start))
	}
}

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
)

type roundTrip func(*http.Request) *http.Response

func (rt roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req), nil
}

// echoServer answers every text with one token per whitespace field.
func echoServer(t *testing.T, failFirst int32) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= failFirst {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req annotateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := annotateResponse{Docs: make([][]annotate.Token, len(req.Texts))}
		for i, text := range req.Texts {
			for _, f := range strings.Fields(text) {
				resp.Docs[i] = append(resp.Docs[i], annotate.Token{Text: f, Lemma: f, IsASCII: true})
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAnnotateSuccess(t *testing.T) {
	srv, calls := echoServer(t, 0)
	client := &Client{URL: srv.URL, APIKey: "secret"}

	docs, err := client.Annotate(context.Background(), []string{"hello world", "again"})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if len(docs) != 2 || len(docs[0]) != 2 || len(docs[1]) != 1 {
		t.Fatalf("unexpected docs: %+v", docs)
	}
	if docs[0][1].Lemma != "world" || docs[1][0].Lemma != "again" {
		t.Fatalf("order not preserved: %+v", docs)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestAnnotateRetries(t *testing.T) {
	srv, calls := echoServer(t, 2)
	client := &Client{URL: srv.URL, APIKey: "secret", MaxAttempts: 3, InitialDelay: time.Millisecond}

	if _, err := client.Annotate(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestAnnotateGivesUp(t *testing.T) {
	srv, calls := echoServer(t, 10)
	client := &Client{URL: srv.URL, MaxAttempts: 2, InitialDelay: time.Millisecond}

	if _, err := client.Annotate(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestAnnotateClientErrorNotRetried(t *testing.T) {
	var calls int32
	client := &Client{
		URL:          "https://annotator.test/annotate",
		InitialDelay: time.Millisecond,
		HTTPClient: &http.Client{
			Transport: roundTrip(func(req *http.Request) *http.Response {
				atomic.AddInt32(&calls, 1)
				return &http.Response{
					StatusCode: http.StatusBadRequest,
					Status:     "400 Bad Request",
					Body:       io.NopCloser(strings.NewReader("bad texts")),
					Header:     make(http.Header),
				}
			}),
		},
	}
	_, err := client.Annotate(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "bad texts") {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestAnnotateServiceError(t *testing.T) {
	client := &Client{
		URL:         "https://annotator.test/annotate",
		MaxAttempts: 1,
		HTTPClient: &http.Client{
			Transport: roundTrip(func(req *http.Request) *http.Response {
				return &http.Response{
					StatusCode: 200,
					Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"model not loaded"}}`)),
					Header:     make(http.Header),
				}
			}),
		},
	}
	if _, err := client.Annotate(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAnnotateMismatch(t *testing.T) {
	client := &Client{
		URL: "https://annotator.test/annotate",
		HTTPClient: &http.Client{
			Transport: roundTrip(func(req *http.Request) *http.Response {
				return &http.Response{
					StatusCode: 200,
					Body:       io.NopCloser(strings.NewReader(`{"docs":[[]]}`)),
					Header:     make(http.Header),
				}
			}),
		},
	}
	_, err := client.Annotate(context.Background(), []string{"a", "b"})
	if !errors.Is(err, internalerr.ErrAnnotationMismatch) {
		t.Fatalf("err = %v, want ErrAnnotationMismatch", err)
	}
}

func TestAnnotateRequiresURL(t *testing.T) {
	_, err := (&Client{}).Annotate(context.Background(), []string{"a"})
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestAnnotateSplitsAcrossWorkers(t *testing.T) {
	srv, calls := echoServer(t, 0)
	client := &Client{URL: srv.URL, APIKey: "secret", Workers: 3}

	texts := []string{"a", "b b", "c c c", "d", "e e", "f", "g"}
	docs, err := client.Annotate(context.Background(), texts)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
	if len(docs) != len(texts) {
		t.Fatalf("docs = %d, want %d", len(docs), len(texts))
	}
	for i, text := range texts {
		fields := strings.Fields(text)
		if len(docs[i]) != len(fields) || docs[i][0].Text != fields[0] {
			t.Errorf("doc %d = %+v, want tokens of %q", i, docs[i], text)
		}
	}
}

func TestAnnotateWorkersCappedByBatch(t *testing.T) {
	srv, calls := echoServer(t, 0)
	client := &Client{URL: srv.URL, APIKey: "secret", Workers: 8}

	if _, err := client.Annotate(context.Background(), []string{"one", "two"}); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

// Package remote annotates text through an HTTP annotation service.
//
// Wire format: POST {"texts": [...]} returns {"docs": [[token, ...], ...]}
// with one token list per text, in order. A service failure may instead
// return {"error": {"message": "..."}}.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cognicore/wordfreq/internal/logging"
	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
)

// Client calls a batch annotation endpoint. It implements annotate.Annotator.
type Client struct {
	URL    string
	APIKey string

	// MaxAttempts bounds retries of failed calls (default 3). Client errors
	// other than 429 are not retried.
	MaxAttempts  int
	InitialDelay time.Duration

	// Workers splits a batch into that many concurrent requests (default 1).
	Workers int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

var _ annotate.Annotator = (*Client)(nil)

type annotateRequest struct {
	Texts []string `json:"texts"`
}

type annotateResponse struct {
	Docs  [][]annotate.Token `json:"docs"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// permanentError stops the retry loop.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Annotate splits texts into up to Workers contiguous parts, sends one
// request per part concurrently and returns one token list per text, in order.
func (c *Client) Annotate(ctx context.Context, texts []string) ([][]annotate.Token, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("remote annotator: url required: %w", internalerr.ErrInvalidConfig)
	}
	if len(texts) == 0 {
		return [][]annotate.Token{}, nil
	}
	parts := min(max(c.Workers, 1), len(texts))
	if parts == 1 {
		return c.annotateBatch(ctx, texts)
	}

	out := make([][]annotate.Token, len(texts))
	size := (len(texts) + parts - 1) / parts
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(texts); lo += size {
		hi := min(lo+size, len(texts))
		g.Go(func() error {
			docs, err := c.annotateBatch(gctx, texts[lo:hi])
			if err != nil {
				return err
			}
			copy(out[lo:hi], docs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) annotateBatch(ctx context.Context, texts []string) ([][]annotate.Token, error) {
	body, err := json.Marshal(annotateRequest{Texts: texts})
	if err != nil {
		return nil, err
	}

	var docs [][]annotate.Token
	err = c.retry(ctx, func() error {
		var err error
		docs, err = c.send(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(docs) != len(texts) {
		return nil, fmt.Errorf("remote annotator returned %d docs for %d texts: %w",
			len(docs), len(texts), internalerr.ErrAnnotationMismatch)
	}
	return docs, nil
}

func (c *Client) send(ctx context.Context, body []byte) ([][]annotate.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("remote annotator: %s: %s", resp.Status, bytes.TrimSpace(msg))
		if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &permanentError{err}
		}
		return nil, err
	}

	var payload annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("remote annotator: decode response: %w", err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("remote annotator error: %s", payload.Error.Message)
	}
	return payload.Docs, nil
}

// retry runs fn with exponential backoff and jitter.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	initial := c.InitialDelay
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	logger := logging.Component(c.Logger, "remote-annotator")

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay := backoff(attempt, initial)
		logger.Warn("annotation failed, retrying", "attempt", attempt, "max_attempts", attempts, "error", lastErr, "next_delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

func backoff(attempt int, initial time.Duration) time.Duration {
	const maxDelay = 10 * time.Second
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	d += d * 0.1 * (2*rand.Float64() - 1)
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	return time.Duration(d)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FunctionSink invokes functions as HTTP POSTs to <baseURL>/<functionArn>.
// Throttling and 5xx responses are retried with exponential backoff;
// other 4xx responses fail immediately.
type FunctionSink struct {
	baseURL    string
	client     *http.Client
	maxElapsed time.Duration
}

// FunctionOption configures a FunctionSink.
type FunctionOption func(*FunctionSink)

// WithHTTPClient sets the client used for invocations.
func WithHTTPClient(c *http.Client) FunctionOption {
	return func(s *FunctionSink) {
		s.client = c
	}
}

// WithMaxElapsed bounds the total retry time.
func WithMaxElapsed(d time.Duration) FunctionOption {
	return func(s *FunctionSink) {
		s.maxElapsed = d
	}
}

// NewFunctionSink creates a sink posting to baseURL.
func NewFunctionSink(baseURL string, opts ...FunctionOption) *FunctionSink {
	s := &FunctionSink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		maxElapsed: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FunctionSink) Invoke(ctx context.Context, r Resolved) error {
	endpoint := s.baseURL + "/" + url.PathEscape(r.Target)

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(r.Payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Action-Execution-Id", r.ExecutionID)

		resp, err := s.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("function returned status %d: %s", resp.StatusCode, string(body))
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("function returned status %d: %s", resp.StatusCode, string(body)))
		}
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 100 * time.Millisecond
	expBackoff.MaxElapsedTime = s.maxElapsed

	return backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), func(err error, wait time.Duration) {
		slog.Warn("function invocation failed, retrying",
			"function", r.Target,
			"execution_id", r.ExecutionID,
			"error", err,
			"retry_in", wait,
		)
	})
}

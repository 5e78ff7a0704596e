// Package httpretry wraps an HTTP client with bounded retries for the
// matchctl admin calls: exponential backoff with full jitter on 429 and
// 5xx, immediate return on anything the caller must handle itself.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// HTTPDoer executes one HTTP request. *http.Client and *RetryClient
// both satisfy it, so retries compose with any transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transient failures with exponential backoff and
// full jitter.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryClient wraps client with maxRetries retry attempts after the
// initial request. A nil client gets a 30s-timeout http.Client;
// maxRetries <= 0 defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
}

// Do executes the request, retrying network errors and retryable
// statuses (429, 500, 502, 503, 504). Client errors and context
// cancellation return immediately. The final attempt's response comes
// back as-is so the caller can read the body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
		} else if !retryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		} else {
			// Drain so the connection can be reused for the retry.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("httpretry: status %d from %s", resp.StatusCode, req.URL.Host)
		}

		if attempt == rc.maxRetries {
			break
		}
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("httpretry: reset request body: %w", err)
			}
			req.Body = body
		}
		delay := rc.delay(attempt+1, resp)
		log.Printf("httpretry: attempt %d/%d for %s %s%s in %s",
			attempt+1, rc.maxRetries, req.Method, req.URL.Host, req.URL.Path, delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// delay computes the wait before retry attempt n. A Retry-After header
// on a 429 wins over the computed backoff; otherwise full jitter over
// min(maxDelay, baseDelay * 2^(n-1)), floored at 100ms.
func (rc *RetryClient) delay(n int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			d := time.Duration(secs) * time.Second
			if d > rc.maxDelay {
				d = rc.maxDelay
			}
			return d
		}
	}
	ceiling := float64(rc.baseDelay) * math.Pow(2, float64(n-1))
	if ceiling > float64(rc.maxDelay) {
		ceiling = float64(rc.maxDelay)
	}
	jittered := time.Duration(rand.Float64() * ceiling)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

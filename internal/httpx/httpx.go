// Package httpx is the shared transport layer for the gateway's thin HTTP
// clients. Every failure is classified into a small stable taxonomy so
// callers can branch without string-matching, and repeated failures of the
// same kind are logged at most once a minute.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

// FailKind classifies a client call failure.
type FailKind string

const (
	FailTimeout     FailKind = "timeout"
	FailUnreachable FailKind = "unreachable"
	FailBadStatus   FailKind = "bad_status"
	FailBadJSON     FailKind = "bad_json"
)

const (
	defaultAttempts = 2
	defaultBackoff  = 150 * time.Millisecond
	logEvery        = 60 * time.Second

	// bodySnippetLen caps how much of an error body gets into logs.
	bodySnippetLen = 200
)

// Error is the discriminated failure outcome of a client call.
type Error struct {
	Kind    FailKind
	Status  int // HTTP status for FailBadStatus, else 0
	Details string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (http %d): %s", e.Kind, e.Status, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Details)
}

// KindOf extracts the failure kind, defaulting to unreachable for errors
// that did not come from this package.
func KindOf(err error) FailKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return FailUnreachable
}

// StatusOf returns the HTTP status behind a bad_status failure, else 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Client wraps one upstream base URL with timeouts, bounded retry, and
// rate-limited failure logging.
type Client struct {
	name string
	http *http.Client
	log  *logging.ZapEventLogger

	attempts int
	backoff  time.Duration

	mu      sync.Mutex
	lastLog map[FailKind]time.Time
}

// New builds a client. name tags log lines; timeout bounds each attempt.
func New(name string, timeout time.Duration) *Client {
	return &Client{
		name:     name,
		http:     &http.Client{Timeout: timeout},
		log:      logging.Logger("gateway/client/" + name),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		lastLog:  make(map[FailKind]time.Time),
	}
}

// JSON issues a bodyless request (the CAS-daemon API is POST-with-query,
// the indexer and chain-REST are GET) and decodes a 2xx JSON response into
// out. Transport-level failures are retried once after a short backoff;
// HTTP error statuses are not retried. out may be nil to discard the body.
func (c *Client) JSON(ctx context.Context, method, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return c.fail(FailTimeout, ctx.Err().Error())
			}
		}
		err := c.once(ctx, method, url, out)
		if err == nil {
			return nil
		}
		lastErr = err
		kind := KindOf(err)
		if kind != FailTimeout && kind != FailUnreachable {
			return err
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return c.fail(FailUnreachable, err.Error())
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLen))
		return c.failStatus(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(FailBadJSON, err.Error())
	}
	return nil
}

// Do issues a fully formed request exactly once and classifies transport
// failures and error statuses. Single-shot callers (the streaming DAG
// import) use this; the response body is the caller's to close.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLen))
		resp.Body.Close()
		return nil, c.failStatus(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

func (c *Client) classifyTransport(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return c.fail(FailTimeout, err.Error())
	}
	return c.fail(FailUnreachable, err.Error())
}

func (c *Client) fail(kind FailKind, details string) *Error {
	e := &Error{Kind: kind, Details: details}
	c.logFailure(e)
	return e
}

func (c *Client) failStatus(status int, details string) *Error {
	e := &Error{Kind: FailBadStatus, Status: status, Details: details}
	c.logFailure(e)
	return e
}

// logFailure writes at most one warning per kind per minute; everything
// else drops to debug so a flapping upstream cannot flood the log.
func (c *Client) logFailure(e *Error) {
	c.mu.Lock()
	last, seen := c.lastLog[e.Kind]
	now := time.Now()
	throttled := seen && now.Sub(last) < logEvery
	if !throttled {
		c.lastLog[e.Kind] = now
	}
	c.mu.Unlock()

	if throttled {
		c.log.Debugw("upstream call failed", "kind", e.Kind, "status", e.Status, "details", e.Details)
		return
	}
	c.log.Warnw("upstream call failed", "kind", e.Kind, "status", e.Status, "details", e.Details)
}

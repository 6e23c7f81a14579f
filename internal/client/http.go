// Package client holds the HTTP clients for the services the booking
// flow talks to synchronously: seats, orders, payments and trips.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/utils"
)

// Options are the transport limits applied to every call.
type Options struct {
	Timeout  time.Duration // per attempt
	Attempts int
	Backoff  time.Duration // first retry delay, doubled after each attempt
}

// StatusError is returned when a service answers with a non-2xx status.
type StatusError struct {
	Method  string
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Message)
}

// statusCode returns the HTTP status carried by err, or 0 for transport
// failures.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

type request struct {
	method string
	path   string
	body   interface{}
	out    interface{}
	header map[string]string
	once   bool // never retried
}

type httpClient struct {
	base     string
	hc       *http.Client
	attempts int
	delay    time.Duration
	logger   *logrus.Logger
}

func newHTTPClient(baseURL string, opts Options, logger *logrus.Logger) *httpClient {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &httpClient{
		base:     strings.TrimRight(baseURL, "/"),
		hc:       &http.Client{Timeout: opts.Timeout},
		attempts: opts.Attempts,
		delay:    opts.Backoff,
		logger:   logger,
	}
}

// do sends r and decodes a successful response into r.out.  Transport
// errors and 5xx answers are retried with exponential backoff.
func (c *httpClient) do(ctx context.Context, r request) error {
	var payload []byte
	if r.body != nil {
		var err error
		if payload, err = json.Marshal(r.body); err != nil {
			return fmt.Errorf("encode %s %s: %w", r.method, r.path, err)
		}
	}
	retries := c.attempts - 1
	if r.once {
		retries = 0
	}
	var last error
	attempt := 0
	op := func() error {
		attempt++
		last = c.send(ctx, r, payload)
		if last != nil && !retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}
	notify := func(err error, next time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method":   r.method,
			"path":     r.path,
			"attempt":  attempt,
			"retry_in": next.String(),
		}).Warn("Service call failed, retrying")
	}
	err := backoff.RetryNotify(op, utils.NewBackOff(ctx, c.delay, retries), notify)
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil && last != nil && !errors.Is(last, cerr) {
		return errors.Join(last, cerr)
	}
	return err
}

func (c *httpClient) send(ctx context.Context, r request, payload []byte) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	url := c.base + r.path
	req, err := http.NewRequestWithContext(ctx, r.method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := utils.TokenFromContext(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: r.method, URL: url, Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if r.out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, url, err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	code := statusCode(err)
	return code == 0 || code >= 500
}

// errorMessage extracts {"error": "..."} from a response body, falling
// back to the trimmed text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

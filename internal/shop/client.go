// Package shop is the destination catalog API client: a JSON-over-HTTP
// transport with bounded retry, the paginated read surface, the per-item
// write endpoints, and the asynchronous bulk-job facility.
package shop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// TransientError marks a response worth retrying: rate limits and server
// errors. Client errors are permanent and returned as APIError.
type TransientError struct {
	StatusCode int
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient destination error: status %d", e.StatusCode)
}

// APIError is a permanent, non-retryable destination failure.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("destination error: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the destination admin API.
type Client struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client

	// MaxRetries bounds transient-failure retries per request.
	MaxRetries int
	// Backoff is the initial retry delay; it doubles per attempt.
	Backoff time.Duration
	// Sleep is swappable for tests.
	Sleep func(time.Duration)
}

// NewClient builds a client for the given store URL and access token. The
// store URL may arrive with a scheme or trailing path; only the host is
// kept.
func NewClient(storeURL, token, apiVersion string) *Client {
	host := strings.TrimSpace(storeURL)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	return &Client{
		BaseURL:    fmt.Sprintf("https://%s/admin/api/%s", host, apiVersion),
		Token:      token,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		MaxRetries: 3,
		Backoff:    time.Second,
		Sleep:      time.Sleep,
	}
}

// retryable reports whether the status code warrants another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// doJSON performs one API call with bounded backoff on transient failures.
// path may be absolute (pagination next-links come back absolute) or
// relative to the API base. resp headers are returned for pagination.
func (c *Client) doJSON(method, path string, body, out interface{}) (http.Header, error) {
	url := path
	if !strings.HasPrefix(path, "http") {
		url = c.BaseURL + path
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	backoff := c.Backoff
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(backoff)
			backoff *= 2
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequest(method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("X-Access-Token", c.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if retryable(resp.StatusCode) {
			resp.Body.Close()
			lastErr = &TransientError{StatusCode: resp.StatusCode}
			continue
		}

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				resp.Body.Close()
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		header := resp.Header
		resp.Body.Close()
		return header, nil
	}

	return nil, fmt.Errorf("%s %s: retries exhausted: %w", method, path, lastErr)
}

func (c *Client) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}

// nextPageLink extracts the continuation URL from a Link response header,
// or returns empty when there is no next page.
func nextPageLink(h http.Header) string {
	link := h.Get("Link")
	if link == "" {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		seg := strings.SplitN(part, ";", 2)[0]
		return strings.Trim(strings.TrimSpace(seg), "<> ")
	}
	return ""
}

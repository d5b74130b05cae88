// Package client is the network boundary for all controllers. It speaks
// JSON to REST endpoints, understands the server's paginated list payloads
// and structured error shapes, and lets callers whitelist specific status
// codes so an expected 403 or 404 can be treated as a non-error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Options describes one request.
type Options struct {
	// Method is the HTTP method, e.g. http.MethodGet.
	Method string
	// Path is resolved against the client's base URL.
	Path string
	// Params is appended to the URL as the query string.
	Params url.Values
	// Data, when non-nil, is marshalled as the JSON request body.
	Data any
	// StatusOK lists non-2xx status codes that should be treated as a
	// successful response with no payload. Used for optional resources,
	// e.g. a 403 on an endpoint the viewer may not see.
	StatusOK []int
}

// Page is the server's paginated list envelope.
type Page struct {
	Count   int               `json:"count"`
	Size    int               `json:"size"`
	Results []json.RawMessage `json:"results"`
}

// Client issues requests against a single API base URL.
type Client struct {
	base   *url.URL
	http   *http.Client
	header http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

// New creates a Client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: parsing base url: %w", err)
	}
	c := &Client{
		base:   base,
		http:   http.DefaultClient,
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do performs the request described by opts and returns the raw response
// body. A nil, nil return means the server answered with a whitelisted
// status or an empty body.
func (c *Client) Do(ctx context.Context, opts Options) (json.RawMessage, error) {
	ref, err := url.Parse(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("client: parsing path %q: %w", opts.Path, err)
	}
	target := c.base.ResolveReference(ref)
	if len(opts.Params) > 0 {
		target.RawQuery = opts.Params.Encode()
	}

	var body io.Reader
	if opts.Data != nil {
		payload, err := json.Marshal(opts.Data)
		if err != nil {
			return nil, fmt.Errorf("client: encoding request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("client: building request: %w", err)
	}
	for key, values := range c.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if opts.Data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", opts.Method, target.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: reading response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(raw) == 0 || resp.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		return raw, nil
	}
	for _, code := range opts.StatusOK {
		if resp.StatusCode == code {
			return nil, nil
		}
	}
	return nil, &StatusError{Status: resp.StatusCode, Body: raw}
}

// DecodePage unmarshals a list payload. Paginated endpoints answer with
// the count/size/results envelope; unpaginated ones with a bare array,
// which decodes as a single complete page.
func DecodePage(raw json.RawMessage) (*Page, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var results []json.RawMessage
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, fmt.Errorf("client: decoding list payload: %w", err)
		}
		return &Page{Count: len(results), Results: results}, nil
	}
	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("client: decoding list payload: %w", err)
	}
	return &page, nil
}

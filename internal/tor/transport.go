package tor

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/net/html/charset"
)

// DefaultMaxBodySize caps how much of a response body is read.
const DefaultMaxBodySize int64 = 5 << 20

// Transport fetches pages over an HTTP client, normally one built by
// Client.NewHTTPClient. It satisfies crawler.Fetcher.
type Transport struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithUserAgent sets the User-Agent sent with every request.
func WithUserAgent(ua string) TransportOption {
	return func(t *Transport) {
		t.userAgent = ua
	}
}

// WithMaxBodySize limits how many bytes of a body are read. Values <= 0 keep
// the default.
func WithMaxBodySize(n int64) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.maxBodySize = n
		}
	}
}

// NewTransport wraps client.
func NewTransport(client *http.Client, opts ...TransportOption) *Transport {
	t := &Transport{
		client:      client,
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fetch issues a GET for rawURL and returns the body decoded to UTF-8.
// Transport errors and non-2xx statuses are returned as *FetchError.
func (t *Transport) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best effort
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	limited := io.LimitReader(resp.Body, t.maxBodySize)
	reader, err := charset.NewReader(limited, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("decode body: %w", err)}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is where a locally started relay listens.
const DefaultBaseURL = "http://localhost:3000"

// Client fetches pages through a running relay.
type Client struct {
	base    string
	http    *http.Client
	maxBody int64
}

// NewClient talks to the relay at base. A nil httpClient uses http.DefaultClient.
func NewClient(base string, httpClient *http.Client) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    httpClient,
		maxBody: DefaultMaxBodyBytes,
	}
}

// Fetch returns the raw body of pageURL as relayed. Relay-side failures come
// back as ErrMissingParameter or ErrUpstreamFetch carrying the relay's message.
func (c *Client) Fetch(ctx context.Context, pageURL string) (string, error) {
	endpoint := c.base + "/relay?url=" + url.QueryEscape(pageURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: building relay request: %v", ErrUpstreamFetch, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: relay unreachable at %s: %v", ErrUpstreamFetch, c.base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return "", fmt.Errorf("%w: reading relay response: %v", ErrUpstreamFetch, err)
	}

	if resp.StatusCode == http.StatusOK {
		return string(body), nil
	}

	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	detail := eb.Message
	if detail == "" {
		detail = eb.Error
	}
	if detail == "" {
		detail = resp.Status
	}
	if resp.StatusCode == http.StatusBadRequest {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, detail)
	}
	return "", fmt.Errorf("%w: %s", ErrUpstreamFetch, detail)
}

package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go-clipnest/internal/relay"

	"github.com/gocolly/colly/v2"
)

// PageFetcher returns the raw HTML of a page. relay.Client is the usual
// implementation; CollyFetcher fetches directly without a relay.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// CollyFetcher fetches pages directly with a colly collector.
type CollyFetcher struct {
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// NewCollyFetcher returns a direct fetcher with the relay's default identity.
func NewCollyFetcher(userAgent string, timeout time.Duration) *CollyFetcher {
	if userAgent == "" {
		userAgent = relay.DefaultUserAgents[0]
	}
	if timeout <= 0 {
		timeout = relay.DefaultTimeout
	}
	return &CollyFetcher{UserAgent: userAgent, Timeout: timeout}
}

// Fetch visits pageURL once. Failures wrap relay.ErrUpstreamFetch so callers
// treat both fetch paths alike.
func (f *CollyFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := colly.NewCollector(
		colly.UserAgent(f.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(f.Timeout)
	if f.Transport != nil {
		c.WithTransport(f.Transport)
	}

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	if err := c.Visit(pageURL); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", relay.ErrUpstreamFetch, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return string(body), nil
}

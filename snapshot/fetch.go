package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/urlsafe"
)

// MaxBody caps the HTML read from a storefront.
const MaxBody = 10 << 20

// Fetcher captures snapshots with a plain HTTP GET. Themes that render
// their product block client-side need Capture instead.
type Fetcher struct {
	client       *http.Client
	ua           string
	allowPrivate bool
	now          func() time.Time
	logger       *slog.Logger
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) FetchOption {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetchOption {
	return func(f *Fetcher) { f.ua = ua }
}

// WithAllowPrivate disables the private-address check. Tests only.
func WithAllowPrivate() FetchOption {
	return func(f *Fetcher) { f.allowPrivate = true }
}

// WithClock sets the capture timestamp source.
func WithClock(now func() time.Time) FetchOption {
	return func(f *Fetcher) { f.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FetchOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher with a 30s timeout.
func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; Adtest/1.0)",
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL and extracts its snapshot.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*adapter.Snapshot, error) {
	if !f.allowPrivate {
		if err := urlsafe.ValidateURL(pageURL); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("snapshot: get %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := urlsafe.LimitedReadAll(resp.Body, MaxBody)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", pageURL, err)
	}
	f.logger.Debug("snapshot: fetched", "url", pageURL, "status", resp.StatusCode, "bytes", len(body))
	return FromHTML(bytes.NewReader(body), pageURL, f.now())
}

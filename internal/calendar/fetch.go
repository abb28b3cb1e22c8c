package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// fetchMeta caches conditional-request headers per feed URL. The event store
// is the source of truth for feed contents, so a 304 only has to tell the
// caller "keep what you have".
type fetchMeta struct {
	etag         string
	lastModified string
}

// Fetcher downloads feed bodies with a bounded timeout and honors
// ETag/Last-Modified so hosts that support conditional requests are not
// re-downloaded every cycle.
type Fetcher struct {
	client *http.Client

	mu   sync.Mutex
	meta map[string]fetchMeta
}

// NewFetcher creates a Fetcher. A zero timeout falls back to 20s.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		meta:   map[string]fetchMeta{},
	}
}

// Fetch downloads one feed. It returns ErrNotModified (wrapped) when the host
// answers 304, and a *FetchError for transport or status failures.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrNoFeedURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: RedactURL(url), Err: err}
	}
	req.Header.Set("User-Agent", "staysync-calendar/1.0")

	f.mu.Lock()
	if m, ok := f.meta[url]; ok {
		if m.etag != "" {
			req.Header.Set("If-None-Match", m.etag)
		}
		if m.lastModified != "" {
			req.Header.Set("If-Modified-Since", m.lastModified)
		}
	}
	f.mu.Unlock()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: RedactURL(url), Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, &FetchError{URL: RedactURL(url), Err: readErr}
		}
		f.mu.Lock()
		f.meta[url] = fetchMeta{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
		}
		f.mu.Unlock()
		return body, nil

	case http.StatusNotModified:
		return nil, fmt.Errorf("%s: %w", RedactURL(url), ErrNotModified)

	default:
		return nil, &FetchError{URL: RedactURL(url), StatusCode: resp.StatusCode}
	}
}

// RedactURL strips everything after the host so secret feed tokens never end
// up in logs.
func RedactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		rest = rest[at+1:]
	}
	return u[:i+3] + rest + "/..."
}

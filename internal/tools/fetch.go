// ABOUTME: http_fetch tool that retrieves a URL with a bounded body size.
// ABOUTME: Only http and https URLs are allowed and the response body is always closed.

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/relay-gateway/internal/toolgate"
)

// CategoryFetch groups the fetch tool for timeout configuration.
const CategoryFetch = "fetch"

// DefaultFetchMaxBytes is used when no limit is configured.
const DefaultFetchMaxBytes = 1 << 20

type fetchInput struct {
	URL string `json:"url" jsonschema:"required,description=Absolute http or https URL to fetch"`
}

type fetchResult struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated"`
}

type fetcher struct {
	client   *http.Client
	maxBytes int64
}

// FetchTool creates http_fetch. maxBytes <= 0 uses DefaultFetchMaxBytes.
func FetchTool(client *http.Client, maxBytes int64) (*toolgate.Tool, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultFetchMaxBytes
	}
	f := &fetcher{client: client, maxBytes: maxBytes}
	return toolgate.NewTool("http_fetch", "Fetch a web page or API response with GET", CategoryFetch, f.Fetch)
}

func (f *fetcher) Fetch(ctx context.Context, _ string, in fetchInput) (string, error) {
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("url must be an absolute http or https URL: %q", in.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "relay-gateway/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Read one byte past the limit to detect truncation.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	truncated := int64(len(body)) > f.maxBytes
	if truncated {
		body = trimPartialRune(body[:f.maxBytes])
	}

	return marshal(fetchResult{
		URL:         u.String(),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        strings.ToValidUTF8(string(body), "\uFFFD"),
		Truncated:   truncated,
	})
}

// trimPartialRune drops a multi-byte sequence cut off at the end of b. Only
// the last utf8.UTFMax-1 bytes are inspected; invalid bytes earlier in b are
// left for the caller to replace.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-(utf8.UTFMax-1); i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}

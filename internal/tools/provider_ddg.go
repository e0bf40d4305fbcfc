// ABOUTME: DuckDuckGo HTML search provider for the web_search tool.
// ABOUTME: Needs no API key; results are scraped from the HTML endpoint.

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const ddgDefaultURL = "https://html.duckduckgo.com/html/"

// DDGProvider implements SearchProvider using DuckDuckGo HTML search.
type DDGProvider struct {
	baseURL string
	client  *http.Client
}

// NewDDGProvider creates a DuckDuckGo search provider.
func NewDDGProvider(baseURL string, client *http.Client) *DDGProvider {
	if baseURL == "" {
		baseURL = ddgDefaultURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DDGProvider{baseURL: baseURL, client: client}
}

func (d *DDGProvider) Name() string { return "duckduckgo" }

func (d *DDGProvider) Search(ctx context.Context, query string) ([]SearchResult, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid duckduckgo base URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "relay-gateway/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseHTMLResults(string(body)), nil
}

var (
	reResultLink    = regexp.MustCompile(`(?is)<a[^>]+class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	reResultSnippet = regexp.MustCompile(`(?is)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	reTag           = regexp.MustCompile(`<[^>]+>`)
)

func parseHTMLResults(html string) []SearchResult {
	links := reResultLink.FindAllStringSubmatch(html, -1)
	snippets := reResultSnippet.FindAllStringSubmatch(html, -1)

	var results []SearchResult
	for i, link := range links {
		rawURL := link[1]
		// DuckDuckGo wraps result URLs in a redirect carrying the target in uddg.
		if u, err := url.Parse(rawURL); err == nil {
			if actual := u.Query().Get("uddg"); actual != "" {
				rawURL = actual
			}
		}

		snippet := ""
		if i < len(snippets) {
			snippet = stripTags(snippets[i][1])
		}

		results = append(results, SearchResult{
			Title:   stripTags(link[2]),
			URL:     rawURL,
			Snippet: snippet,
		})
		if len(results) >= maxSearchResults {
			break
		}
	}
	return results
}

func stripTags(s string) string {
	return strings.TrimSpace(reTag.ReplaceAllString(s, ""))
}

// ABOUTME: Web search tool backed by a provider chosen once at startup.
// ABOUTME: Providers are looked up in a strategy table keyed by config name.

package tools

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/toolgate"
)

// CategorySearch groups the search tool for timeout configuration.
const CategorySearch = "search"

// maxSearchResults caps how many results a provider returns.
const maxSearchResults = 5

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchProvider is implemented by every search backend.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SearchProviderFactory builds a provider from its config.
type SearchProviderFactory func(cfg config.SearchConfig, client *http.Client) (SearchProvider, error)

// SearchProviders maps config names to provider factories.
var SearchProviders = map[string]SearchProviderFactory{
	"brave": func(cfg config.SearchConfig, client *http.Client) (SearchProvider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("brave search requires tools.search.api_key")
		}
		return NewBraveProvider(cfg.APIKey, cfg.BaseURL, client), nil
	},
	"duckduckgo": func(cfg config.SearchConfig, client *http.Client) (SearchProvider, error) {
		return NewDDGProvider(cfg.BaseURL, client), nil
	},
}

// ResolveSearchProvider picks the configured provider from SearchProviders.
func ResolveSearchProvider(cfg config.SearchConfig, client *http.Client) (SearchProvider, error) {
	factory, ok := SearchProviders[cfg.Provider]
	if !ok {
		names := make([]string, 0, len(SearchProviders))
		for name := range SearchProviders {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown search provider %q (available: %s)", cfg.Provider, strings.Join(names, ", "))
	}
	return factory(cfg, client)
}

type searchInput struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
}

// SearchTool creates web_search over provider.
func SearchTool(provider SearchProvider) (*toolgate.Tool, error) {
	return toolgate.NewTool("web_search", "Search the web and return the top results", CategorySearch,
		func(ctx context.Context, _ string, in searchInput) (string, error) {
			query := strings.TrimSpace(in.Query)
			if query == "" {
				return "", fmt.Errorf("query must not be empty")
			}
			results, err := provider.Search(ctx, query)
			if err != nil {
				return "", fmt.Errorf("%s: %w", provider.Name(), err)
			}
			if results == nil {
				results = []SearchResult{}
			}
			return marshal(map[string]any{
				"provider": provider.Name(),
				"query":    query,
				"results":  results,
			})
		})
}

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/toolregistry"
	"github.com/harun/kosmo/pkg/trace"
)

const (
	defaultMaxResults = 5
	defaultTavilyURL  = "https://api.tavily.com"
	maxSnippet        = 300
)

// DefaultSearchDomains narrows Tavily searches to scientific sources
var DefaultSearchDomains = []string{"arxiv.org", "nasa.gov", "esa.int", "wikipedia.org", "space.com"}

// SearchResult is one web search hit
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher is a web search backend
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// newSearcher returns nil when no provider is configured
func newSearcher(opts SearchOptions, client *http.Client) (Searcher, error) {
	provider := opts.Provider
	if provider == "" {
		switch {
		case opts.TavilyAPIKey != "":
			provider = "tavily"
		case opts.SearXNGURL != "":
			provider = "searxng"
		default:
			return nil, nil
		}
	}

	switch provider {
	case "tavily":
		t := NewTavily(opts.TavilyAPIKey, opts.Depth, client)
		if opts.TavilyURL != "" {
			t.BaseURL = strings.TrimRight(opts.TavilyURL, "/")
		}
		if opts.IncludeDomains != nil {
			t.IncludeDomains = opts.IncludeDomains
		}
		return t, nil
	case "searxng":
		if opts.SearXNGURL == "" {
			return nil, fmt.Errorf("searxng provider requires a URL")
		}
		return NewSearXNG(opts.SearXNGURL, client), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", provider)
	}
}

// Tavily calls the Tavily search API
type Tavily struct {
	APIKey         string
	BaseURL        string
	Depth          string
	IncludeDomains []string
	client         *http.Client
}

// NewTavily constructs a Tavily search provider. Depth is basic or advanced.
func NewTavily(apiKey, depth string, client *http.Client) *Tavily {
	if depth == "" {
		depth = "advanced"
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Tavily{
		APIKey:         apiKey,
		BaseURL:        defaultTavilyURL,
		Depth:          depth,
		IncludeDomains: DefaultSearchDomains,
		client:         client,
	}
}

func (t *Tavily) Name() string { return "tavily" }

// Search posts a query to Tavily. A missing key is an authentication failure.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		e := errclass.New(errclass.CategoryAuthentication, "tavily: API key not found")
		e.Tool = WebSearchName
		return nil, e
	}

	body := map[string]interface{}{
		"api_key":      t.APIKey,
		"query":        query,
		"search_depth": t.Depth,
		"max_results":  maxResults,
	}
	if len(t.IncludeDomains) > 0 {
		body["include_domains"] = t.IncludeDomains
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, requestError(WebSearchName, "tavily", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(WebSearchName, "tavily", resp)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, decodeError(WebSearchName, "tavily", err)
	}

	results := make([]SearchResult, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}

// SearXNG queries a SearXNG instance's JSON API
type SearXNG struct {
	baseURL string
	client  *http.Client
}

// NewSearXNG creates a SearXNG provider. baseURL is the instance root,
// e.g. "http://localhost:8080".
func NewSearXNG(baseURL string, client *http.Client) *SearXNG {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &SearXNG{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}

	reqURL := fmt.Sprintf("%s/search?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, requestError(WebSearchName, "searxng", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(WebSearchName, "searxng", resp)
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, decodeError(WebSearchName, "searxng", err)
	}

	results := make([]SearchResult, 0, maxResults)
	for i, r := range sr.Results {
		if i >= maxResults {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}

// FormatResults renders search hits as the tool observation
func FormatResults(query string, results []SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search Results for: %s\n%s\n", query, strings.Repeat("=", 50))

	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = "No content available"
		} else if len(snippet) > maxSnippet {
			snippet = trace.Clip(snippet, maxSnippet) + "..."
		}

		fmt.Fprintf(&b, "\n%d. %s\n   URL: %s\n   %s\n", i+1, title, r.URL, snippet)
	}
	return b.String()
}

func webSearchSpec(searcher Searcher, maxResults int) toolregistry.ToolSpec {
	return toolregistry.ToolSpec{
		Name:        WebSearchName,
		Description: "Search the web for current scientific information, news and papers. Returns titles, URLs and snippets.",
		Parameters: []toolregistry.Parameter{
			{Name: "query", Type: "string", Description: "The search query", Required: true},
			{Name: "max_results", Type: "integer", Description: "Maximum number of results", Default: maxResults},
		},
		Retryable: true,
		Suggestions: map[errclass.Category]string{
			errclass.CategoryRateLimit:   "Wait and retry, or use search_wikipedia as a fallback.",
			errclass.CategoryTimeout:     "Retry with a shorter, more specific query, or use search_wikipedia.",
			errclass.CategoryNetwork:     "The search service is unreachable; use search_wikipedia or answer from known physics.",
			errclass.CategoryUnavailable: "The search service is down; use search_wikipedia as a fallback.",
			errclass.CategoryNotFound:    "Broaden the query or search_wikipedia for the underlying concept.",
		},
		Tool: toolregistry.ToolFunc(func(ctx context.Context, args map[string]interface{}) (string, error) {
			query := strings.TrimSpace(stringArg(args, "query"))
			if query == "" {
				e := errclass.New(errclass.CategoryValidation, "query cannot be empty")
				e.Tool = WebSearchName
				return "", e
			}
			limit := intArg(args, "max_results", maxResults)
			if limit <= 0 {
				limit = maxResults
			}

			results, err := searcher.Search(ctx, query, limit)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				e := errclass.New(errclass.CategoryNotFound, "no results found for query: %s", query)
				e.Tool = WebSearchName
				return "", e
			}
			return FormatResults(query, results), nil
		}),
	}
}

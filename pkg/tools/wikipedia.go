package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/toolregistry"
)

const (
	defaultWikipediaURL = "https://en.wikipedia.org"
	defaultSentences    = 5
	searchCandidates    = 3
)

// Wikipedia looks up article summaries through the REST summary endpoint,
// falling back to full-text search when no article has the exact title.
type Wikipedia struct {
	baseURL string
	client  *http.Client
}

// NewWikipedia creates a client for baseURL, e.g. "https://en.wikipedia.org"
func NewWikipedia(baseURL string, client *http.Client) *Wikipedia {
	if baseURL == "" {
		baseURL = defaultWikipediaURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Wikipedia{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Summary is the part of a page summary the tool reports
type Summary struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Extract string `json:"extract"`
	URLs    struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Lookup returns the summary of the article best matching query
func (w *Wikipedia) Lookup(ctx context.Context, query string) (*Summary, error) {
	summary, err := w.summary(ctx, query)
	if err == nil {
		return summary, nil
	}
	if errclass.NewClassifier().Categorize(err) != errclass.CategoryNotFound {
		return nil, err
	}

	title, err := w.search(ctx, query)
	if err != nil {
		return nil, err
	}
	return w.summary(ctx, title)
}

func (w *Wikipedia) summary(ctx context.Context, title string) (*Summary, error) {
	reqURL := w.baseURL + "/api/rest_v1/page/summary/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))

	var summary Summary
	if err := w.get(ctx, reqURL, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// search returns the title of the best full-text match
func (w *Wikipedia) search(ctx context.Context, query string) (string, error) {
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"format":   {"json"},
		"srlimit":  {fmt.Sprint(searchCandidates)},
	}

	var response struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := w.get(ctx, w.baseURL+"/w/api.php?"+params.Encode(), &response); err != nil {
		return "", err
	}

	if len(response.Query.Search) == 0 {
		e := errclass.New(errclass.CategoryNotFound, "no Wikipedia articles found for: %s", query)
		e.Tool = WikipediaName
		return "", e
	}
	return response.Query.Search[0].Title, nil
}

func (w *Wikipedia) get(ctx context.Context, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("wikipedia: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return requestError(WikipediaName, "wikipedia", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(WikipediaName, "wikipedia", resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return decodeError(WikipediaName, "wikipedia", err)
	}
	return nil
}

// FormatSummary renders a summary cut to the first n sentences
func FormatSummary(query string, s *Summary, sentences int) string {
	if s.Type == "disambiguation" {
		return fmt.Sprintf("'%s' is ambiguous. Please be more specific. Related topics: %s", query, s.Extract)
	}

	title := s.Title
	if title == "" {
		title = query
	}
	extract := s.Extract
	if extract == "" {
		extract = "No summary available."
	}
	if parts := strings.Split(extract, ". "); sentences > 0 && len(parts) > sentences {
		extract = strings.Join(parts[:sentences], ". ") + "."
	}

	out := fmt.Sprintf("**%s**\n\n%s", title, extract)
	if s.URLs.Desktop.Page != "" {
		out += "\n\nSource: " + s.URLs.Desktop.Page
	}
	return out
}

func wikipediaSpec(w *Wikipedia) toolregistry.ToolSpec {
	return toolregistry.ToolSpec{
		Name:        WikipediaName,
		Description: "Look up scientific facts and definitions on Wikipedia. Returns the article summary.",
		Parameters: []toolregistry.Parameter{
			{Name: "query", Type: "string", Description: "The topic or search term", Required: true},
			{Name: "sentences", Type: "integer", Description: "Number of summary sentences to return", Default: defaultSentences},
		},
		Retryable: true,
		Suggestions: map[errclass.Category]string{
			errclass.CategoryNotFound:    "Try a more general term or the canonical article title, or use web_search.",
			errclass.CategoryRateLimit:   "Wait and retry, or use web_search as a fallback.",
			errclass.CategoryNetwork:     "Wikipedia is unreachable; use web_search or answer from known physics.",
			errclass.CategoryUnavailable: "Wikipedia is unavailable; use web_search as a fallback.",
		},
		Tool: toolregistry.ToolFunc(func(ctx context.Context, args map[string]interface{}) (string, error) {
			query := strings.TrimSpace(stringArg(args, "query"))
			if query == "" {
				e := errclass.New(errclass.CategoryValidation, "query cannot be empty")
				e.Tool = WikipediaName
				return "", e
			}

			summary, err := w.Lookup(ctx, query)
			if err != nil {
				return "", err
			}
			return FormatSummary(query, summary, intArg(args, "sentences", defaultSentences)), nil
		}),
	}
}

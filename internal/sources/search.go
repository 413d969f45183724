package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultSearchURL = "https://api.duckduckgo.com"
	noResults        = "No results found."
	// thinResultLen marks a formatted result too short to be useful.
	thinResultLen = 100
)

// SearchResult is a single search result entry.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResponse is a normalized instant-answer response.
type SearchResponse struct {
	Query       string         `json:"query"`
	Heading     string         `json:"heading,omitempty"`
	Abstract    string         `json:"abstract,omitempty"`
	AbstractURL string         `json:"abstract_url,omitempty"`
	Results     []SearchResult `json:"results"`
	// Raw is the undecoded API body.
	Raw json.RawMessage `json:"-"`
}

type ddgResult struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string      `json:"Heading"`
	AbstractText  string      `json:"AbstractText"`
	AbstractURL   string      `json:"AbstractURL"`
	Results       []ddgResult `json:"Results"`
	RelatedTopics []ddgTopic  `json:"RelatedTopics"`
}

// DuckDuckGo queries the DuckDuckGo instant-answer API.
type DuckDuckGo struct {
	baseURL    string
	userAgent  string
	maxResults int
	client     *http.Client
}

func NewDuckDuckGo(baseURL, userAgent string, maxResults int, client *http.Client) *DuckDuckGo {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultSearchURL
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &DuckDuckGo{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		maxResults: maxResults,
		client:     client,
	}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string) (SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResponse{}, fmt.Errorf("query cannot be empty")
	}

	endpoint, err := url.Parse(d.baseURL)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("invalid base url: %w", err)
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")
	endpoint.RawQuery = params.Encode()

	body, _, err := get(ctx, d.client, endpoint.String(), d.userAgent, 0)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search request failed: %w", err)
	}

	var payload ddgResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return SearchResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	out := SearchResponse{
		Query:       query,
		Heading:     strings.TrimSpace(payload.Heading),
		Abstract:    strings.TrimSpace(payload.AbstractText),
		AbstractURL: strings.TrimSpace(payload.AbstractURL),
		Results:     make([]SearchResult, 0, d.maxResults),
		Raw:         body,
	}
	seen := make(map[string]bool)
	add := func(text, link string) {
		if len(out.Results) >= d.maxResults {
			return
		}
		link = strings.TrimSpace(link)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		out.Results = append(out.Results, SearchResult{
			Title:   strings.TrimSpace(text),
			URL:     link,
			Snippet: strings.TrimSpace(text),
		})
	}
	for _, r := range payload.Results {
		add(r.Text, r.FirstURL)
	}
	var walk func(topics []ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, t := range topics {
			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}
			add(t.Text, t.FirstURL)
		}
	}
	walk(payload.RelatedTopics)
	return out, nil
}

// SearchWithRetry searches for the quoted phrase first and falls back to
// the bare query when the quoted search comes back empty or thin.
func (d *DuckDuckGo) SearchWithRetry(ctx context.Context, query string) (SearchResponse, error) {
	query = strings.TrimSpace(query)
	quoted := query
	if !(len(query) >= 2 && strings.HasPrefix(query, `"`) && strings.HasSuffix(query, `"`)) {
		quoted = `"` + query + `"`
	}
	resp, err := d.Search(ctx, quoted)
	if err == nil && !IsThin(resp) {
		return resp, nil
	}
	bare := strings.Trim(query, `"`)
	retry, rerr := d.Search(ctx, bare)
	if rerr != nil {
		if err == nil {
			// Keep the thin quoted result rather than failing.
			return resp, nil
		}
		return SearchResponse{}, rerr
	}
	return retry, nil
}

// IsThin reports whether a response is not worth showing as is.
func IsThin(resp SearchResponse) bool {
	text := FormatSearch(resp)
	return strings.Contains(text, noResults) || len(text) < thinResultLen
}

// FormatSearch renders a response as markdown.
func FormatSearch(resp SearchResponse) string {
	var b strings.Builder
	b.WriteString("# DuckDuckGo Search Results\n\n")
	if resp.Abstract != "" {
		fmt.Fprintf(&b, "## Summary\n%s\n", resp.Abstract)
		if resp.AbstractURL != "" {
			fmt.Fprintf(&b, "Source: %s\n", resp.AbstractURL)
		}
		b.WriteString("\n")
	}
	if len(resp.Results) > 0 {
		b.WriteString("## Related Topics\n\n")
		for _, r := range resp.Results {
			fmt.Fprintf(&b, "- [%s](%s)\n", r.Title, r.URL)
		}
	}
	if resp.Abstract == "" && len(resp.Results) == 0 {
		b.WriteString(noResults + "\n")
	}
	return b.String()
}

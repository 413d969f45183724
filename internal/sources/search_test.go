package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const goAnswer = `{
  "Heading": "Go (programming language)",
  "AbstractText": "Go is a statically typed, compiled high-level programming language designed at Google.",
  "AbstractURL": "https://en.wikipedia.org/wiki/Go_(programming_language)",
  "Results": [{"Text": "Official site", "FirstURL": "https://go.dev"}],
  "RelatedTopics": [
    {"Text": "Goroutines - lightweight threads", "FirstURL": "https://duckduckgo.com/Goroutine"},
    {"Name": "See also", "Topics": [
      {"Text": "Rob Pike", "FirstURL": "https://duckduckgo.com/Rob_Pike"},
      {"Text": "Official site duplicate", "FirstURL": "https://go.dev"}
    ]}
  ]
}`

const emptyAnswer = `{"Heading": "", "AbstractText": "", "Results": [], "RelatedTopics": []}`

type queryRecorder struct {
	mu      sync.Mutex
	queries []string
}

func (q *queryRecorder) add(s string) {
	q.mu.Lock()
	q.queries = append(q.queries, s)
	q.mu.Unlock()
}

func TestDuckDuckGoSearch(t *testing.T) {
	var rec queryRecorder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.URL.Query().Get("q"))
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format = %q", r.URL.Query().Get("format"))
		}
		w.Write([]byte(goAnswer))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL, "", 5, srv.Client())
	resp, err := d.Search(context.Background(), "golang")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if resp.Abstract == "" || resp.Heading != "Go (programming language)" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want 3 (duplicate link dropped)", len(resp.Results))
	}
	if resp.Results[2].Title != "Rob Pike" {
		t.Errorf("nested topic not walked: %+v", resp.Results)
	}
	if len(resp.Raw) == 0 {
		t.Error("raw body should be kept")
	}
}

func TestDuckDuckGoSearch_Limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(goAnswer))
	}))
	defer srv.Close()

	resp, err := NewDuckDuckGo(srv.URL, "", 1, srv.Client()).Search(context.Background(), "golang")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Errorf("results = %d, want 1", len(resp.Results))
	}
}

func TestDuckDuckGoSearch_EmptyQuery(t *testing.T) {
	if _, err := NewDuckDuckGo("", "", 0, nil).Search(context.Background(), "  "); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestSearchWithRetry_QuotedFirst(t *testing.T) {
	var rec queryRecorder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.URL.Query().Get("q"))
		w.Write([]byte(goAnswer))
	}))
	defer srv.Close()

	resp, err := NewDuckDuckGo(srv.URL, "", 5, srv.Client()).SearchWithRetry(context.Background(), "golang")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.queries) != 1 || rec.queries[0] != `"golang"` {
		t.Errorf("queries = %q", rec.queries)
	}
	if resp.Query != `"golang"` {
		t.Errorf("Query = %q", resp.Query)
	}
}

func TestSearchWithRetry_FallsBackWhenThin(t *testing.T) {
	var rec queryRecorder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		rec.add(q)
		if strings.HasPrefix(q, `"`) {
			w.Write([]byte(emptyAnswer))
			return
		}
		w.Write([]byte(goAnswer))
	}))
	defer srv.Close()

	resp, err := NewDuckDuckGo(srv.URL, "", 5, srv.Client()).SearchWithRetry(context.Background(), "golang")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.queries) != 2 || rec.queries[1] != "golang" {
		t.Errorf("queries = %q", rec.queries)
	}
	if resp.Abstract == "" {
		t.Error("expected the unquoted result")
	}
}

func TestFormatSearch(t *testing.T) {
	got := FormatSearch(SearchResponse{
		Abstract: "Go is a language.",
		Results:  []SearchResult{{Title: "Go", URL: "https://go.dev"}},
	})
	if !strings.HasPrefix(got, "# DuckDuckGo Search Results\n\n## Summary\nGo is a language.") {
		t.Errorf("got:\n%s", got)
	}
	if !strings.Contains(got, "## Related Topics\n\n- [Go](https://go.dev)") {
		t.Errorf("got:\n%s", got)
	}

	empty := FormatSearch(SearchResponse{})
	if !strings.Contains(empty, "No results found") || !IsThin(SearchResponse{}) {
		t.Errorf("empty = %q", empty)
	}
}

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const articleHTML = `<html><head><title>Tensors</title>
<style>body { color: red }</style>
<script>var tracking = 1;</script></head>
<body><h1>Tensors</h1>
<p>A tensor is   a multi-dimensional
array.</p><noscript>enable js</noscript></body></html>`

const pypiHTML = `<html><body>
<div class="sidebar"><p>meta</p></div>
<div class="project-description">
<h1>fastthing</h1>
<p>Does things fast.</p>
<h2>Install</h2>
<pre><code class="language-python">pip install fastthing</code></pre>
<ul><li>quick</li><li>small</li></ul>
</div></body></html>`

func TestExtractText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(articleHTML))
	if err != nil {
		t.Fatal(err)
	}
	got := ExtractText(doc)
	want := "Tensors Tensors A tensor is a multi-dimensional array."
	if got != want {
		t.Errorf("ExtractText = %q, want %q", got, want)
	}
}

func TestExtractText_Truncates(t *testing.T) {
	doc, _ := html.Parse(strings.NewReader("<p>" + strings.Repeat("word ", 5000) + "</p>"))
	got := ExtractText(doc)
	if len(got) != MaxPageText+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("len = %d", len(got))
	}
}

func TestCrawlerFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	page, err := NewCrawler("", srv.Client()).Fetch(context.Background(), srv.URL+"/tensors")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if !strings.Contains(page.Text, "multi-dimensional array") || strings.Contains(page.Text, "tracking") {
		t.Errorf("Text = %q", page.Text)
	}
	if page.HTML != articleHTML {
		t.Error("raw HTML should be kept")
	}
	if page.Package != "" {
		t.Errorf("Package = %q", page.Package)
	}
}

func TestCrawlerFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := NewCrawler("", srv.Client()).Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404")
	}
}

func TestPyPIDescription(t *testing.T) {
	doc, _ := html.Parse(strings.NewReader(pypiHTML))
	got, ok := pypiDescription(doc)
	if !ok {
		t.Fatal("description not found")
	}
	want := "# fastthing\n\nDoes things fast.\n\n## Install\n\n```python\npip install fastthing\n```\n\n- quick\n- small\n\n"
	if got != want {
		t.Errorf("got:\n%q\nwant:\n%q", got, want)
	}
}

func TestCrawlerFetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<p>page " + r.URL.Path + "</p>"))
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a", srv.URL + "/missing", srv.URL + "/b"}
	out := NewCrawler("", srv.Client()).FetchAll(context.Background(), urls)
	if len(out) != 3 {
		t.Fatalf("outcomes = %d", len(out))
	}
	if out[0].Err != nil || out[0].Value.Text != "page /a" {
		t.Errorf("out[0] = %+v", out[0])
	}
	if out[1].Err == nil {
		t.Error("missing page should fail")
	}
	if out[2].Value.Text != "page /b" {
		t.Errorf("out[2] = %+v", out[2])
	}
}

func TestSplitURLs(t *testing.T) {
	got := SplitURLs("https://a.dev, https://b.dev\nhttps://c.dev ,")
	want := []string{"https://a.dev", "https://b.dev", "https://c.dev"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitURLs = %q", got)
	}
}

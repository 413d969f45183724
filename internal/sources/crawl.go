package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// MaxPageText caps the extracted text of one page.
	MaxPageText = 15000
	// MaxStoredHTML caps the raw HTML kept for a crawl record.
	MaxStoredHTML = 100000

	defaultMaxPageBytes = 5 << 20
)

var pypiProject = regexp.MustCompile(`^https?://pypi\.org/project/([^/]+)/?`)

// Page is one crawled document.
type Page struct {
	URL       string
	HTML      string
	Text      string
	Package   string // PyPI project name, empty for ordinary pages
	FetchedAt time.Time
}

type Crawler struct {
	userAgent string
	maxBytes  int64
	client    *http.Client
	now       func() time.Time
}

func NewCrawler(userAgent string, client *http.Client) *Crawler {
	return &Crawler{
		userAgent: userAgent,
		maxBytes:  defaultMaxPageBytes,
		client:    newHTTPClient(client),
		now:       time.Now,
	}
}

// Fetch downloads url and extracts its readable text. PyPI project pages
// yield the project description as markdown.
func (c *Crawler) Fetch(ctx context.Context, url string) (Page, error) {
	body, _, err := get(ctx, c.client, url, c.userAgent, c.maxBytes)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	page := Page{
		URL:       url,
		HTML:      string(body),
		FetchedAt: c.now().UTC(),
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse %s: %w", url, err)
	}
	if m := pypiProject.FindStringSubmatch(url); m != nil {
		page.Package = m[1]
		if md, ok := pypiDescription(doc); ok {
			page.Text = md
			return page, nil
		}
	}
	page.Text = ExtractText(doc)
	return page, nil
}

// FetchAll crawls urls concurrently, keeping the input order.
func (c *Crawler) FetchAll(ctx context.Context, urls []string) []Outcome[Page] {
	return fetchAll(ctx, urls, c.Fetch)
}

// SplitURLs splits a comma or whitespace separated URL list.
func SplitURLs(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ExtractText returns the visible text of a document with whitespace
// collapsed, capped at MaxPageText.
func ExtractText(doc *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return truncate(collapseSpace(b.String()), MaxPageText, "...")
}

func pypiDescription(doc *html.Node) (string, bool) {
	desc := findByClass(doc, "project-description")
	if desc == nil {
		return "", false
	}
	var b strings.Builder
	for el := desc.FirstChild; el != nil; el = el.NextSibling {
		if el.Type != html.ElementNode {
			continue
		}
		switch el.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4:
			level := int(el.Data[1] - '0')
			fmt.Fprintf(&b, "%s %s\n\n", strings.Repeat("#", level), nodeText(el))
		case atom.P:
			fmt.Fprintf(&b, "%s\n\n", nodeText(el))
		case atom.Pre:
			lang := ""
			if code := findElement(el, atom.Code); code != nil && strings.Contains(strings.ToLower(attr(code, "class")), "python") {
				lang = "python"
			}
			fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, strings.TrimSpace(rawText(el)))
		case atom.Ul:
			for li := el.FirstChild; li != nil; li = li.NextSibling {
				if li.Type == html.ElementNode && li.DataAtom == atom.Li {
					fmt.Fprintf(&b, "- %s\n", nodeText(li))
				}
			}
			b.WriteString("\n")
		}
	}
	return b.String(), true
}

func findByClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode {
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return n
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findByClass(child, class); found != nil {
			return found
		}
	}
	return nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.DataAtom == a {
			return child
		}
		if found := findElement(child, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// rawText concatenates text nodes verbatim.
func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

func nodeText(n *html.Node) string {
	return collapseSpace(rawText(n))
}

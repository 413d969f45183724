package sources

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const DefaultArxivURL = "http://export.arxiv.org/api/query"

var (
	ErrInvalidArxivID = errors.New("could not extract arXiv ID from the provided input")
	ErrPaperNotFound  = errors.New("no paper found with the provided ID")
)

var arxivIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`arxiv\.org/abs/([\w.-]+)`),
	regexp.MustCompile(`arxiv\.org/pdf/([\w.-]+)`),
	regexp.MustCompile(`^([\w.-]+)$`),
}

// ExtractArxivID accepts an abs or pdf URL or a bare identifier. Version
// suffixes are kept; a trailing ".pdf" is dropped.
func ExtractArxivID(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, re := range arxivIDPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			id := strings.TrimSuffix(m[1], ".pdf")
			if id == "" || strings.Trim(id, ".-") == "" {
				break
			}
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidArxivID, s)
}

// Paper is the metadata of one arXiv paper.
type Paper struct {
	ID         string    `json:"arxiv_id"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Abstract   string    `json:"abstract"`
	Published  string    `json:"published"`
	PDFLink    string    `json:"pdf_link"`
	ArxivURL   string    `json:"arxiv_url"`
	Categories []string  `json:"categories"`
	Comment    string    `json:"comment,omitempty"`
	JournalRef string    `json:"journal_ref,omitempty"`
	DOI        string    `json:"doi,omitempty"`
	FetchedAt  time.Time `json:"timestamp"`
}

type atomFeed struct {
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	ID        string `xml:"http://www.w3.org/2005/Atom id"`
	Title     string `xml:"http://www.w3.org/2005/Atom title"`
	Summary   string `xml:"http://www.w3.org/2005/Atom summary"`
	Published string `xml:"http://www.w3.org/2005/Atom published"`
	Authors   []struct {
		Name string `xml:"http://www.w3.org/2005/Atom name"`
	} `xml:"http://www.w3.org/2005/Atom author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Rel   string `xml:"rel,attr"`
		Type  string `xml:"type,attr"`
		Title string `xml:"title,attr"`
	} `xml:"http://www.w3.org/2005/Atom link"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"http://www.w3.org/2005/Atom category"`
	Comment    string `xml:"http://arxiv.org/schemas/atom comment"`
	JournalRef string `xml:"http://arxiv.org/schemas/atom journal_ref"`
	DOI        string `xml:"http://arxiv.org/schemas/atom doi"`
}

type ArxivClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	now       func() time.Time
}

func NewArxivClient(baseURL, userAgent string, client *http.Client) *ArxivClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultArxivURL
	}
	return &ArxivClient{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    newHTTPClient(client),
		now:       time.Now,
	}
}

// Fetch queries the Atom API for a single paper.
func (c *ArxivClient) Fetch(ctx context.Context, id string) (Paper, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return Paper{}, fmt.Errorf("invalid arxiv url: %w", err)
	}
	params := url.Values{}
	params.Set("id_list", id)
	params.Set("max_results", "1")
	endpoint.RawQuery = params.Encode()

	body, _, err := get(ctx, c.client, endpoint.String(), c.userAgent, 0)
	if err != nil {
		return Paper{}, fmt.Errorf("failed to connect to arXiv API: %w", err)
	}
	return c.parse(id, body)
}

// FetchMany fetches several papers concurrently, keeping the input order.
func (c *ArxivClient) FetchMany(ctx context.Context, ids []string) []Outcome[Paper] {
	return fetchAll(ctx, ids, c.Fetch)
}

func (c *ArxivClient) parse(id string, body []byte) (Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return Paper{}, fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(feed.Entries) == 0 {
		return Paper{}, fmt.Errorf("%w: %s", ErrPaperNotFound, id)
	}
	e := feed.Entries[0]
	// The API reports unknown ids as an entry under /api/errors.
	if strings.Contains(e.ID, "/api/errors") || strings.TrimSpace(e.Title) == "" {
		return Paper{}, fmt.Errorf("%w: %s", ErrPaperNotFound, id)
	}

	p := Paper{
		ID:         id,
		Title:      collapseSpace(e.Title),
		Abstract:   strings.TrimSpace(e.Summary),
		Published:  strings.TrimSpace(e.Published),
		Comment:    strings.TrimSpace(e.Comment),
		JournalRef: strings.TrimSpace(e.JournalRef),
		DOI:        strings.TrimSpace(e.DOI),
		FetchedAt:  c.now().UTC(),
	}
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	for _, l := range e.Links {
		switch {
		case l.Type == "application/pdf" && p.PDFLink == "":
			p.PDFLink = l.Href
		case l.Rel == "alternate" && p.ArxivURL == "":
			p.ArxivURL = l.Href
		}
	}
	for _, cat := range e.Categories {
		if cat.Term != "" {
			p.Categories = append(p.Categories, cat.Term)
		}
	}
	return p, nil
}

// FormatPaper renders a paper as a markdown card.
func FormatPaper(p Paper) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "**Authors:** %s\n\n", strings.Join(p.Authors, ", "))
	published := p.Published
	if len(published) > 10 {
		published = published[:10]
	}
	fmt.Fprintf(&b, "**Published:** %s\n\n", published)
	fmt.Fprintf(&b, "**Categories:** %s\n\n", strings.Join(p.Categories, ", "))
	fmt.Fprintf(&b, "## Abstract\n%s\n\n", p.Abstract)
	b.WriteString("**Links:**\n")
	fmt.Fprintf(&b, "- [ArXiv Page](%s)\n", p.ArxivURL)
	fmt.Fprintf(&b, "- [PDF Download](%s)\n", p.PDFLink)
	if p.Comment != "" {
		fmt.Fprintf(&b, "\n**Comments:** %s\n", p.Comment)
	}
	if p.JournalRef != "" {
		fmt.Fprintf(&b, "\n**Journal Reference:** %s\n", p.JournalRef)
	}
	if p.DOI != "" {
		fmt.Fprintf(&b, "\n**DOI:** %s\n", p.DOI)
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package sources

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/oarc/ollamateacher/internal/bus"
)

const (
	// DefaultLinkScan is how many history messages !links reads by default.
	DefaultLinkScan = 1000
	// linkPartBudget bounds the item text packed into one rendered part.
	linkPartBudget = 1500
)

type Category string

const (
	CategoryOllamaModels  Category = "ollama_models"
	CategoryHuggingFace   Category = "huggingface"
	CategoryModelRepos    Category = "model_repos"
	CategoryGitHub        Category = "github"
	CategoryDocumentation Category = "documentation"
	CategoryResearch      Category = "research"
	CategorySocial        Category = "social"
	CategoryOther         Category = "other"
)

// Categories lists categories in display order.
var Categories = []Category{
	CategoryOllamaModels,
	CategoryHuggingFace,
	CategoryModelRepos,
	CategoryGitHub,
	CategoryDocumentation,
	CategoryResearch,
	CategorySocial,
	CategoryOther,
}

var categoryTitles = map[Category]string{
	CategoryOllamaModels:  "Ollama_Models",
	CategoryHuggingFace:   "Huggingface",
	CategoryModelRepos:    "Model_Repos",
	CategoryGitHub:        "Github",
	CategoryDocumentation: "Documentation",
	CategoryResearch:      "Research",
	CategorySocial:        "Social",
	CategoryOther:         "Other",
}

func (c Category) Title() string {
	if t, ok := categoryTitles[c]; ok {
		return t
	}
	return string(c)
}

var (
	linkPattern   = regexp.MustCompile(`https?://[^\s<>"]+|www\.[^\s<>"]+|\b\w+\.(?:com|org|net|edu|io|ai|dev)\b/[^\s<>"]*`)
	domainPattern = regexp.MustCompile(`https?://(?:www\.)?([^/]+)`)
)

// Link is one URL shared in a channel.
type Link struct {
	URL        string    `json:"url"`
	Category   Category  `json:"category"`
	AuthorName string    `json:"author_name"`
	AuthorID   string    `json:"author_id"`
	MessageID  string    `json:"message_id"`
	Context    string    `json:"context"`
	Timestamp  time.Time `json:"timestamp"`
}

// Categorize assigns a link to the first matching category.
func Categorize(link string) Category {
	l := strings.ToLower(link)
	switch {
	case strings.Contains(l, "ollama.com"):
		if strings.Contains(l, "/library/") || strings.Contains(l, "/models/") {
			return CategoryOllamaModels
		}
		return CategoryDocumentation
	case strings.Contains(l, "huggingface.co"):
		return CategoryHuggingFace
	case strings.Contains(l, "github.com"):
		return CategoryGitHub
	case containsAny(l, "docs.", "documentation", "readthedocs", "wiki"):
		return CategoryDocumentation
	case containsAny(l, "/models/", "modelscope", "modelzoo"):
		return CategoryModelRepos
	case containsAny(l, "arxiv.org", "research", "paper", "journal"):
		return CategoryResearch
	case containsAny(l, "twitter.com", "linkedin.com", "discord.com"):
		return CategorySocial
	default:
		return CategoryOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ExtractLinks finds every link in the given messages. Scheme-less links
// get an https:// prefix.
func ExtractLinks(msgs []bus.HistoryMessage) []Link {
	var out []Link
	for _, m := range msgs {
		for _, raw := range linkPattern.FindAllString(m.Content, -1) {
			u := raw
			if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
				u = "https://" + u
			}
			out = append(out, Link{
				URL:        u,
				Category:   Categorize(u),
				AuthorName: m.SenderName,
				AuthorID:   m.SenderID,
				MessageID:  m.ID,
				Context:    truncate(m.Content, 200, ""),
				Timestamp:  m.Timestamp,
			})
		}
	}
	return out
}

// LinkReport is the input for rendering a channel's links.
type LinkReport struct {
	ChannelName string
	GuildName   string
	Searched    int
	Links       []Link
	GeneratedAt time.Time
}

// RenderLinks renders the report as markdown parts titled "(Part i/N)".
// It returns nil when there are no links.
func RenderLinks(r LinkReport) []string {
	if len(r.Links) == 0 {
		return nil
	}
	byCat := make(map[Category][]Link)
	for _, l := range r.Links {
		byCat[l.Category] = append(byCat[l.Category], l)
	}

	var groups []map[Category][]Link
	current := make(map[Category][]Link)
	size := 0
	for _, cat := range Categories {
		for _, l := range byCat[cat] {
			itemLen := len(fmt.Sprintf("#### [%s]\n- Shared by %s\n", l.URL, l.AuthorName))
			if size > 0 && size+itemLen > linkPartBudget {
				groups = append(groups, current)
				current = make(map[Category][]Link)
				size = 0
			}
			current[cat] = append(current[cat], l)
			size += itemLen
		}
	}
	if size > 0 {
		groups = append(groups, current)
	}

	present := make([]string, 0, len(Categories))
	for _, cat := range Categories {
		if len(byCat[cat]) > 0 {
			present = append(present, cat.Title())
		}
	}

	parts := make([]string, 0, len(groups))
	for i, g := range groups {
		parts = append(parts, renderLinkPart(r, i+1, len(groups), present, g))
	}
	return parts
}

func renderLinkPart(r LinkReport, part, total int, present []string, items map[Category][]Link) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 🔗 Links from #%s (Part %d/%d)\n\n", r.ChannelName, part, total)
	b.WriteString("## Channel Information\n")
	fmt.Fprintf(&b, "- **Channel:** #%s\n", r.ChannelName)
	if r.GuildName != "" {
		fmt.Fprintf(&b, "- **Server:** %s\n", r.GuildName)
	}
	fmt.Fprintf(&b, "- **Last Updated:** %s UTC\n", r.GeneratedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **Messages Searched:** %d\n\n", r.Searched)
	b.WriteString("## Statistics\n")
	fmt.Fprintf(&b, "- **Total Links Found:** %d\n", len(r.Links))
	fmt.Fprintf(&b, "- **Categories Found:** %s\n\n", strings.Join(present, ", "))
	b.WriteString("## Links by Category\n")

	for _, cat := range Categories {
		links := items[cat]
		if len(links) == 0 {
			continue
		}
		sorted := append([]Link(nil), links...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		})
		fmt.Fprintf(&b, "\n### %s Links\n", cat.Title())
		fmt.Fprintf(&b, "Found %d links in this category\n\n", len(sorted))
		for _, l := range sorted {
			domain := "unknown"
			if m := domainPattern.FindStringSubmatch(l.URL); m != nil {
				domain = m[1]
			}
			fmt.Fprintf(&b, "#### [%s](%s)\n", domain, l.URL)
			fmt.Fprintf(&b, "- **Shared by:** %s\n", l.AuthorName)
			fmt.Fprintf(&b, "- **Date:** %s\n", l.Timestamp.UTC().Format("2006-01-02 15:04:05"))
			if l.Context != "" {
				fmt.Fprintf(&b, "- **Context:** %s\n", truncate(l.Context, 100, "..."))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/oarc/ollamateacher/internal/command"
	"github.com/oarc/ollamateacher/internal/llm"
	"github.com/oarc/ollamateacher/internal/sources"
	"github.com/oarc/ollamateacher/internal/store"
)

const (
	arxivUsage = "!arxiv <arxiv_url_or_id>... [--memory] [--groq] <question>"
	ddgUsage   = `!ddg <query> [--groq] [--llava] <question>`
	crawlUsage = "!crawl <url1> [url2 url3...] [--groq] <question>"

	arxivMemory = "arxiv"

	crawlQuestionChars = 5000
	crawlSummaryChars  = 7000
)

// arxivToken matches the identifiers accepted after the first one. The
// first token is always taken as an identifier.
var arxivToken = regexp.MustCompile(`arxiv\.org/(abs|pdf)/|^\d{4}\.\d{4,5}(v\d+)?$|^[a-z-]+(\.[A-Z]{2})?/\d{7}(v\d+)?$`)

// arxivArgs splits the payload into paper ids and the question.
func arxivArgs(cmd command.Command) ([]string, string, error) {
	var (
		ids  []string
		used int
	)
	for i, arg := range cmd.Args {
		parts := sources.SplitURLs(arg)
		if i > 0 && !allMatch(parts, arxivToken) {
			break
		}
		for _, p := range parts {
			id, err := sources.ExtractArxivID(p)
			if err != nil {
				return nil, "", command.Usagef(arxivUsage, "%v", err)
			}
			ids = appendUnique(ids, id)
		}
		used++
	}
	if len(ids) == 0 {
		return nil, "", command.Usagef(arxivUsage, "missing arXiv id")
	}
	return ids, cmd.Question(used), nil
}

func allMatch(parts []string, re *regexp.Regexp) bool {
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if !re.MatchString(p) {
			return false
		}
	}
	return true
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// papers returns the requested papers in order, serving cached ones from
// the store and caching the rest. Failed ids are reported as errors.
func (h *Handlers) papers(ctx context.Context, ids []string) ([]sources.Paper, []error) {
	found := make(map[string]sources.Paper, len(ids))
	var missing []string
	for _, id := range ids {
		p, err := h.Store.LoadPaper(id)
		if err == nil {
			h.log.Debug("using cached paper", "id", id)
			found[id] = p
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Warn("read cached paper", "id", id, "error", err)
		}
		missing = append(missing, id)
	}

	var errs []error
	if len(missing) > 0 {
		for _, o := range h.Papers.FetchMany(ctx, missing) {
			if o.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", o.Input, o.Err))
				continue
			}
			if err := h.Store.SavePaper(o.Value); err != nil {
				h.log.Warn("cache paper", "id", o.Input, "error", err)
			}
			found[o.Input] = o.Value
		}
	}

	out := make([]sources.Paper, 0, len(found))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out, errs
}

func warningParts(prefix string, errs []error) []string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, prefix+err.Error())
	}
	return parts
}

func (h *Handlers) arxiv(ctx context.Context, req *command.Request) (command.Reply, error) {
	cmd := req.Command
	ids, question, err := arxivArgs(cmd)
	if err != nil {
		return command.Reply{}, err
	}

	papers, errs := h.papers(ctx, ids)
	if len(papers) == 0 {
		return command.Reply{}, fmt.Errorf("could not process any of the provided ArXiv papers: %w", errors.Join(errs...))
	}
	reply := command.Reply{Parts: warningParts("⚠️ Error with ", errs)}

	useMemory := cmd.Options.Memory
	cards := make([]string, len(papers))
	for i, p := range papers {
		cards[i] = sources.FormatPaper(p)
		if useMemory {
			h.Memory.SetContext(req.Key, "paper_"+p.ID, cards[i])
		}
	}

	if question == "" {
		header := ""
		if useMemory {
			header = "🧠 Memory Stored: "
		}
		for _, c := range cards {
			reply.Parts = append(reply.Parts, header+c)
		}
		return reply, nil
	}

	var previous string
	if useMemory {
		previous, _ = h.Memory.Recall(req.Key, arxivMemory)
	}

	var prompt strings.Builder
	if previous != "" {
		prompt.WriteString("Previous conversation context:\n" + previous + "\n\n")
		prompt.WriteString("New information to consider:\n")
	}
	prompt.WriteString("I want to learn from these research papers:\n\n")
	for i, p := range papers {
		fmt.Fprintf(&prompt, "--- Paper: %s ---\n%s\n\n", p.ID, cards[i])
	}
	fmt.Fprintf(&prompt, "\nMy question is: %s\n\nPlease provide a detailed answer using information from all papers.", question)

	answer, err := h.generate(ctx, prompt.String(), cmd.Options.Groq)
	if err != nil {
		return command.Reply{}, err
	}
	if useMemory {
		h.Memory.Remember(req.Key, arxivMemory, question, answer)
	}

	var b strings.Builder
	if cmd.Options.Groq {
		b.WriteString(groqBanner + "\n\n")
	}
	if previous != "" {
		b.WriteString("🧠 Using Memory: Previous context incorporated\n\n")
	}
	b.WriteString("# ArXiv Paper Analysis\n\n")
	paperIDs := make([]string, len(papers))
	for i, p := range papers {
		paperIDs[i] = p.ID
	}
	fmt.Fprintf(&b, "**Papers analyzed:** %s\n", strings.Join(paperIDs, ", "))
	if previous != "" {
		fmt.Fprintf(&b, "**Memory active:** Previous context from %d discussions\n", strings.Count(previous, "Question: "))
	}
	fmt.Fprintf(&b, "\n%s\n\n", answer)
	if useMemory {
		b.WriteString("Use !reset to clear your memory context\n")
	} else {
		b.WriteString("Add --memory flag to enable persistent memory\n")
	}
	if !cmd.Options.Groq {
		b.WriteString("Add --groq flag to use Groq API")
	}
	reply.Parts = append(reply.Parts, b.String())
	return reply, nil
}

func (h *Handlers) ddg(ctx context.Context, req *command.Request) (command.Reply, error) {
	cmd := req.Command
	if len(cmd.Args) == 0 {
		return command.Reply{}, command.Usagef(ddgUsage, "missing search query")
	}
	query := cmd.Args[0]
	question := cmd.Question(1)

	if cmd.Options.Llava {
		img, err := h.firstImage(ctx, req.Message, ddgUsage)
		if err != nil {
			return command.Reply{}, err
		}
		desc, err := h.Generator.Generate(ctx, llm.Request{
			Prompt: "Describe this image in detail and extract key searchable concepts that would be relevant to the query: " + query,
			Images: []llm.Image{img},
		})
		if err != nil {
			return command.Reply{}, fmt.Errorf("processing image: %w", err)
		}
		query = query + " " + desc
		h.log.Debug("search query enhanced with vision", "query", clip(query, 100))
	}

	resp, err := h.Search.SearchWithRetry(ctx, query)
	if err != nil {
		return command.Reply{}, fmt.Errorf("search failed: %w", err)
	}
	if _, err := h.Store.SaveSearch(resp); err != nil {
		h.log.Warn("save search", "query", query, "error", err)
	}
	results := sources.FormatSearch(resp)
	if question == "" {
		return command.TextReply(results), nil
	}

	prompt := fmt.Sprintf(`I searched for information about "%s" and got these results:

%s

My question is: %s

Please provide a concise, accurate response based on the search results.
If the search results don't contain relevant information about %s, please explain what %s is based on your knowledge.
`, query, results, question, query, query)
	answer, err := h.generate(ctx, prompt, cmd.Options.Groq)
	if err != nil {
		return command.Reply{}, err
	}
	return command.TextReply(withGroqBanner(answer, cmd.Options.Groq)), nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func crawlArgs(cmd command.Command) ([]string, string, error) {
	var (
		urls []string
		used int
	)
	for _, arg := range cmd.Args {
		parts := sources.SplitURLs(arg)
		if len(parts) == 0 || !isURL(parts[0]) {
			break
		}
		for _, p := range parts {
			if isURL(p) {
				urls = appendUnique(urls, p)
			}
		}
		used++
	}
	if len(urls) == 0 {
		return nil, "", command.Usagef(crawlUsage, "missing URL")
	}
	return urls, cmd.Question(used), nil
}

func (h *Handlers) crawl(ctx context.Context, req *command.Request) (command.Reply, error) {
	cmd := req.Command
	urls, question, err := crawlArgs(cmd)
	if err != nil {
		return command.Reply{}, err
	}

	var (
		pages []sources.Page
		errs  []error
	)
	for _, o := range h.Crawler.FetchAll(ctx, urls) {
		if o.Err != nil {
			errs = append(errs, o.Err)
			continue
		}
		if _, err := h.Store.SaveCrawl(o.Value); err != nil {
			h.log.Warn("save crawl", "url", o.Input, "error", err)
		}
		pages = append(pages, o.Value)
	}
	if len(pages) == 0 {
		return command.Reply{}, fmt.Errorf("could not fetch content from any of the provided URLs: %w", errors.Join(errs...))
	}
	reply := command.Reply{Parts: warningParts("⚠️ Error: ", errs)}
	groq := cmd.Options.Groq

	if question != "" {
		var prompt strings.Builder
		prompt.WriteString("I've gathered information from multiple sources:\n\n")
		for _, p := range pages {
			fmt.Fprintf(&prompt, "From %s:\n%s...\n\n", p.URL, clip(p.Text, crawlQuestionChars))
		}
		fmt.Fprintf(&prompt, "\nMy question is: %s\n\nPlease provide a detailed answer using information from all sources.", question)
		answer, err := h.generate(ctx, prompt.String(), groq)
		if err != nil {
			return command.Reply{}, err
		}
		reply.Parts = append(reply.Parts, withGroqBanner(answer, groq))
		return reply, nil
	}

	summaries := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sources.FetchConcurrency)
	for i, p := range pages {
		g.Go(func() error {
			summary, err := h.generate(gctx, "Summarize this content:\n"+clip(p.Text, crawlSummaryChars), groq)
			if err != nil {
				summaries[i] = fmt.Sprintf("⚠️ Error summarizing %s: %v", p.URL, err)
				return nil
			}
			summaries[i] = "# 🌐 Summary: " + p.URL + "\n\n" + withGroqBanner(summary, groq)
			return nil
		})
	}
	_ = g.Wait()
	reply.Parts = append(reply.Parts, summaries...)
	return reply, nil
}

// Package handlers implements the bot's chat commands on top of the
// router, the memory store and the content sources.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/oarc/ollamateacher/internal/bus"
	"github.com/oarc/ollamateacher/internal/channel"
	"github.com/oarc/ollamateacher/internal/command"
	"github.com/oarc/ollamateacher/internal/config"
	"github.com/oarc/ollamateacher/internal/lessons"
	"github.com/oarc/ollamateacher/internal/llm"
	"github.com/oarc/ollamateacher/internal/logger"
	"github.com/oarc/ollamateacher/internal/memory"
	"github.com/oarc/ollamateacher/internal/sources"
	"github.com/oarc/ollamateacher/internal/store"
)

const groqBanner = "🤖 Using Groq API"

type PaperFetcher interface {
	FetchMany(ctx context.Context, ids []string) []sources.Outcome[sources.Paper]
}

type Searcher interface {
	SearchWithRetry(ctx context.Context, query string) (sources.SearchResponse, error)
}

type PageFetcher interface {
	FetchAll(ctx context.Context, urls []string) []sources.Outcome[sources.Page]
}

type Querier interface {
	Query(ctx context.Context, key memory.Key, question string) (store.QueryResult, error)
}

// HistorySource reads past messages of a chat on a transport.
type HistorySource interface {
	History(ctx context.Context, transport, chatID string, limit int) ([]bus.HistoryMessage, channel.ChatInfo, error)
}

// Deps are the collaborators the handlers use. Memory, Store and Generator
// are required; a nil source disables the command that needs it.
type Deps struct {
	Memory    *memory.Store
	Store     *store.Store
	Generator llm.Generator
	Papers    PaperFetcher
	Search    Searcher
	Crawler   PageFetcher
	Query     Querier
	Lessons   *lessons.Catalog
	History   HistorySource

	// HTTPClient downloads attachments that arrive as URLs.
	HTTPClient    *http.Client
	SystemPrompt  string
	MaxImageBytes int64
	Logger        *logger.Logger
}

type Handlers struct {
	Deps
	log *logger.Logger
}

func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.MaxImageBytes <= 0 {
		d.MaxImageBytes = config.DefaultMaxImageBytes
	}
	return &Handlers{Deps: d, log: d.Logger.Named("handlers")}
}

// Register binds every available command to r.
func (h *Handlers) Register(r *command.Router) {
	r.Register(command.Chat, command.Route{Handler: command.HandlerFunc(h.chat), Conversational: true})
	r.Register(command.Help, command.Route{Handler: command.HandlerFunc(h.help)})
	r.Register(command.Reset, command.Route{Handler: command.HandlerFunc(h.reset)})
	r.Register(command.GlobalReset, command.Route{Handler: command.HandlerFunc(h.globalReset), AdminOnly: true})
	r.Register(command.Learn, command.Route{Handler: command.HandlerFunc(h.learn)})
	r.Register(command.Profile, command.Route{Handler: command.HandlerFunc(h.profile)})

	if h.Papers != nil {
		r.Register(command.Arxiv, command.Route{Handler: command.HandlerFunc(h.arxiv), Conversational: true})
	}
	if h.Search != nil {
		r.Register(command.DDG, command.Route{Handler: command.HandlerFunc(h.ddg), Conversational: true})
	}
	if h.Crawler != nil {
		r.Register(command.Crawl, command.Route{Handler: command.HandlerFunc(h.crawl), Conversational: true})
	}
	if h.Query != nil {
		r.Register(command.Pandas, command.Route{Handler: command.HandlerFunc(h.pandas)})
	}
	if h.History != nil {
		r.Register(command.Links, command.Route{Handler: command.HandlerFunc(h.links)})
	}
}

func (h *Handlers) generate(ctx context.Context, prompt string, groq bool) (string, error) {
	return h.Generator.Generate(ctx, llm.Request{
		System: h.SystemPrompt,
		Prompt: prompt,
		Groq:   groq,
	})
}

func withGroqBanner(s string, groq bool) string {
	if !groq {
		return s
	}
	return groqBanner + "\n\n" + s
}

// clip returns at most n bytes of s, cut on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func displayName(msg bus.InboundMessage) string {
	if name := strings.TrimSpace(msg.SenderName); name != "" {
		return name
	}
	return msg.SenderID
}

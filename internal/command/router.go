package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oarc/ollamateacher/internal/bus"
	"github.com/oarc/ollamateacher/internal/logger"
	"github.com/oarc/ollamateacher/internal/memory"
	"github.com/oarc/ollamateacher/internal/metrics"
)

const (
	adminOnlyMessage = "⚠️ Only server administrators and owner can use this command."
	emptyReplyText   = "⚠️ I couldn't come up with a response. Please try rephrasing."
)

// UsageError marks a malformed invocation. The router turns it into a
// usage message instead of an error report.
type UsageError struct {
	Usage  string
	Reason string
}

func (e *UsageError) Error() string {
	if e.Reason == "" {
		return "usage: " + e.Usage
	}
	return e.Reason + "; usage: " + e.Usage
}

func Usagef(usage, format string, args ...any) error {
	return &UsageError{Usage: usage, Reason: fmt.Sprintf(format, args...)}
}

type Reply struct {
	// Parts are sent as separate messages, in order.
	Parts []string
}

func TextReply(s string) Reply {
	return Reply{Parts: []string{s}}
}

func (r Reply) String() string {
	return strings.Join(r.Parts, "\n\n")
}

func (r Reply) Empty() bool {
	for _, p := range r.Parts {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}

// Request is what a handler receives for one message.
type Request struct {
	Command Command
	Key     memory.Key
	Message bus.InboundMessage
}

type Handler interface {
	Handle(ctx context.Context, req *Request) (Reply, error)
}

type HandlerFunc func(ctx context.Context, req *Request) (Reply, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (Reply, error) {
	return f(ctx, req)
}

// Route binds a command name to its handler.
type Route struct {
	Handler Handler
	// Conversational routes record the exchange in the user's log.
	Conversational bool
	AdminOnly      bool
}

type Router struct {
	mem      *memory.Store
	routes   map[Name]Route
	log      *logger.Logger
	metrics  *metrics.Metrics
	onRecord func(memory.Key, []memory.Entry)
}

func NewRouter(mem *memory.Store, log *logger.Logger, m *metrics.Metrics) *Router {
	if log == nil {
		log = logger.Nop()
	}
	return &Router{
		mem:     mem,
		routes:  make(map[Name]Route),
		log:     log.Named("router"),
		metrics: m,
	}
}

func (r *Router) Register(name Name, route Route) {
	r.routes[name] = route
}

// OnRecord sets a callback that receives every exchange appended to the
// memory store.
func (r *Router) OnRecord(fn func(key memory.Key, entries []memory.Entry)) {
	r.onRecord = fn
}

// KeyFor returns the memory key a message belongs to.
func KeyFor(msg bus.InboundMessage) memory.Key {
	return memory.NewKey(msg.GuildID, msg.SenderID)
}

// Route handles msg if it mentions the bot. The second result is false
// when the message was ignored, in which case nothing was read or written.
func (r *Router) Route(ctx context.Context, msg bus.InboundMessage) (Reply, bool) {
	if !msg.Mentioned {
		return Reply{}, false
	}

	text := StripMentions(msg.Content, msg.MentionTokens)
	cmd := Parse(text)
	req := &Request{Command: cmd, Key: KeyFor(msg), Message: msg}

	route, ok := r.routes[cmd.Name]
	if !ok {
		return TextReply(fmt.Sprintf("⚠️ Command `%s` is not available right now.", cmd.Name)), true
	}
	if route.AdminOnly && !msg.IsAdmin {
		r.log.Warn("admin command rejected", "command", cmd.Name, "user", msg.SenderID)
		r.metrics.RecordCommand(string(cmd.Name), "denied", 0)
		return TextReply(adminOnlyMessage), true
	}

	start := time.Now()
	reply, err := route.Handler.Handle(ctx, req)
	elapsed := time.Since(start)

	var usage *UsageError
	switch {
	case errors.As(err, &usage):
		r.metrics.RecordCommand(string(cmd.Name), "usage", elapsed)
		text := "Usage: " + usage.Usage
		if usage.Reason != "" {
			text = "⚠️ " + usage.Reason + "\n" + text
		}
		return TextReply(text), true
	case err != nil:
		r.metrics.RecordCommand(string(cmd.Name), "error", elapsed)
		r.log.Error("command failed", "command", cmd.Name, "user", req.Key.String(), "error", err)
		if route.Conversational {
			r.record(req, "")
		}
		return TextReply("⚠️ Error: " + err.Error()), true
	}

	r.metrics.RecordCommand(string(cmd.Name), "ok", elapsed)
	if reply.Empty() {
		if route.Conversational {
			r.record(req, "")
		}
		reply = TextReply(emptyReplyText)
	} else if route.Conversational {
		r.record(req, reply.String())
	}
	r.log.Debug("command handled", "command", cmd.Name, "user", req.Key.String(), "elapsed", elapsed)
	return reply, true
}

func (r *Router) record(req *Request, answer string) {
	if r.mem == nil {
		return
	}
	asked := req.Message.Timestamp
	if asked.IsZero() {
		asked = time.Now()
	}
	entries := []memory.Entry{{
		Role:      memory.RoleUser,
		Content:   req.Command.Raw,
		Author:    req.Message.SenderName,
		Timestamp: asked,
	}}
	if answer != "" {
		entries = append(entries, memory.Entry{Role: memory.RoleAssistant, Content: answer, Timestamp: time.Now()})
	}
	for _, e := range entries {
		r.mem.Append(req.Key, e)
	}
	r.metrics.SetActiveUsers(r.mem.ActiveUsers())
	if r.onRecord != nil {
		r.onRecord(req.Key, entries)
	}
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oarc/ollamateacher/internal/channel"
	"github.com/oarc/ollamateacher/internal/command"
	"github.com/oarc/ollamateacher/internal/sources"
	"github.com/oarc/ollamateacher/internal/store"
)

const (
	pandasUsage = "!pandas <query>"
	linksUsage  = "!links [limit]"

	// maxLinkScan bounds how far back !links may read.
	maxLinkScan = 10000
)

const queryHints = `Try queries like:
- "show my recent conversations"
- "what topics have I searched for today"
- "count messages by date"`

func (h *Handlers) pandas(ctx context.Context, req *command.Request) (command.Reply, error) {
	question := req.Command.Text
	if question == "" {
		return command.Reply{}, command.Usagef(pandasUsage, "missing query")
	}

	res, err := h.Query.Query(ctx, req.Key, question)
	switch {
	case errors.Is(err, store.ErrNoData):
		return command.TextReply("No data found to query"), nil
	case err != nil:
		h.log.Warn("query failed", "user", req.Key.String(), "error", err)
		return command.TextReply(fmt.Sprintf("# Query Error\nSorry, I couldn't process that query: %v\n\n%s\n", err, queryHints)), nil
	}

	text := fmt.Sprintf("# Query Results\nYour query: `%s`\n\n%s\n\nFound %d matching records.\n", question, res.Markdown(), res.Count)
	if res.SQL != "" {
		text += "\n```sql\n" + res.SQL + "\n```\n"
	}
	return command.TextReply(text), nil
}

func (h *Handlers) links(ctx context.Context, req *command.Request) (command.Reply, error) {
	limit := sources.DefaultLinkScan
	if len(req.Command.Args) > 0 {
		n, err := strconv.Atoi(req.Command.Args[0])
		if err != nil || n <= 0 {
			return command.Reply{}, command.Usagef(linksUsage, "limit must be a positive number")
		}
		limit = min(n, maxLinkScan)
	}

	msg := req.Message
	history, info, err := h.History.History(ctx, msg.Channel, msg.ChatID, limit)
	if errors.Is(err, channel.ErrHistoryUnsupported) {
		return command.TextReply("⚠️ Collecting links is not supported on " + msg.Channel + "."), nil
	}
	if err != nil {
		return command.Reply{}, fmt.Errorf("read channel history: %w", err)
	}

	found := sources.ExtractLinks(history)
	if len(found) == 0 {
		return command.TextReply("No links found in the specified message range."), nil
	}
	path, err := h.Store.SaveLinks(store.LinkSource{
		ChannelName: info.ChannelName,
		ChannelID:   msg.ChatID,
		GuildName:   info.GuildName,
		GuildID:     info.GuildID,
	}, found)
	if err != nil {
		h.log.Warn("save links", "channel", msg.ChatID, "error", err)
	} else {
		h.log.Info("links saved", "path", path, "count", len(found))
	}

	parts := sources.RenderLinks(sources.LinkReport{
		ChannelName: info.ChannelName,
		GuildName:   info.GuildName,
		Searched:    len(history),
		Links:       found,
		GeneratedAt: time.Now().UTC(),
	})
	categories := make(map[sources.Category]bool)
	for _, l := range found {
		categories[l.Category] = true
	}
	parts = append(parts, fmt.Sprintf("Found %d links across %d categories.", len(found), len(categories)))
	return command.Reply{Parts: parts}, nil
}

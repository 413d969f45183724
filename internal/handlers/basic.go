package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/oarc/ollamateacher/internal/command"
	"github.com/oarc/ollamateacher/internal/lessons"
	"github.com/oarc/ollamateacher/internal/profile"
	"github.com/oarc/ollamateacher/internal/store"
)

const HelpText = "# 🤖 Ollama Teacher Bot Commands\n\n" +
	"## Personal Commands\n" +
	"- `!profile` - View your learning profile\n" +
	"- `!profile <question>` - Ask about your learning history\n" +
	"- `!reset` - Clear your conversation history\n\n" +
	"## AI-Powered Commands\n" +
	"- `!arxiv <arxiv_url_or_id> [--memory] [--groq] <question>` - Learn from ArXiv papers\n" +
	"- `!ddg <query> [--groq] [--llava] <question>` - Search DuckDuckGo and learn\n" +
	"- `!crawl <url1> [url2 url3...] [--groq] <question>` - Learn from web pages\n" +
	"- `!pandas <query>` - Query stored data using natural language\n" +
	"- `!links [limit]` - Collect and organize links from channel history\n" +
	"- `!learn [topic]` - Learning resources and lessons\n\n" +
	"## Admin Commands\n" +
	"- `!globalReset` - Reset all conversations (admin only)\n\n" +
	"## Special Features\n" +
	"- Add `--groq` flag to use Groq's API for potentially improved responses\n" +
	"- Add `--llava` flag with an attached image to use vision models\n" +
	"- Add `--memory` with arxiv command to enable persistent memory\n" +
	"- Simply mention the bot to start a conversation without commands\n\n" +
	"## Examples\n" +
	"```\n" +
	"!profile                                    # View your profile\n" +
	"!profile What topics have I been learning?  # Ask about your progress\n" +
	"!arxiv --memory 1706.03762 Tell me about attention mechanisms\n" +
	"!arxiv 1706.03762 2104.05704 Compare these two papers  # Multiple papers\n" +
	"!ddg \"python asyncio\" How to use async/await?\n" +
	"!ddg --llava \"neural network\" How does this type match the image?  # With image\n" +
	"!crawl https://pypi.org/project/ollama/ https://github.com/ollama/ollama Compare these\n" +
	"!links 500                                  # Collect links from last 500 messages\n" +
	"```\n"

const (
	resetDone       = "✅ Your conversation context has been reset."
	resetNothing    = "✅ Nothing to clear, your conversation context is already empty."
	globalResetDone = "🔄 Global conversation context has been reset."
)

func (h *Handlers) help(ctx context.Context, req *command.Request) (command.Reply, error) {
	return command.TextReply(HelpText), nil
}

func (h *Handlers) reset(ctx context.Context, req *command.Request) (command.Reply, error) {
	existed, err := h.Memory.Reset(req.Key)
	if err != nil {
		return command.Reply{}, fmt.Errorf("reset: %w", err)
	}
	h.log.Info("user reset", "user", req.Key.String(), "existed", existed)
	if !existed {
		return command.TextReply(resetNothing), nil
	}
	return command.TextReply(resetDone), nil
}

func (h *Handlers) globalReset(ctx context.Context, req *command.Request) (command.Reply, error) {
	if err := h.Memory.GlobalReset(); err != nil {
		return command.Reply{}, fmt.Errorf("global reset: %w", err)
	}
	h.log.Warn("global reset", "by", req.Message.SenderID)
	return command.TextReply(globalResetDone), nil
}

func (h *Handlers) learn(ctx context.Context, req *command.Request) (command.Reply, error) {
	if h.Lessons == nil {
		return command.TextReply(lessons.DefaultResources), nil
	}
	if err := h.Lessons.Reload(); err != nil {
		h.log.Warn("reload lessons", "error", err)
	}
	topic := req.Command.Text
	if topic == "" {
		return command.TextReply(h.Lessons.Overview()), nil
	}
	lesson, ok := h.Lessons.Find(topic)
	if !ok {
		return command.TextReply(fmt.Sprintf("⚠️ No lesson matches %q.\n\n%s", topic, h.Lessons.Overview())), nil
	}
	return command.TextReply(lesson.Markdown()), nil
}

func (h *Handlers) profile(ctx context.Context, req *command.Request) (command.Reply, error) {
	name := displayName(req.Message)
	p, err := h.Store.LoadProfile(req.Key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return command.TextReply(profile.NotFoundMessage(name)), nil
	case err != nil:
		return command.Reply{}, fmt.Errorf("accessing profile: %w", err)
	}

	entries := h.Memory.UserEntries(req.Key, 0)
	question := req.Command.Text
	if question == "" {
		return command.TextReply(profile.Render(name, p, entries)), nil
	}

	answer, err := h.generate(ctx, profile.QuestionPrompt(name, p, entries, question), false)
	if err != nil {
		return command.Reply{}, err
	}
	return command.TextReply("# 🔍 Profile Query\n\n" + answer), nil
}

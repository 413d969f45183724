package channel

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oarc/ollamateacher/internal/bus"
	"github.com/oarc/ollamateacher/internal/logger"
)

var ErrHistoryUnsupported = errors.New("channel history is not available on this transport")

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// ChatInfo names the chat a history was read from.
type ChatInfo struct {
	ChannelName string
	GuildID     string
	GuildName   string
}

// HistoryReader is implemented by transports that can read back past
// messages of a chat. History returns messages newest first.
type HistoryReader interface {
	History(ctx context.Context, chatID string, limit int) ([]bus.HistoryMessage, error)
	ChatInfo(chatID string) (ChatInfo, error)
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
	admins    map[string]bool
	log       *logger.Logger
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{
		name:      name,
		bus:       b,
		allowFrom: toSet(allowFrom),
		admins:    map[string]bool{},
		log:       logger.Nop().Named(name),
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether senderID may talk to the bot. An empty
// allow-list admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}

// SetAdmins marks sender IDs that count as administrators regardless of
// transport roles.
func (c *BaseChannel) SetAdmins(ids []string) {
	c.admins = toSet(ids)
}

func (c *BaseChannel) isConfiguredAdmin(senderID string) bool {
	return c.admins[senderID]
}

func (c *BaseChannel) SetLogger(log *logger.Logger) {
	if log != nil {
		c.log = log.Named(c.name)
	}
}

// publish hands msg to the gateway, giving up when ctx ends.
func (c *BaseChannel) publish(ctx context.Context, msg bus.InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case c.bus.Inbound <- msg:
	case <-ctx.Done():
	}
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = true
		}
	}
	return m
}

// SplitMessage cuts s into chunks of at most max bytes, preferring to break
// after a newline, then after a space. Chunks never split a UTF-8 sequence.
func SplitMessage(s string, max int) []string {
	if max <= 0 || len(s) <= max {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return []string{s}
	}
	var out []string
	for len(s) > max {
		cut := strings.LastIndex(s[:max], "\n")
		if cut <= 0 {
			cut = strings.LastIndex(s[:max], " ")
		}
		if cut <= 0 {
			cut = max
			for cut > 0 && s[cut]&0xC0 == 0x80 {
				cut--
			}
		} else {
			cut++
		}
		if chunk := strings.TrimRight(s[:cut], "\n "); chunk != "" {
			out = append(out, chunk)
		}
		s = s[cut:]
	}
	if strings.TrimSpace(s) != "" {
		out = append(out, s)
	}
	return out
}

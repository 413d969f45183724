package bus

import (
	"strings"
	"time"
)

// Attachment is a file sent alongside a chat message. Data is filled lazily
// by whoever needs the bytes.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	URL         string
	Data        []byte
}

func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
}

type InboundMessage struct {
	Channel       string
	SenderID      string
	SenderName    string
	ChatID        string
	GuildID       string // empty for direct messages
	MessageID     string
	Content       string
	Mentioned     bool     // message addresses the bot
	MentionTokens []string // literal tokens that reference the bot, stripped before parsing
	IsAdmin       bool
	Attachments   []Attachment
	Timestamp     time.Time
	Metadata      map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

func (m *InboundMessage) IsDirect() bool {
	return m.GuildID == ""
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}

// HistoryMessage is a past message read back from a channel's history.
type HistoryMessage struct {
	ID         string
	SenderID   string
	SenderName string
	Content    string
	Timestamp  time.Time
}

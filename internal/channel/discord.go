package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/oarc/ollamateacher/internal/bus"
	"github.com/oarc/ollamateacher/internal/config"
)

const (
	discordChannelName = "discord"
	slashHelpName      = "help"
	// DiscordMaxMessage is Discord's per-message character limit.
	DiscordMaxMessage = 2000
	discordPageSize   = 100
)

// DiscordSession is the subset of the Discord API the channel uses.
type DiscordSession interface {
	Open() error
	Close() error
	Self() *discordgo.User
	OnMessage(fn func(m *discordgo.MessageCreate))
	Send(channelID string, msg *discordgo.MessageSend) error
	Messages(channelID string, limit int, beforeID string) ([]*discordgo.Message, error)
	Channel(channelID string) (*discordgo.Channel, error)
	Guild(guildID string) (*discordgo.Guild, error)
	Permissions(userID, channelID string) (int64, error)
	Typing(channelID string) error
	OnInteraction(fn func(i *discordgo.InteractionCreate))
	CreateCommand(appID string, cmd *discordgo.ApplicationCommand) error
	Respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error
}

type discordSession struct {
	s *discordgo.Session
}

func (w *discordSession) Open() error  { return w.s.Open() }
func (w *discordSession) Close() error { return w.s.Close() }

func (w *discordSession) Self() *discordgo.User {
	if w.s.State == nil {
		return nil
	}
	return w.s.State.User
}

func (w *discordSession) OnMessage(fn func(m *discordgo.MessageCreate)) {
	w.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		fn(m)
	})
}

func (w *discordSession) Send(channelID string, msg *discordgo.MessageSend) error {
	_, err := w.s.ChannelMessageSendComplex(channelID, msg)
	return err
}

func (w *discordSession) Messages(channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
	return w.s.ChannelMessages(channelID, limit, beforeID, "", "")
}

func (w *discordSession) Channel(channelID string) (*discordgo.Channel, error) {
	return w.s.Channel(channelID)
}

// Guild reads the gateway state cache and only falls back to REST when the
// guild is not cached.
func (w *discordSession) Guild(guildID string) (*discordgo.Guild, error) {
	if w.s.StateEnabled && w.s.State != nil {
		if g, err := w.s.State.Guild(guildID); err == nil {
			return g, nil
		}
	}
	return w.s.Guild(guildID)
}

func (w *discordSession) Permissions(userID, channelID string) (int64, error) {
	return w.s.UserChannelPermissions(userID, channelID)
}

func (w *discordSession) Typing(channelID string) error {
	return w.s.ChannelTyping(channelID)
}

func (w *discordSession) OnInteraction(fn func(i *discordgo.InteractionCreate)) {
	w.s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		fn(i)
	})
}

func (w *discordSession) CreateCommand(appID string, cmd *discordgo.ApplicationCommand) error {
	_, err := w.s.ApplicationCommandCreate(appID, "", cmd)
	return err
}

func (w *discordSession) Respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return w.s.InteractionRespond(i, resp)
}

// SessionFactory creates Discord sessions (allows mocking).
type SessionFactory func(token string) (DiscordSession, error)

var defaultSessionFactory SessionFactory = func(token string) (DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	return &discordSession{s: s}, nil
}

type DiscordChannel struct {
	BaseChannel
	token    string
	factory  SessionFactory
	helpText string

	mu      sync.RWMutex
	session DiscordSession
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) (*DiscordChannel, error) {
	return NewDiscordChannelWithFactory(cfg, b, defaultSessionFactory)
}

// NewDiscordChannelWithFactory creates a DiscordChannel with a custom
// session factory (for testing).
func NewDiscordChannelWithFactory(cfg config.DiscordConfig, b *bus.MessageBus, factory SessionFactory) (*DiscordChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	return &DiscordChannel{
		BaseChannel: NewBaseChannel(discordChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		factory:     factory,
		ctx:         context.Background(),
	}, nil
}

func (d *DiscordChannel) Start(ctx context.Context) error {
	session, err := d.factory(d.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.session = session
	d.ctx = runCtx
	d.cancel = cancel
	d.mu.Unlock()

	session.OnMessage(d.handleMessage)
	if d.helpText != "" {
		session.OnInteraction(d.handleInteraction)
	}
	if err := session.Open(); err != nil {
		cancel()
		return fmt.Errorf("open discord session: %w", err)
	}
	self := session.Self()
	if self != nil {
		d.log.Info("logged in", "user", self.Username, "id", self.ID)
	}
	if d.helpText != "" && self != nil {
		err := session.CreateCommand(self.ID, &discordgo.ApplicationCommand{
			Name:        slashHelpName,
			Description: "Show the bot's commands",
		})
		if err != nil {
			d.log.Warn("register slash command failed", "command", slashHelpName, "error", err)
		}
	}
	return nil
}

// SetHelpText enables the /help application command, answered with text.
// It must be called before Start.
func (d *DiscordChannel) SetHelpText(text string) {
	d.helpText = text
}

func (d *DiscordChannel) handleInteraction(i *discordgo.InteractionCreate) {
	session, _ := d.current()
	if session == nil || i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != slashHelpName {
		return
	}
	chunks := SplitMessage(d.helpText, DiscordMaxMessage)
	if len(chunks) == 0 {
		return
	}
	err := session.Respond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: chunks[0]},
	})
	if err != nil {
		d.log.Warn("respond to slash command failed", "command", slashHelpName, "error", err)
		return
	}
	for _, chunk := range chunks[1:] {
		if err := session.Send(i.ChannelID, &discordgo.MessageSend{Content: chunk}); err != nil {
			d.log.Warn("send help failed", "chat", i.ChannelID, "error", err)
			return
		}
	}
}

func (d *DiscordChannel) Stop() error {
	d.mu.Lock()
	session, cancel := d.session, d.cancel
	d.session, d.cancel = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	d.log.Info("stopped")
	return nil
}

func (d *DiscordChannel) current() (DiscordSession, context.Context) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session, d.ctx
}

func (d *DiscordChannel) handleMessage(m *discordgo.MessageCreate) {
	session, ctx := d.current()
	if session == nil || m == nil || m.Message == nil || m.Author == nil {
		return
	}
	self := session.Self()
	if m.Author.Bot || (self != nil && m.Author.ID == self.ID) {
		return
	}
	if !d.IsAllowed(m.Author.ID) {
		d.log.Debug("rejected message", "user", m.Author.ID)
		return
	}

	msg := bus.InboundMessage{
		Channel:    discordChannelName,
		SenderID:   m.Author.ID,
		SenderName: displayName(m.Message),
		ChatID:     m.ChannelID,
		GuildID:    m.GuildID,
		MessageID:  m.ID,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		Metadata:   map[string]any{"username": m.Author.Username},
	}
	if self != nil {
		msg.Mentioned = mentions(m.Message, self.ID)
		msg.MentionTokens = []string{"<@" + self.ID + ">", "<@!" + self.ID + ">"}
	}
	if !msg.Mentioned {
		return
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, bus.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        int64(a.Size),
			URL:         a.URL,
		})
	}
	msg.IsAdmin = d.isAdmin(session, m.Message)

	if err := session.Typing(m.ChannelID); err != nil {
		d.log.Debug("typing indicator failed", "channel", m.ChannelID, "error", err)
	}
	d.publish(ctx, msg)
}

// mentions reports whether m addresses the user directly. @everyone and
// role mentions do not count.
func mentions(m *discordgo.Message, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// isAdmin grants admin to configured IDs, the guild owner and members with
// the Administrator permission.
func (d *DiscordChannel) isAdmin(session DiscordSession, m *discordgo.Message) bool {
	if d.isConfiguredAdmin(m.Author.ID) {
		return true
	}
	if m.GuildID == "" {
		return false
	}
	if g, err := session.Guild(m.GuildID); err == nil && g != nil && g.OwnerID == m.Author.ID {
		return true
	}
	perms, err := session.Permissions(m.Author.ID, m.ChannelID)
	if err != nil {
		d.log.Debug("permission lookup failed", "user", m.Author.ID, "error", err)
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

func (d *DiscordChannel) Send(msg bus.OutboundMessage) error {
	session, _ := d.current()
	if session == nil {
		return fmt.Errorf("discord session not started")
	}
	for i, chunk := range SplitMessage(msg.Content, DiscordMaxMessage) {
		out := &discordgo.MessageSend{Content: chunk}
		if i == 0 && msg.ReplyTo != "" {
			out.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: msg.ChatID}
		}
		if err := session.Send(msg.ChatID, out); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// History pages backwards through a channel, newest first, until limit
// messages were read or the channel start is reached.
func (d *DiscordChannel) History(ctx context.Context, chatID string, limit int) ([]bus.HistoryMessage, error) {
	session, _ := d.current()
	if session == nil {
		return nil, fmt.Errorf("discord session not started")
	}
	var (
		out    []bus.HistoryMessage
		before string
	)
	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		page := min(discordPageSize, limit-len(out))
		msgs, err := session.Messages(chatID, page, before)
		if err != nil {
			return out, fmt.Errorf("read discord history: %w", err)
		}
		for _, m := range msgs {
			if m == nil || m.Author == nil {
				continue
			}
			out = append(out, bus.HistoryMessage{
				ID:         m.ID,
				SenderID:   m.Author.ID,
				SenderName: displayName(m),
				Content:    m.Content,
				Timestamp:  m.Timestamp,
			})
		}
		if len(msgs) < page {
			break
		}
		before = msgs[len(msgs)-1].ID
	}
	return out, nil
}

func (d *DiscordChannel) ChatInfo(chatID string) (ChatInfo, error) {
	session, _ := d.current()
	if session == nil {
		return ChatInfo{}, fmt.Errorf("discord session not started")
	}
	ch, err := session.Channel(chatID)
	if err != nil {
		return ChatInfo{}, fmt.Errorf("look up channel %s: %w", chatID, err)
	}
	info := ChatInfo{ChannelName: ch.Name, GuildID: ch.GuildID, GuildName: "Direct Message"}
	if info.ChannelName == "" {
		info.ChannelName = "direct-message"
	}
	if ch.GuildID != "" {
		if g, err := session.Guild(ch.GuildID); err == nil && g != nil {
			info.GuildName = g.Name
		}
	}
	return info, nil
}

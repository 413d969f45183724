package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oarc/ollamateacher/internal/bus"
	"github.com/oarc/ollamateacher/internal/config"
	"github.com/oarc/ollamateacher/internal/logger"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	log      *logger.Logger
}

func NewChannelManager(cfg *config.Config, b *bus.MessageBus, log *logger.Logger) (*ChannelManager, error) {
	if log == nil {
		log = logger.Nop()
	}
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		log:      log.Named("channel-mgr"),
	}

	if cfg.Channels.Discord.Enabled {
		ch, err := NewDiscordChannel(cfg.Channels.Discord, b)
		if err != nil {
			return nil, fmt.Errorf("init discord channel: %w", err)
		}
		ch.SetAdmins(cfg.Bot.AdminIDs)
		ch.SetLogger(log)
		m.Add(ch)
	}

	if cfg.Channels.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Channels.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		ch.SetAdmins(cfg.Bot.AdminIDs)
		ch.SetLogger(log)
		m.Add(ch)
	}

	return m, nil
}

// Add registers ch and routes outbound messages for its name to it.
func (m *ChannelManager) Add(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.log.Warn("send failed", "channel", ch.Name(), "chat", msg.ChatID, "error", err)
		}
	})
}

// SetHelpText hands the help text to transports that offer a native help
// command.
func (m *ChannelManager) SetHelpText(text string) {
	for _, ch := range m.channels {
		if h, ok := ch.(interface{ SetHelpText(string) }); ok {
			h.SetHelpText(text)
		}
	}
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.log.Info("starting channel", "channel", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.log.Info("stopping channel", "channel", name)
		if err := ch.Stop(); err != nil {
			m.log.Warn("stop failed", "channel", name, "error", err)
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// History reads a chat's past messages through the named transport.
func (m *ChannelManager) History(ctx context.Context, channel, chatID string, limit int) ([]bus.HistoryMessage, ChatInfo, error) {
	ch, ok := m.channels[channel]
	if !ok {
		return nil, ChatInfo{}, fmt.Errorf("unknown channel %q", channel)
	}
	hr, ok := ch.(HistoryReader)
	if !ok {
		return nil, ChatInfo{}, ErrHistoryUnsupported
	}
	info, err := hr.ChatInfo(chatID)
	if err != nil {
		return nil, ChatInfo{}, err
	}
	msgs, err := hr.History(ctx, chatID, limit)
	if err != nil {
		return nil, ChatInfo{}, err
	}
	return msgs, info, nil
}

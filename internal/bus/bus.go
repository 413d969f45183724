package bus

import (
	"context"
	"sync"
)

// MessageBus decouples chat transports from message processing. Transports
// push to Inbound; the gateway pushes replies to Outbound and
// DispatchOutbound routes them to the subscriber registered for the
// message's channel.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	// OnUnroutable is called for outbound messages with no subscriber.
	OnUnroutable func(OutboundMessage)

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

// Publish queues an outbound message, giving up when ctx is done.
func (b *MessageBus) Publish(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.Outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn, ok := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				if b.OnUnroutable != nil {
					b.OnUnroutable(msg)
				}
				continue
			}
			fn(msg)
		case <-ctx.Done():
			return
		}
	}
}

package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_DispatchToSubscriber(t *testing.T) {
	b := NewMessageBus(4)
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("discord", func(msg OutboundMessage) { got <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "discord", ChatID: "c1", Content: "hi"}

	select {
	case msg := <-got:
		if msg.ChatID != "c1" || msg.Content != "hi" {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dispatch")
	}
}

func TestMessageBus_Unroutable(t *testing.T) {
	b := NewMessageBus(4)
	dropped := make(chan OutboundMessage, 1)
	b.OnUnroutable = func(msg OutboundMessage) { dropped <- msg }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "nowhere"}

	select {
	case msg := <-dropped:
		if msg.Channel != "nowhere" {
			t.Errorf("channel = %q", msg.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unroutable callback")
	}
}

func TestMessageBus_PublishCancelled(t *testing.T) {
	b := NewMessageBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Publish(ctx, OutboundMessage{Channel: "x"}); err == nil {
		t.Error("expected context error on unbuffered bus with no reader")
	}
}

func TestInboundMessage_Helpers(t *testing.T) {
	msg := InboundMessage{Channel: "discord", ChatID: "42"}
	if msg.SessionKey() != "discord:42" {
		t.Errorf("SessionKey = %q", msg.SessionKey())
	}
	if !msg.IsDirect() {
		t.Error("message without guild should be direct")
	}
	msg.GuildID = "g"
	if msg.IsDirect() {
		t.Error("guild message should not be direct")
	}
}

func TestAttachment_IsImage(t *testing.T) {
	if !(Attachment{ContentType: "image/PNG"}).IsImage() {
		t.Error("image/PNG should be an image")
	}
	if (Attachment{ContentType: "application/pdf"}).IsImage() {
		t.Error("pdf should not be an image")
	}
}

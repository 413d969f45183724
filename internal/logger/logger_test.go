package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", ""} {
		l, err := New(mode, "debug")
		if err != nil {
			t.Fatalf("New(%q) error: %v", mode, err)
		}
		if l.SugaredLogger == nil {
			t.Fatalf("New(%q) returned nil sugared logger", mode)
		}
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("dev", "chatty"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestRedactsSecrets(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Info("connect", "discord_token", "abc", "user", "42")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["discord_token"] != "[REDACTED]" {
		t.Errorf("token not redacted: %v", fields["discord_token"])
	}
	if fields["user"] != "42" {
		t.Errorf("user = %v, want 42", fields["user"])
	}
}

func TestNamedAndWith(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Named("gateway").With("channel", "discord").Debug("inbound")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].LoggerName != "gateway" {
		t.Errorf("logger name = %q, want gateway", entries[0].LoggerName)
	}
	if entries[0].ContextMap()["channel"] != "discord" {
		t.Errorf("channel field missing")
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("discarded", "k", "v")
	l.Sync()
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oarc/ollamateacher/internal/config"
	"github.com/oarc/ollamateacher/internal/handlers"
	"github.com/oarc/ollamateacher/internal/lessons"
	"github.com/oarc/ollamateacher/internal/llm"
	"github.com/oarc/ollamateacher/internal/logger"
	"github.com/oarc/ollamateacher/internal/metrics"
)

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("TEACHERBOT_HOME", home)
	t.Setenv("TEACHERBOT_LOG_LEVEL", "error")
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("DATA_DIR", "")
	return home
}

func fakeGenerator(answer string) func(*config.Config, *metrics.Metrics, *logger.Logger) (llm.Generator, error) {
	return func(*config.Config, *metrics.Metrics, *logger.Logger) (llm.Generator, error) {
		return llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
			return answer, nil
		}), nil
	}
}

func execute(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app.Stdout = &out
	if app.Stdin == nil {
		app.Stdin = strings.NewReader("")
	}
	app.Stderr = &bytes.Buffer{}
	cmd := newRootCmd(app)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOnboard(t *testing.T) {
	home := setupHome(t)

	out, err := execute(t, &App{}, "onboard")
	if err != nil {
		t.Fatalf("onboard error: %v", err)
	}
	if !strings.Contains(out, "Created config") {
		t.Errorf("output = %q, want config creation", out)
	}
	if _, err := os.Stat(filepath.Join(home, "config.json")); err != nil {
		t.Errorf("config not written: %v", err)
	}
	for _, sub := range []string{"papers", "searches", "crawls", "links", "user_profiles", "conversations"} {
		if _, err := os.Stat(filepath.Join(home, "data", sub)); err != nil {
			t.Errorf("data/%s missing: %v", sub, err)
		}
	}
	if _, err := os.Stat(filepath.Join(home, "data", "lessons", "ollama-basics", lessons.LessonFileName)); err != nil {
		t.Errorf("sample lesson missing: %v", err)
	}

	out, err = execute(t, &App{}, "onboard")
	if err != nil {
		t.Fatalf("second onboard error: %v", err)
	}
	if !strings.Contains(out, "Config already exists") {
		t.Errorf("output = %q, want existing config notice", out)
	}
}

func TestStatus(t *testing.T) {
	setupHome(t)

	out, err := execute(t, &App{}, "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(out, "not found (run 'teacherbot onboard')") {
		t.Errorf("output = %q, want missing data notice", out)
	}

	if _, err := execute(t, &App{}, "onboard"); err != nil {
		t.Fatalf("onboard error: %v", err)
	}
	out, _ = execute(t, &App{}, "status")
	for _, want := range []string{"Groq API Key: not set", "Discord: enabled=true token=not set", "0 papers"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "not set"},
		{"short", "set"},
		{"gsk_1234567890abcd", "gsk_...abcd"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAsk_SingleMessage(t *testing.T) {
	setupHome(t)

	out, err := execute(t, &App{GeneratorFactory: fakeGenerator("unused")}, "ask", "-m", "!help")
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if strings.TrimSpace(out) != strings.TrimSpace(handlers.HelpText) {
		t.Errorf("output = %q, want help text", out)
	}

	out, err = execute(t, &App{GeneratorFactory: fakeGenerator("Attention weighs tokens.")}, "ask", "-m", "what is attention?")
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if strings.TrimSpace(out) != "Attention weighs tokens." {
		t.Errorf("output = %q", out)
	}
}

func TestAsk_REPL(t *testing.T) {
	setupHome(t)

	app := &App{
		GeneratorFactory: fakeGenerator("answer"),
		Stdin:            strings.NewReader("first\n\nsecond\nexit\nignored\n"),
	}
	out, err := execute(t, app, "ask")
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if n := strings.Count(out, "answer"); n != 2 {
		t.Errorf("answers = %d, want 2:\n%s", n, out)
	}
}

func TestCron_AddListRemove(t *testing.T) {
	setupHome(t)

	out, err := execute(t, &App{}, "cron", "list")
	if err != nil {
		t.Fatalf("cron list error: %v", err)
	}
	if !strings.Contains(out, "No jobs.") {
		t.Errorf("output = %q, want no jobs", out)
	}

	out, err = execute(t, &App{}, "cron", "add", "--name", "tip", "-s", "every 1h", "-m", "Share a tip", "--channel", "discord", "--to", "123")
	if err != nil {
		t.Fatalf("cron add error: %v", err)
	}
	if !strings.Contains(out, "Added job") || !strings.Contains(out, "every 1h0m0s") {
		t.Errorf("output = %q", out)
	}
	id := strings.Fields(out)[2]

	out, _ = execute(t, &App{}, "cron", "list")
	if !strings.Contains(out, id) || !strings.Contains(out, "tip") {
		t.Errorf("list output = %q, want job %s", out, id)
	}

	if _, err := execute(t, &App{}, "cron", "remove", id); err != nil {
		t.Fatalf("cron remove error: %v", err)
	}
	if _, err := execute(t, &App{}, "cron", "remove", id); err == nil {
		t.Error("expected error removing missing job")
	}
}

func TestCron_AddValidation(t *testing.T) {
	setupHome(t)

	if _, err := execute(t, &App{}, "cron", "add", "-s", "whenever", "-m", "x"); err == nil {
		t.Error("expected schedule parse error")
	}
	if _, err := execute(t, &App{}, "cron", "add", "-s", "@daily"); err == nil {
		t.Error("expected missing message error")
	}
}

func TestRun_RequiresDiscordToken(t *testing.T) {
	setupHome(t)

	_, err := execute(t, &App{GeneratorFactory: fakeGenerator("")}, "run")
	if err == nil || !strings.Contains(err.Error(), "discord token not set") {
		t.Errorf("err = %v, want missing token error", err)
	}
}

func TestSupervise_StopsOnCleanExit(t *testing.T) {
	setupHome(t)

	calls := 0
	app := &App{Runner: func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	}}
	if _, err := execute(t, app, "supervise"); err != nil {
		t.Fatalf("supervise error: %v", err)
	}
	if calls != 1 {
		t.Errorf("runner calls = %d, want 1", calls)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo world", 5); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

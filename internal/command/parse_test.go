package command

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName Name
		wantOpts Options
		wantArgs []string
		wantText string
	}{
		{
			name:     "help",
			input:    "!help",
			wantName: Help,
		},
		{
			name:     "case insensitive",
			input:    "!GlobalRESET",
			wantName: GlobalReset,
		},
		{
			name:     "arxiv with flags before args",
			input:    "!arxiv --memory --groq 1706.03762 what is attention?",
			wantName: Arxiv,
			wantOpts: Options{Memory: true, Groq: true},
			wantArgs: []string{"1706.03762", "what", "is", "attention?"},
			wantText: "1706.03762 what is attention?",
		},
		{
			name:     "flags interspersed",
			input:    "!ddg golang --groq generics --llava",
			wantName: DDG,
			wantOpts: Options{Groq: true, Llava: true},
			wantArgs: []string{"golang", "generics"},
			wantText: "golang generics",
		},
		{
			name:     "quoted phrase is one arg",
			input:    `!ddg "rust borrow checker" explain it`,
			wantName: DDG,
			wantArgs: []string{"rust borrow checker", "explain", "it"},
			wantText: `"rust borrow checker" explain it`,
		},
		{
			name:     "unknown command falls back to chat",
			input:    "!dance please",
			wantName: Chat,
			wantArgs: []string{"!dance", "please"},
			wantText: "!dance please",
		},
		{
			name:     "plain chat keeps newlines",
			input:    "explain this\nfunc main() {}",
			wantName: Chat,
			wantArgs: []string{"explain", "this", "func", "main()", "{}"},
			wantText: "explain this\nfunc main() {}",
		},
		{
			name:     "chat with llava flag",
			input:    "--llava what is this?",
			wantName: Chat,
			wantOpts: Options{Llava: true},
			wantArgs: []string{"what", "is", "this?"},
			wantText: "what is this?",
		},
		{
			name:     "quoted flag is not a flag",
			input:    `!ddg "--groq"`,
			wantName: DDG,
			wantArgs: []string{"--groq"},
			wantText: `"--groq"`,
		},
		{
			name:     "empty",
			input:    "   ",
			wantName: Chat,
		},
		{
			name:     "bare bang",
			input:    "! hi",
			wantName: Chat,
			wantArgs: []string{"!", "hi"},
			wantText: "! hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if got.Options != tt.wantOpts {
				t.Errorf("Options = %+v, want %+v", got.Options, tt.wantOpts)
			}
			if !reflect.DeepEqual(got.Args, tt.wantArgs) {
				t.Errorf("Args = %q, want %q", got.Args, tt.wantArgs)
			}
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
		})
	}
}

func TestCommand_Question(t *testing.T) {
	cmd := Parse("!arxiv --memory 1706.03762 what is\nmulti-head attention?")
	if got := cmd.Question(1); got != "what is\nmulti-head attention?" {
		t.Errorf("Question(1) = %q", got)
	}
	if got := cmd.Question(5); got != "" {
		t.Errorf("Question(5) = %q, want empty", got)
	}

	quoted := Parse(`!ddg "vector databases" which one for RAG`)
	if got := quoted.Question(1); got != "which one for RAG" {
		t.Errorf("Question(1) = %q", got)
	}
}

func TestStripMentions(t *testing.T) {
	got := StripMentions("<@123> !help <@!123>", []string{"<@123>", "<@!123>"})
	if got != "!help" {
		t.Errorf("StripMentions = %q", got)
	}
	if got := StripMentions("@teacher_bot hi", []string{"@teacher_bot", ""}); got != "hi" {
		t.Errorf("StripMentions = %q", got)
	}
	if got := StripMentions("@TEACHER_BOT !help", []string{"@Teacher_Bot"}); got != "!help" {
		t.Errorf("StripMentions mixed case = %q", got)
	}
	if got := StripMentions("@teacher.bot ok", []string{"@teacher.bot"}); got != "ok" {
		t.Errorf("StripMentions = %q", got)
	}
}

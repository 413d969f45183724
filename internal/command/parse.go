package command

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Name string

const (
	Chat        Name = "chat"
	Help        Name = "help"
	Reset       Name = "reset"
	GlobalReset Name = "globalReset"
	Learn       Name = "learn"
	Arxiv       Name = "arxiv"
	DDG         Name = "ddg"
	Crawl       Name = "crawl"
	Pandas      Name = "pandas"
	Links       Name = "links"
	Profile     Name = "profile"
)

// Names lists the bang commands in help order.
var Names = []Name{Help, Reset, GlobalReset, Learn, Arxiv, DDG, Crawl, Pandas, Links, Profile}

var byLowerName = func() map[string]Name {
	m := make(map[string]Name, len(Names))
	for _, n := range Names {
		m[strings.ToLower(string(n))] = n
	}
	return m
}()

const (
	flagMemory = "--memory"
	flagGroq   = "--groq"
	flagLlava  = "--llava"
)

// Options are the per-invocation switches a message may carry.
type Options struct {
	Memory bool
	Groq   bool
	Llava  bool
}

type Command struct {
	Name    Name
	Options Options
	// Args are the payload tokens with surrounding quotes removed.
	Args []string
	// Text is the payload with the command and flag tokens cut out and the
	// original spacing between the remaining tokens kept.
	Text string
	// Raw is the full input the command was parsed from.
	Raw string
}

// Question returns the payload after the first n arguments, in its
// original spacing.
func (c Command) Question(n int) string {
	toks := tokenize(c.Text)
	if n >= len(toks) {
		return ""
	}
	return strings.TrimSpace(c.Text[toks[n].start:])
}

type token struct {
	value      string
	raw        string
	start, end int
}

func tokenize(s string) []token {
	var toks []token
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		start := i
		if r == '"' {
			if end := strings.IndexByte(s[i+1:], '"'); end >= 0 {
				stop := i + 1 + end + 1
				toks = append(toks, token{value: s[i+1 : stop-1], raw: s[start:stop], start: start, end: stop})
				i = stop
				continue
			}
		}
		for i < len(s) {
			r, size = utf8.DecodeRuneInString(s[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		toks = append(toks, token{value: s[start:i], raw: s[start:i], start: start, end: i})
	}
	return toks
}

// Parse turns a mention-stripped message into a Command. A leading "!name"
// matching a known command selects it (case-insensitively); anything else,
// including unknown "!words", is a chat message. Flags are recognized
// anywhere in the text.
func Parse(text string) Command {
	text = strings.TrimSpace(text)
	cmd := Command{Name: Chat, Raw: text}
	toks := tokenize(text)

	skip := -1
	if len(toks) > 0 && strings.HasPrefix(toks[0].raw, "!") && len(toks[0].raw) > 1 {
		if name, ok := byLowerName[strings.ToLower(toks[0].raw[1:])]; ok {
			cmd.Name = name
			skip = 0
		}
	}

	var b strings.Builder
	prevEnd := -1
	for i, tok := range toks {
		if i == skip {
			continue
		}
		switch tok.raw {
		case flagMemory:
			cmd.Options.Memory = true
			continue
		case flagGroq:
			cmd.Options.Groq = true
			continue
		case flagLlava:
			cmd.Options.Llava = true
			continue
		}
		cmd.Args = append(cmd.Args, tok.value)
		if prevEnd >= 0 {
			b.WriteString(separator(text, prevEnd, tok.start))
		}
		b.WriteString(tok.raw)
		prevEnd = tok.end
	}
	cmd.Text = b.String()
	return cmd
}

// separator returns the whitespace run directly before position end,
// looking no further back than start.
func separator(s string, start, end int) string {
	i := end
	for i > start && (s[i-1] == ' ' || s[i-1] == '\t' || s[i-1] == '\n' || s[i-1] == '\r') {
		i--
	}
	if i == end {
		return " "
	}
	return s[i:end]
}

// StripMentions removes the bot's mention tokens from content, ignoring
// case.
func StripMentions(content string, tokens []string) string {
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(tok))
		content = re.ReplaceAllLiteralString(content, " ")
	}
	return strings.TrimSpace(content)
}

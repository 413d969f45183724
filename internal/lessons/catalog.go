package lessons

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	runtimeskills "github.com/cexll/agentsdk-go/pkg/runtime/skills"

	"github.com/oarc/ollamateacher/internal/logger"
)

// DefaultResources is shown by a bare !learn.
const DefaultResources = "# 📚 Learning Resources\n\n" +
	"## Documentation\n" +
	"- [Ollama API](https://github.com/ollama/ollama/blob/main/docs/api.md)\n" +
	"- [Ollama Python](https://pypi.org/project/ollama/)\n" +
	"- [Hugging Face](https://huggingface.co/docs)\n" +
	"- [Transformers](https://huggingface.co/docs/transformers/index)\n\n" +
	"## Key Papers\n" +
	"- [Attention Is All You Need](https://arxiv.org/abs/1706.03762)\n\n" +
	"## Commands to Try\n" +
	"```\n" +
	"!arxiv 1706.03762 What is self-attention?\n" +
	"!ddg \"ollama api\" How do I use it?\n" +
	"!crawl https://pypi.org/project/ollama/ Usage examples?\n" +
	"```\n\n" +
	"## Study Tips\n" +
	"1. Start with official documentation\n" +
	"2. Try code examples\n" +
	"3. Ask specific questions\n" +
	"4. Practice with examples\n"

// SampleLesson is written by onboarding so the lessons directory is not empty.
const SampleLesson = `---
name: ollama-basics
description: Run and query local models with Ollama
keywords: [ollama, local model, llama, modelfile]
links:
  - title: Ollama API
    url: https://github.com/ollama/ollama/blob/main/docs/api.md
  - title: Model library
    url: https://ollama.com/library
---
1. Install Ollama and run ` + "`ollama pull llama3`" + `.
2. Chat with ` + "`ollama run llama3`" + ` to get a feel for the model.
3. Call ` + "`POST /api/generate`" + ` from your own code.
4. Write a Modelfile to bake in a system prompt.
`

// Catalog holds the loaded lessons and reloads them on demand.
type Catalog struct {
	dir string
	log *logger.Logger

	mu      sync.RWMutex
	lessons []Lesson
}

func NewCatalog(dir string, log *logger.Logger) *Catalog {
	if log == nil {
		log = logger.Nop()
	}
	return &Catalog{dir: dir, log: log.Named("lessons")}
}

func (c *Catalog) Reload() error {
	lessons, err := Load(c.dir, c.log)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lessons = lessons
	c.mu.Unlock()
	c.log.Info("lessons loaded", "count", len(lessons))
	return nil
}

func (c *Catalog) Lessons() []Lesson {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Lesson(nil), c.lessons...)
}

// Find returns the lesson that best matches topic.
func (c *Catalog) Find(topic string) (Lesson, bool) {
	if strings.TrimSpace(topic) == "" {
		return Lesson{}, false
	}
	var (
		best      Lesson
		bestMatch runtimeskills.MatchResult
	)
	for _, l := range c.Lessons() {
		if m := l.Match(topic); m.BetterThan(bestMatch) {
			best, bestMatch = l, m
		}
	}
	return best, bestMatch.Matched
}

// Overview lists the default resources followed by the available lessons.
func (c *Catalog) Overview() string {
	lessons := c.Lessons()
	if len(lessons) == 0 {
		return DefaultResources
	}
	var b strings.Builder
	b.WriteString(DefaultResources)
	b.WriteString("\n## Lessons\n")
	for _, l := range lessons {
		if l.Description != "" {
			fmt.Fprintf(&b, "- **%s**: %s\n", l.Name, l.Description)
		} else {
			fmt.Fprintf(&b, "- **%s**\n", l.Name)
		}
	}
	b.WriteString("\nUse `!learn <topic>` to open a lesson.\n")
	return b.String()
}

// WriteSample creates the sample lesson unless it already exists.
func WriteSample(dir string) (string, error) {
	path := filepath.Join(dir, "ollama-basics", LessonFileName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(SampleLesson), 0644); err != nil {
		return "", err
	}
	return path, nil
}

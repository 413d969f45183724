package lessons

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	runtimeskills "github.com/cexll/agentsdk-go/pkg/runtime/skills"
	"gopkg.in/yaml.v3"

	"github.com/oarc/ollamateacher/internal/logger"
)

const LessonFileName = "LESSON.md"

var errInvalidLessonYAML = errors.New("invalid lesson YAML frontmatter")

type Resource struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

type lessonFrontmatter struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Keywords    []string   `yaml:"keywords"`
	Links       []Resource `yaml:"links"`
}

// Lesson is a study guide loaded from <dir>/<name>/LESSON.md.
type Lesson struct {
	Name        string
	Description string
	Keywords    []string
	Links       []Resource
	Body        string
	Path        string

	matcher runtimeskills.Matcher
}

// Match scores the lesson against a topic. Lessons without keywords match
// on their name.
func (l Lesson) Match(topic string) runtimeskills.MatchResult {
	ctx := runtimeskills.ActivationContext{Prompt: topic}
	if l.matcher != nil {
		if res := l.matcher.Match(ctx); res.Matched {
			return res
		}
	}
	if strings.Contains(strings.ToLower(topic), strings.ToLower(l.Name)) {
		return runtimeskills.MatchResult{Matched: true, Score: 0.5, Reason: "name=" + l.Name}
	}
	return runtimeskills.MatchResult{}
}

// Markdown renders the lesson for chat.
func (l Lesson) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 📘 %s\n\n", l.Name)
	if l.Description != "" {
		fmt.Fprintf(&b, "_%s_\n\n", l.Description)
	}
	if l.Body != "" {
		b.WriteString(l.Body)
		b.WriteString("\n")
	}
	if len(l.Links) > 0 {
		b.WriteString("\n## Resources\n")
		for _, r := range l.Links {
			title := r.Title
			if title == "" {
				title = r.URL
			}
			fmt.Fprintf(&b, "- [%s](%s)\n", title, r.URL)
		}
	}
	return b.String()
}

// Load reads every lesson under dir. A missing directory yields no lessons.
// Lessons with broken YAML are skipped with a warning.
func Load(dir string, log *logger.Logger) ([]Lesson, error) {
	if log == nil {
		log = logger.Nop()
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat lessons dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("lessons path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read lessons dir %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	lessons := make([]Lesson, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), LessonFileName)
		lesson, skip, err := parseLessonFile(path, log)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		key := strings.ToLower(lesson.Name)
		if prev, exists := seen[key]; exists {
			return nil, fmt.Errorf("duplicate lesson name %q in %s (already in %s)", lesson.Name, path, prev)
		}
		seen[key] = path
		lessons = append(lessons, lesson)
	}
	return lessons, nil
}

func parseLessonFile(path string, log *logger.Logger) (Lesson, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Lesson{}, true, nil
		}
		return Lesson{}, false, fmt.Errorf("read lesson %q: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		if errors.Is(err, errInvalidLessonYAML) {
			log.Warn("skip invalid YAML lesson", "path", path, "error", err)
			return Lesson{}, true, nil
		}
		return Lesson{}, false, fmt.Errorf("parse lesson %q: %w", path, err)
	}
	if strings.TrimSpace(meta.Name) == "" {
		return Lesson{}, false, fmt.Errorf("parse lesson %q: missing name", path)
	}

	lesson := Lesson{
		Name:        strings.TrimSpace(meta.Name),
		Description: strings.TrimSpace(meta.Description),
		Keywords:    sanitizeKeywords(meta.Keywords),
		Body:        strings.TrimSpace(body),
		Path:        path,
	}
	for _, r := range meta.Links {
		if strings.TrimSpace(r.URL) != "" {
			lesson.Links = append(lesson.Links, Resource{Title: strings.TrimSpace(r.Title), URL: strings.TrimSpace(r.URL)})
		}
	}
	if len(lesson.Keywords) > 0 {
		lesson.matcher = runtimeskills.KeywordMatcher{Any: lesson.Keywords}
	}
	return lesson, false, nil
}

func parseFrontmatter(content []byte) (lessonFrontmatter, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return lessonFrontmatter{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return lessonFrontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	var meta lessonFrontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return lessonFrontmatter{}, "", fmt.Errorf("%w: %v", errInvalidLessonYAML, err)
	}
	return meta, strings.Join(lines[end+1:], "\n"), nil
}

func sanitizeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

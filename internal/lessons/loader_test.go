package lessons

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oarc/ollamateacher/internal/logger"
)

func writeTestLesson(t *testing.T, root, dirName, content string) string {
	t.Helper()

	path := filepath.Join(root, dirName, LessonFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir lesson dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write lesson file: %v", err)
	}
	return path
}

func TestLoad_SingleLesson(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := writeTestLesson(t, root, "rag", "---\nname: rag\ndescription: Retrieval augmented generation\nkeywords: [retrieval, RAG, embeddings]\nlinks:\n  - title: LangChain RAG\n    url: https://python.langchain.com/docs/tutorials/rag/\n  - title: empty\n---\n# RAG\nStart with embeddings.\n")

	lessons, err := Load(root, nil)
	if err != nil {
		t.Fatalf("load lessons: %v", err)
	}
	if len(lessons) != 1 {
		t.Fatalf("lesson count = %d, want 1", len(lessons))
	}
	l := lessons[0]
	if l.Name != "rag" || l.Description != "Retrieval augmented generation" {
		t.Fatalf("lesson = %+v", l)
	}
	if l.Path != path {
		t.Fatalf("path = %q, want %q", l.Path, path)
	}
	if l.Body != "# RAG\nStart with embeddings." {
		t.Fatalf("body = %q", l.Body)
	}
	if len(l.Links) != 1 || l.Links[0].Title != "LangChain RAG" {
		t.Fatalf("links = %+v, want the one with a url", l.Links)
	}
	if got := strings.Join(l.Keywords, ","); got != "embeddings,rag,retrieval" {
		t.Fatalf("keywords = %q", got)
	}
	if !l.Match("how do embeddings work").Matched {
		t.Fatal("expected keyword match")
	}
	if l.Match("write me a poem").Matched {
		t.Fatal("unexpected match")
	}
}

func TestLoad_DirNotFound(t *testing.T) {
	t.Parallel()

	lessons, err := Load(filepath.Join(t.TempDir(), "missing"), nil)
	if err != nil {
		t.Fatalf("load lessons from missing dir: %v", err)
	}
	if len(lessons) != 0 {
		t.Fatalf("lesson count = %d, want 0", len(lessons))
	}
}

func TestLoad_MissingFrontmatter(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTestLesson(t, root, "broken", "# No frontmatter")
	if _, err := Load(root, nil); err == nil {
		t.Fatal("expected error for missing frontmatter")
	}
}

func TestLoad_DuplicateName(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTestLesson(t, root, "one", "---\nname: Shared\n---\nfirst\n")
	writeTestLesson(t, root, "two", "---\nname: shared\n---\nsecond\n")
	if _, err := Load(root, nil); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestLoad_InvalidYAMLSkipped(t *testing.T) {
	root := t.TempDir()
	bad := writeTestLesson(t, root, "broken", "---\nname: broken\nkeywords: [search, web\n---\n# Broken\n")
	writeTestLesson(t, root, "ok", "---\nname: ok\nkeywords: [ok]\n---\n# OK\n")

	core, logs := observer.New(zap.WarnLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	lessons, err := Load(root, log)
	if err != nil {
		t.Fatalf("load lessons: %v", err)
	}
	if len(lessons) != 1 || lessons[0].Name != "ok" {
		t.Fatalf("lessons = %+v", lessons)
	}
	entries := logs.FilterMessage("skip invalid YAML lesson").All()
	if len(entries) != 1 {
		t.Fatalf("warning count = %d, want 1", len(entries))
	}
	if entries[0].ContextMap()["path"] != bad {
		t.Fatalf("warning path = %v, want %q", entries[0].ContextMap()["path"], bad)
	}
}

func TestLesson_MatchByName(t *testing.T) {
	l := Lesson{Name: "Quantization"}
	if !l.Match("tell me about quantization").Matched {
		t.Fatal("lesson without keywords should match on its name")
	}
}

func TestLesson_Markdown(t *testing.T) {
	l := Lesson{
		Name:        "rag",
		Description: "Retrieval",
		Body:        "Step one.",
		Links:       []Resource{{URL: "https://example.com"}},
	}
	got := l.Markdown()
	want := "# 📘 rag\n\n_Retrieval_\n\nStep one.\n\n## Resources\n- [https://example.com](https://example.com)\n"
	if got != want {
		t.Fatalf("Markdown = %q, want %q", got, want)
	}
}

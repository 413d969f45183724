package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarc/ollamateacher/internal/memory"
	"github.com/oarc/ollamateacher/internal/sources"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(t.TempDir())
	require.NoError(t, err)
	st.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return st
}

func TestNew_CreatesLayout(t *testing.T) {
	st := newTestStore(t)
	for _, sub := range []string{PapersDir, SearchesDir, CrawlsDir, LinksDir, ProfilesDir, ConversationsDir} {
		info, err := os.Stat(filepath.Join(st.Dir(), sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir(), sub)
	}
}

func TestPaperCache(t *testing.T) {
	st := newTestStore(t)

	_, err := st.LoadPaper("1706.03762")
	require.ErrorIs(t, err, ErrNotFound)

	p := sources.Paper{ID: "1706.03762", Title: "Attention Is All You Need", Authors: []string{"Vaswani"}}
	require.NoError(t, st.SavePaper(p))
	require.NoError(t, st.SavePaper(sources.Paper{ID: "2401.00001", Title: "Other"}))

	got, err := st.LoadPaper("1706.03762")
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)

	all, err := st.Papers()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1706.03762", all[0].ID)

	log, err := os.ReadFile(filepath.Join(st.Dir(), PapersDir, allPapersFile))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(log), "\n"))
}

func TestSaveSearch(t *testing.T) {
	st := newTestStore(t)
	rec, err := st.SaveSearch(sources.SearchResponse{
		Query:   `"go generics"`,
		Results: []sources.SearchResult{{Title: "Go", URL: "https://go.dev"}},
		Raw:     json.RawMessage(`{"Heading":"Go"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	matches, _ := filepath.Glob(filepath.Join(st.Dir(), SearchesDir, "_go_generics__*.json"))
	require.Len(t, matches, 1)

	all, err := st.Searches()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, `"go generics"`, all[0].Query)
	assert.JSONEq(t, `{"Heading":"Go"}`, string(all[0].Raw))
}

func TestSaveCrawl_CapsHTML(t *testing.T) {
	st := newTestStore(t)
	rec, err := st.SaveCrawl(sources.Page{
		URL:  "https://example.com/a/b",
		HTML: strings.Repeat("x", sources.MaxStoredHTML+10),
		Text: "x",
	})
	require.NoError(t, err)
	assert.Len(t, rec.Content, sources.MaxStoredHTML)

	matches, _ := filepath.Glob(filepath.Join(st.Dir(), CrawlsDir, "example_com_a_b_*.json"))
	require.Len(t, matches, 1)

	crawls, err := st.Crawls()
	require.NoError(t, err)
	require.Len(t, crawls, 1)
	assert.Equal(t, "https://example.com/a/b", crawls[0].URL)
}

func TestSaveSameSecondKeepsEveryRecord(t *testing.T) {
	st := newTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := st.SaveSearch(sources.SearchResponse{Query: "go"})
		require.NoError(t, err)
		_, err = st.SaveCrawl(sources.Page{URL: "https://go.dev", Text: "go"})
		require.NoError(t, err)
	}

	searches, err := st.Searches()
	require.NoError(t, err)
	assert.Len(t, searches, 3)

	crawls, err := st.Crawls()
	require.NoError(t, err)
	assert.Len(t, crawls, 3)
}

func TestSaveLinks(t *testing.T) {
	st := newTestStore(t)
	links := []sources.Link{
		{URL: "https://github.com/a", Category: sources.CategoryGitHub, AuthorName: "ada"},
		{URL: "https://arxiv.org/abs/1", Category: sources.CategoryResearch, AuthorName: "bob"},
	}
	path, err := st.SaveLinks(LinkSource{ChannelName: "ml-papers", ChannelID: "c1"}, links)
	require.NoError(t, err)
	assert.Equal(t, "links_ml-papers_20240501.jsonl", filepath.Base(path))

	got, err := st.Links()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ml-papers", got[1].ChannelName)
	assert.Equal(t, sources.CategoryResearch, got[1].Category)
}

func TestProfiles(t *testing.T) {
	st := newTestStore(t)
	key := memory.NewKey("g1", "u1")

	_, err := st.LoadProfile(key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.SaveProfile(key, Profile{Username: "ada", Analysis: "likes transformers"}))
	p, err := st.LoadProfile(key)
	require.NoError(t, err)
	assert.Equal(t, "g1_u1", p.UserKey)
	assert.Equal(t, "likes transformers", p.Analysis)

	_, err = os.Stat(filepath.Join(st.Dir(), ProfilesDir, "g1_u1_profile.json"))
	require.NoError(t, err)

	deleted, err := st.DeleteProfile(key)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = st.DeleteProfile(key)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteAllProfiles(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SaveProfile(memory.NewKey("g1", "u1"), Profile{Analysis: "a"}))
	require.NoError(t, st.SaveProfile(memory.NewKey("", "u2"), Profile{Analysis: "b"}))

	require.NoError(t, st.DeleteAllProfiles())

	matches, _ := filepath.Glob(filepath.Join(st.Dir(), ProfilesDir, "*"))
	assert.Empty(t, matches)
}

func TestConversationArchive(t *testing.T) {
	st := newTestStore(t)
	key := memory.NewKey("g1", "u1")

	none, err := st.Conversation(key)
	require.NoError(t, err)
	assert.Empty(t, none)

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendConversation(key,
		memory.Entry{Role: memory.RoleUser, Content: "what is attention?", Author: "ada", Timestamp: ts},
		memory.Entry{Role: memory.RoleAssistant, Content: "a weighting", Timestamp: ts},
	))
	require.NoError(t, st.AppendConversation(key, memory.Entry{Role: memory.RoleUser, Content: "thanks", Timestamp: ts}))

	got, err := st.Conversation(key)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "g1_u1", got[0].UserKey)
	assert.Equal(t, memory.RoleAssistant, got[1].Role)
	assert.Equal(t, "thanks", got[2].Content)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "hello_world", slug("hello world"))
	assert.Equal(t, "untitled", slug(""))
	assert.Len(t, slug(strings.Repeat("a", 80)), slugMax)
}

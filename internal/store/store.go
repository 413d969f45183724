package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarc/ollamateacher/internal/memory"
	"github.com/oarc/ollamateacher/internal/sources"
)

var ErrNotFound = errors.New("not found")

const (
	PapersDir        = "papers"
	SearchesDir      = "searches"
	CrawlsDir        = "crawls"
	LinksDir         = "links"
	ProfilesDir      = "user_profiles"
	ConversationsDir = "conversations"

	allPapersFile = "all_papers.jsonl"
	slugMax       = 50
)

var (
	nonWord = regexp.MustCompile(`[^\w]`)
	// nonName keeps dashes, which channel names use.
	nonName = regexp.MustCompile(`[^\w\-]`)
)

// Store persists fetched content and user profiles as JSON documents
// under one data directory.
type Store struct {
	dir string
	mu  sync.Mutex // serializes appends
	now func() time.Time
}

func New(dir string) (*Store, error) {
	for _, sub := range []string{PapersDir, SearchesDir, CrawlsDir, LinksDir, ProfilesDir, ConversationsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Paper cache

func (s *Store) paperPath(id string) string {
	return filepath.Join(s.dir, PapersDir, nonName.ReplaceAllString(id, "_")+".json")
}

// LoadPaper returns a cached paper or ErrNotFound.
func (s *Store) LoadPaper(id string) (sources.Paper, error) {
	var p sources.Paper
	if err := readJSON(s.paperPath(id), &p); err != nil {
		return sources.Paper{}, err
	}
	return p, nil
}

// SavePaper caches the paper and appends it to the paper log.
func (s *Store) SavePaper(p sources.Paper) error {
	if err := writeJSON(s.paperPath(p.ID), p); err != nil {
		return fmt.Errorf("save paper %s: %w", p.ID, err)
	}
	return s.appendJSONL(filepath.Join(s.dir, PapersDir, allPapersFile), p)
}

// Papers returns every cached paper ordered by id.
func (s *Store) Papers() ([]sources.Paper, error) {
	var out []sources.Paper
	err := s.eachJSON(PapersDir, func(data []byte) error {
		var p sources.Paper
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// Searches

type SearchRecord struct {
	ID        string                 `json:"id"`
	Query     string                 `json:"query"`
	Timestamp time.Time              `json:"timestamp"`
	Abstract  string                 `json:"abstract,omitempty"`
	Results   []sources.SearchResult `json:"results"`
	Raw       json.RawMessage        `json:"raw_results,omitempty"`
}

func (s *Store) SaveSearch(resp sources.SearchResponse) (SearchRecord, error) {
	now := s.now().UTC()
	rec := SearchRecord{
		ID:        uuid.NewString(),
		Query:     resp.Query,
		Timestamp: now,
		Abstract:  resp.Abstract,
		Results:   resp.Results,
	}
	if json.Valid(resp.Raw) {
		rec.Raw = resp.Raw
	}
	name := fmt.Sprintf("%s_%d_%s.json", slug(resp.Query), now.Unix(), rec.ID)
	if err := writeJSON(filepath.Join(s.dir, SearchesDir, name), rec); err != nil {
		return SearchRecord{}, fmt.Errorf("save search: %w", err)
	}
	return rec, nil
}

func (s *Store) Searches() ([]SearchRecord, error) {
	var out []SearchRecord
	err := s.eachJSON(SearchesDir, func(data []byte) error {
		var r SearchRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, err
}

// Crawls

type CrawlRecord struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Text      string    `json:"text"`
}

func (s *Store) SaveCrawl(page sources.Page) (CrawlRecord, error) {
	now := s.now().UTC()
	html := page.HTML
	if len(html) > sources.MaxStoredHTML {
		html = html[:sources.MaxStoredHTML]
	}
	rec := CrawlRecord{
		ID:        uuid.NewString(),
		URL:       page.URL,
		Timestamp: now,
		Content:   strings.ToValidUTF8(html, ""),
		Text:      page.Text,
	}
	target := page.URL
	if i := strings.Index(target, "//"); i >= 0 {
		target = target[i+2:]
	}
	name := fmt.Sprintf("%s_%d_%s.json", slug(target), now.Unix(), rec.ID)
	if err := writeJSON(filepath.Join(s.dir, CrawlsDir, name), rec); err != nil {
		return CrawlRecord{}, fmt.Errorf("save crawl: %w", err)
	}
	return rec, nil
}

func (s *Store) Crawls() ([]CrawlRecord, error) {
	var out []CrawlRecord
	err := s.eachJSON(CrawlsDir, func(data []byte) error {
		var r CrawlRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, err
}

// Links

type LinkRecord struct {
	sources.Link
	ChannelName string    `json:"channel_name"`
	ChannelID   string    `json:"channel_id"`
	GuildName   string    `json:"guild_name,omitempty"`
	GuildID     string    `json:"guild_id,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

type LinkSource struct {
	ChannelName string
	ChannelID   string
	GuildName   string
	GuildID     string
}

// SaveLinks appends the links to the channel's log for the current day and
// returns the file path.
func (s *Store) SaveLinks(src LinkSource, links []sources.Link) (string, error) {
	now := s.now().UTC()
	name := fmt.Sprintf("links_%s_%s.jsonl", nonName.ReplaceAllString(src.ChannelName, "_"), now.Format("20060102"))
	path := filepath.Join(s.dir, LinksDir, name)
	if len(links) == 0 {
		return path, nil
	}
	recs := make([]any, 0, len(links))
	for _, l := range links {
		recs = append(recs, LinkRecord{
			Link:        l,
			ChannelName: src.ChannelName,
			ChannelID:   src.ChannelID,
			GuildName:   src.GuildName,
			GuildID:     src.GuildID,
			CollectedAt: now,
		})
	}
	if err := s.appendJSONL(path, recs...); err != nil {
		return "", fmt.Errorf("save links: %w", err)
	}
	return path, nil
}

func (s *Store) Links() ([]LinkRecord, error) {
	var out []LinkRecord
	err := s.eachJSONL(LinksDir, func(line []byte) error {
		var r LinkRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// Profiles

type Profile struct {
	UserKey      string    `json:"user_key"`
	Username     string    `json:"username"`
	Analysis     string    `json:"analysis"`
	Interests    []string  `json:"interests,omitempty"`
	SkillLevel   string    `json:"skill_level,omitempty"`
	Progress     string    `json:"progress,omitempty"`
	MessageCount int       `json:"message_count"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Store) profilePath(key memory.Key) string {
	return filepath.Join(s.dir, ProfilesDir, fileStem(key)+"_profile.json")
}

func (s *Store) SaveProfile(key memory.Key, p Profile) error {
	p.UserKey = key.String()
	if err := writeJSON(s.profilePath(key), p); err != nil {
		return fmt.Errorf("save profile %s: %w", key, err)
	}
	return nil
}

// LoadProfile returns the stored profile or ErrNotFound.
func (s *Store) LoadProfile(key memory.Key) (Profile, error) {
	var p Profile
	if err := readJSON(s.profilePath(key), &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// DeleteProfile removes a profile. A missing profile is not an error.
func (s *Store) DeleteProfile(key memory.Key) (bool, error) {
	err := os.Remove(s.profilePath(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("delete profile %s: %w", key, err)
	}
}

// DeleteAllProfiles removes every stored profile.
func (s *Store) DeleteAllProfiles() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, ProfilesDir, "*_profile.json"))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Conversations

type ConversationRecord struct {
	UserKey string `json:"user_key"`
	memory.Entry
}

func (s *Store) conversationPath(key memory.Key) string {
	return filepath.Join(s.dir, ConversationsDir, fileStem(key)+".jsonl")
}

// AppendConversation archives exchanged entries for later querying.
func (s *Store) AppendConversation(key memory.Key, entries ...memory.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	recs := make([]any, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, ConversationRecord{UserKey: key.String(), Entry: e})
	}
	return s.appendJSONL(s.conversationPath(key), recs...)
}

func (s *Store) Conversation(key memory.Key) ([]ConversationRecord, error) {
	var out []ConversationRecord
	err := readJSONL(s.conversationPath(key), func(line []byte) error {
		var r ConversationRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return out, err
}

func fileStem(key memory.Key) string {
	return nonName.ReplaceAllString(key.String(), "_")
}

// slug turns free text into a file-name prefix.
func slug(s string) string {
	out := nonWord.ReplaceAllString(s, "_")
	if len(out) > slugMax {
		out = out[:slugMax]
	}
	if out == "" {
		out = "untitled"
	}
	return out
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *Store) appendJSONL(path string, values ...any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

// eachJSON calls fn for every *.json document in a sub directory. Undecodable
// documents are skipped and reported in the joined error.
func (s *Store) eachJSON(sub string, fn func(data []byte) error) error {
	matches, err := filepath.Glob(filepath.Join(s.dir, sub, "*.json"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	var errs []error
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := fn(data); err != nil {
			errs = append(errs, fmt.Errorf("decode %s: %w", filepath.Base(m), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) eachJSONL(sub string, fn func(line []byte) error) error {
	matches, err := filepath.Glob(filepath.Join(s.dir, sub, "*.jsonl"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	var errs []error
	for _, m := range matches {
		if err := readJSONL(m, fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

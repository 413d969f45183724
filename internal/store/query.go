package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oarc/ollamateacher/internal/llm"
	"github.com/oarc/ollamateacher/internal/logger"
	"github.com/oarc/ollamateacher/internal/memory"
)

const (
	maxQueryRows  = 25
	maxCellWidth  = 80
	queryMaxToken = 256
)

var (
	ErrNoData      = errors.New("no data found to query")
	ErrUnsafeQuery = errors.New("only a single read-only SELECT statement is allowed")
)

var forbiddenSQL = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|attach|detach|pragma|replace|vacuum|reindex|analyze|begin|commit|rollback|savepoint|release)\b`)

var schemaDDL = []string{
	`CREATE TABLE conversations (role TEXT, content TEXT, author TEXT, timestamp TEXT)`,
	`CREATE TABLE searches (query TEXT, abstract TEXT, results INTEGER, timestamp TEXT)`,
	`CREATE TABLE papers (arxiv_id TEXT, title TEXT, authors TEXT, categories TEXT, published TEXT, timestamp TEXT)`,
	`CREATE TABLE links (url TEXT, category TEXT, author_name TEXT, channel_name TEXT, timestamp TEXT)`,
}

const schemaHelp = `Tables (timestamps are ISO-8601 UTC text, use date(timestamp) for days):
- conversations(role, content, author, timestamp): the asking user's messages and the bot's replies
- searches(query, abstract, results, timestamp): web searches
- papers(arxiv_id, title, authors, categories, published, timestamp): arXiv papers
- links(url, category, author_name, channel_name, timestamp): links collected from channels`

// QueryResult is a rendered answer to a natural language data question.
type QueryResult struct {
	SQL      string
	Columns  []string
	Rows     [][]string
	Count    int
	Fallback bool
}

// QueryEngine answers questions about stored data. The generator writes one
// SQLite SELECT over an in-memory snapshot; when that fails a keyword
// heuristic picks a canned query instead.
type QueryEngine struct {
	store *Store
	gen   llm.Generator
	log   *logger.Logger
	now   func() time.Time
}

func NewQueryEngine(st *Store, gen llm.Generator, log *logger.Logger) *QueryEngine {
	if log == nil {
		log = logger.Nop()
	}
	return &QueryEngine{store: st, gen: gen, log: log.Named("query"), now: time.Now}
}

func (q *QueryEngine) Query(ctx context.Context, key memory.Key, question string) (QueryResult, error) {
	db, rows, err := q.load(ctx, key)
	if err != nil {
		return QueryResult{}, err
	}
	defer db.Close()
	if rows == 0 {
		return QueryResult{}, ErrNoData
	}

	if q.gen != nil {
		stmt, err := q.generate(ctx, question)
		if err != nil {
			q.log.Debug("query generation failed", "error", err)
		} else {
			res, err := run(ctx, db, stmt)
			if err == nil {
				return res, nil
			}
			q.log.Debug("generated query failed", "sql", stmt, "error", err)
		}
	}

	res, err := run(ctx, db, fallbackSQL(question, q.now()))
	if err != nil {
		return QueryResult{}, fmt.Errorf("fallback query: %w", err)
	}
	res.Fallback = true
	return res, nil
}

func (q *QueryEngine) generate(ctx context.Context, question string) (string, error) {
	prompt := fmt.Sprintf(`You write SQLite queries.
%s

Write one SQLite SELECT statement that answers: %q
Return only the SQL, no explanation.`, schemaHelp, question)
	out, err := q.gen.Generate(ctx, llm.Request{Prompt: prompt, MaxTokens: queryMaxToken})
	if err != nil {
		return "", err
	}
	return ValidateSelect(out)
}

// ValidateSelect extracts one read-only statement from model output.
func ValidateSelect(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "sqlite")
		s = strings.TrimPrefix(s, "sql")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "; \n\t")
	if s == "" {
		return "", ErrUnsafeQuery
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return "", ErrUnsafeQuery
	}
	if strings.Contains(s, ";") || forbiddenSQL.MatchString(s) {
		return "", ErrUnsafeQuery
	}
	return s, nil
}

func fallbackSQL(question string, now time.Time) string {
	lower := strings.ToLower(question)
	switch {
	case strings.Contains(lower, "today"):
		day := now.UTC().Format("2006-01-02")
		return fmt.Sprintf(`SELECT 'conversation' AS kind, content AS text, timestamp FROM conversations WHERE date(timestamp) = '%[1]s'
UNION ALL SELECT 'search', query, timestamp FROM searches WHERE date(timestamp) = '%[1]s'
ORDER BY timestamp DESC`, day)
	case strings.Contains(lower, "count"):
		return `SELECT date(timestamp) AS date, COUNT(*) AS messages FROM conversations GROUP BY date(timestamp) ORDER BY date DESC LIMIT 10`
	case strings.Contains(lower, "search"):
		return `SELECT query, timestamp FROM searches ORDER BY timestamp DESC LIMIT 10`
	case strings.Contains(lower, "recent") || strings.Contains(lower, "show"):
		return `SELECT role, content, timestamp FROM conversations ORDER BY timestamp DESC LIMIT 10`
	default:
		return `SELECT role, content, timestamp FROM conversations ORDER BY timestamp DESC LIMIT 5`
	}
}

// load builds an in-memory database from the user's conversations and the
// shared records. It returns the total number of rows loaded.
func (q *QueryEngine) load(ctx context.Context, key memory.Key) (*sql.DB, int, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, 0, fmt.Errorf("open sqlite: %w", err)
	}
	// Each connection gets its own in-memory database.
	db.SetMaxOpenConns(1)
	for _, ddl := range schemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, 0, fmt.Errorf("create schema: %w", err)
		}
	}

	total := 0
	insert := func(stmt string, args ...any) error {
		if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
		total++
		return nil
	}
	fail := func(err error) (*sql.DB, int, error) {
		db.Close()
		return nil, 0, fmt.Errorf("load query data: %w", err)
	}

	convs, err := q.store.Conversation(key)
	if err != nil {
		return fail(err)
	}
	for _, c := range convs {
		if err := insert(`INSERT INTO conversations VALUES (?, ?, ?, ?)`, string(c.Role), c.Content, c.Author, isoTime(c.Timestamp)); err != nil {
			return fail(err)
		}
	}

	searches, err := q.store.Searches()
	if err != nil {
		q.log.Warn("some searches could not be loaded", "error", err)
	}
	for _, s := range searches {
		if err := insert(`INSERT INTO searches VALUES (?, ?, ?, ?)`, s.Query, s.Abstract, len(s.Results), isoTime(s.Timestamp)); err != nil {
			return fail(err)
		}
	}

	papers, err := q.store.Papers()
	if err != nil {
		q.log.Warn("some papers could not be loaded", "error", err)
	}
	for _, p := range papers {
		if err := insert(`INSERT INTO papers VALUES (?, ?, ?, ?, ?, ?)`, p.ID, p.Title, strings.Join(p.Authors, ", "), strings.Join(p.Categories, ", "), p.Published, isoTime(p.FetchedAt)); err != nil {
			return fail(err)
		}
	}

	links, err := q.store.Links()
	if err != nil {
		q.log.Warn("some links could not be loaded", "error", err)
	}
	for _, l := range links {
		if err := insert(`INSERT INTO links VALUES (?, ?, ?, ?, ?)`, l.URL, string(l.Category), l.AuthorName, l.ChannelName, isoTime(l.Timestamp)); err != nil {
			return fail(err)
		}
	}

	if _, err := db.ExecContext(ctx, `PRAGMA query_only = ON`); err != nil {
		return fail(err)
	}
	return db, total, nil
}

func run(ctx context.Context, db *sql.DB, stmt string) (QueryResult, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return QueryResult{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return QueryResult{}, err
	}
	res := QueryResult{SQL: stmt, Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return QueryResult{}, err
		}
		res.Count++
		if len(res.Rows) >= maxQueryRows {
			continue
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = cell(v)
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

func cell(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		s = ""
	case []byte:
		s = string(x)
	case time.Time:
		s = isoTime(x)
	default:
		s = fmt.Sprint(x)
	}
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	if r := []rune(s); len(r) > maxCellWidth {
		s = string(r[:maxCellWidth]) + "..."
	}
	return s
}

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Markdown renders the result as a markdown table.
func (r QueryResult) Markdown() string {
	if r.Count == 0 {
		return "No matching results found"
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(r.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(r.Columns)) + "\n")
	for _, row := range r.Rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	if r.Count > len(r.Rows) {
		fmt.Fprintf(&b, "\n_Showing %d of %d rows._\n", len(r.Rows), r.Count)
	}
	return b.String()
}

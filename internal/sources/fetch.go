package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// FetchConcurrency bounds parallel fetches for one command.
	FetchConcurrency = 4

	defaultUserAgent = "OllamaTeacher/1.0"
	defaultTimeout   = 30 * time.Second
)

// Outcome is the result of one item of a batch fetch.
type Outcome[T any] struct {
	Input string
	Value T
	Err   error
}

// fetchAll runs fn for every input with at most FetchConcurrency calls in
// flight. Per-item failures are reported in the outcome; results keep the
// input order.
func fetchAll[T any](ctx context.Context, inputs []string, fn func(ctx context.Context, in string) (T, error)) []Outcome[T] {
	out := make([]Outcome[T], len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(FetchConcurrency)
	for i, in := range inputs {
		out[i].Input = in
		g.Go(func() error {
			v, err := fn(gctx, in)
			out[i].Value = v
			out[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func newHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: defaultTimeout}
}

// get performs a GET and returns at most limit bytes of the body. A
// non-positive limit reads the whole body.
func get(ctx context.Context, client *http.Client, rawURL, userAgent string, limit int64) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, resp.StatusCode, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return data, resp.StatusCode, nil
}

// truncate cuts s to at most n bytes on a rune boundary and appends suffix
// when anything was removed.
func truncate(s string, n int, suffix string) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n] + suffix
}

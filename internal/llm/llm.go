package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/oarc/ollamateacher/internal/config"
	"github.com/oarc/ollamateacher/internal/logger"
	"github.com/oarc/ollamateacher/internal/metrics"
)

type Backend string

const (
	BackendOllama Backend = "ollama"
	BackendGroq   Backend = "groq"
	BackendVision Backend = "vision"
)

const (
	// GroqMaxChars caps hosted-model output before it reaches chat.
	GroqMaxChars    = 4000
	groqTruncated   = "...[response truncated due to excessive length]"
	groqMaxTokens   = 1024
	modelMaxRetries = 2
	// ollamaAPIKey is sent to the Ollama OpenAI-compatible endpoint, which
	// ignores it but the client requires one.
	ollamaAPIKey = "ollama"
)

var (
	ErrGroqUnavailable = errors.New("groq API key not found, set GROQ_API_KEY to use --groq")
	ErrNoImage         = errors.New("no image provided")
	ErrEmptyResponse   = errors.New("model returned an empty response")
)

type Message struct {
	Role    string
	Content string
}

type Image struct {
	MediaType string
	Data      []byte
}

type Request struct {
	System string
	// History precedes Prompt in the conversation.
	History   []Message
	Prompt    string
	Images    []Image
	Groq      bool
	MaxTokens int
}

// Generator produces model replies. Requests with images go to the vision
// model, Groq requests to the hosted model, everything else to Ollama.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type Options struct {
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

type Client struct {
	ollama  model.Model
	groq    model.Model
	vision  *VisionModel
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logger.Logger
}

func New(cfg config.ModelsConfig, opts Options) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	temp := cfg.Temperature

	ollama, err := model.NewOpenAI(model.OpenAIConfig{
		APIKey:      ollamaAPIKey,
		BaseURL:     OllamaBaseURL(cfg.OllamaHost),
		Model:       cfg.OllamaModel,
		MaxTokens:   cfg.MaxTokens,
		MaxRetries:  modelMaxRetries,
		Temperature: &temp,
		HTTPClient:  opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}

	c := &Client{
		ollama:  ollama,
		timeout: cfg.TimeoutDuration(),
		metrics: opts.Metrics,
		log:     log.Named("llm"),
	}

	if strings.TrimSpace(cfg.GroqAPIKey) != "" {
		groq, err := model.NewOpenAI(model.OpenAIConfig{
			APIKey:      cfg.GroqAPIKey,
			BaseURL:     cfg.GroqBaseURL,
			Model:       cfg.GroqModel,
			MaxTokens:   groqMaxTokens,
			MaxRetries:  modelMaxRetries,
			Temperature: &temp,
			HTTPClient:  opts.HTTPClient,
		})
		if err != nil {
			return nil, fmt.Errorf("create groq model: %w", err)
		}
		c.groq = groq
	}

	c.vision = NewVisionModel(VisionConfig{
		BaseURL:     OllamaBaseURL(cfg.OllamaHost),
		Model:       cfg.VisionModel,
		MaxTokens:   cfg.MaxTokens,
		Temperature: temp,
		HTTPClient:  opts.HTTPClient,
	})

	return c, nil
}

// OllamaBaseURL returns the OpenAI-compatible endpoint for an Ollama host.
func OllamaBaseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = config.DefaultOllamaHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if strings.HasSuffix(host, "/v1") {
		return host
	}
	return host + "/v1"
}

func (c *Client) HasGroq() bool {
	return c.groq != nil
}

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	backend := BackendOllama
	switch {
	case len(req.Images) > 0:
		backend = BackendVision
	case req.Groq:
		backend = BackendGroq
	}

	start := time.Now()
	out, err := c.generate(ctx, backend, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordModelCall(string(backend), status, time.Since(start))
	if err != nil {
		c.log.Warn("model call failed", "backend", backend, "error", err)
		return "", err
	}
	return out, nil
}

func (c *Client) generate(ctx context.Context, backend Backend, req Request) (string, error) {
	switch backend {
	case BackendVision:
		return c.vision.Describe(ctx, req.System, req.Prompt, req.Images[0])
	case BackendGroq:
		if c.groq == nil {
			return "", ErrGroqUnavailable
		}
		out, err := complete(ctx, c.groq, req)
		if err != nil {
			return "", err
		}
		return TruncateGroq(out), nil
	default:
		return complete(ctx, c.ollama, req)
	}
}

func complete(ctx context.Context, mdl model.Model, req Request) (string, error) {
	msgs := make([]model.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, model.Message{Role: m.Role, Content: m.Content})
	}
	if req.Prompt != "" {
		msgs = append(msgs, model.Message{Role: "user", Content: req.Prompt})
	}

	resp, err := mdl.Complete(ctx, model.Request{
		System:    req.System,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// TruncateGroq caps s at GroqMaxChars, marking the cut.
func TruncateGroq(s string) string {
	if len(s) <= GroqMaxChars {
		return s
	}
	cut := GroqMaxChars
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + groqTruncated
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

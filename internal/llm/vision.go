package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultVisionPrompt is used when an image arrives without a question.
const DefaultVisionPrompt = "What's in this image?"

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type VisionConfig struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// VisionModel sends image prompts to an OpenAI-compatible vision model.
type VisionModel struct {
	completions chatCompletions
	model       string
	maxTokens   int
	temperature float64
}

func NewVisionModel(cfg VisionConfig) *VisionModel {
	opts := []option.RequestOption{
		option.WithAPIKey(ollamaAPIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(modelMaxRetries),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)
	return &VisionModel{
		completions: &client.Chat.Completions,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (v *VisionModel) Describe(ctx context.Context, system, prompt string, img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", ErrNoImage
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultVisionPrompt
	}
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = http.DetectContentType(img.Data)
	}
	dataURL := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	}))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(v.model),
		Messages:    msgs,
		Temperature: openai.Float(v.temperature),
	}
	if v.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(v.maxTokens))
	}

	completion, err := v.completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	out := strings.TrimSpace(completion.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

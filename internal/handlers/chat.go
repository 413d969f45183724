package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oarc/ollamateacher/internal/bus"
	"github.com/oarc/ollamateacher/internal/command"
	"github.com/oarc/ollamateacher/internal/llm"
)

const (
	chatUsage   = "@OllamaTeacher <question>"
	visionUsage = "@OllamaTeacher --llava <question> (with an image attached)"
)

// chat answers a free-form question with the user's conversation log as
// context. With --llava the first attachment goes to the vision model.
func (h *Handlers) chat(ctx context.Context, req *command.Request) (command.Reply, error) {
	cmd := req.Command
	if cmd.Options.Llava {
		return h.vision(ctx, req)
	}
	if cmd.Text == "" {
		return command.Reply{}, command.Usagef(chatUsage, "Ask me a question or try `!help`")
	}

	log := h.Memory.Context(req.Key)
	history := make([]llm.Message, 0, len(log))
	for _, e := range log {
		history = append(history, llm.Message{Role: string(e.Role), Content: e.Content})
	}

	answer, err := h.Generator.Generate(ctx, llm.Request{
		System:  h.SystemPrompt,
		History: history,
		Prompt:  cmd.Text,
		Groq:    cmd.Options.Groq,
	})
	if err != nil {
		return command.Reply{}, err
	}
	return command.TextReply(withGroqBanner(answer, cmd.Options.Groq)), nil
}

func (h *Handlers) vision(ctx context.Context, req *command.Request) (command.Reply, error) {
	img, err := h.firstImage(ctx, req.Message, visionUsage)
	if err != nil {
		return command.Reply{}, err
	}
	prompt := req.Command.Text
	if prompt == "" {
		prompt = llm.DefaultVisionPrompt
	}
	answer, err := h.Generator.Generate(ctx, llm.Request{
		System: h.SystemPrompt,
		Prompt: prompt,
		Images: []llm.Image{img},
	})
	if err != nil {
		return command.Reply{}, fmt.Errorf("processing image: %w", err)
	}
	return command.TextReply(answer), nil
}

// firstImage loads the message's first attachment, enforcing the image
// size limit and type. Problems the user can fix come back as usage errors.
func (h *Handlers) firstImage(ctx context.Context, msg bus.InboundMessage, usage string) (llm.Image, error) {
	if len(msg.Attachments) == 0 {
		return llm.Image{}, command.Usagef(usage, "Please attach an image to use with --llava flag.")
	}
	a := msg.Attachments[0]
	if a.Size > h.MaxImageBytes {
		return llm.Image{}, h.tooLarge(usage)
	}
	if a.ContentType != "" && !a.IsImage() {
		return llm.Image{}, command.Usagef(usage, "The attached file is not a recognized image format.")
	}

	data := a.Data
	if len(data) == 0 {
		var err error
		if data, err = h.download(ctx, a.URL); err != nil {
			return llm.Image{}, fmt.Errorf("processing image: %w", err)
		}
	}
	if int64(len(data)) > h.MaxImageBytes {
		return llm.Image{}, h.tooLarge(usage)
	}

	mediaType := a.ContentType
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return llm.Image{}, command.Usagef(usage, "The attached file is not a recognized image format.")
	}
	return llm.Image{MediaType: mediaType, Data: data}, nil
}

func (h *Handlers) tooLarge(usage string) error {
	return command.Usagef(usage, "Image too large. Maximum file size: %gMB", float64(h.MaxImageBytes)/1024/1024)
}

// download fetches an attachment, reading at most one byte past the size
// limit.
func (h *Handlers) download(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("attachment has no data")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build attachment request: %w", err)
	}
	resp, err := h.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, h.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

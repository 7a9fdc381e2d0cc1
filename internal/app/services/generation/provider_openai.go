package generation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/storyloft/studio_layer/internal/app/domain/job"
	"github.com/storyloft/studio_layer/pkg/logger"
)

// openAIChat is the subset of the OpenAI client used by the text provider.
type openAIChat interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// openAIImages is the subset of the OpenAI client used by the image provider.
type openAIImages interface {
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

const defaultSystemPrompt = "You are a storyboard writer for an animation studio. Write vivid, production-ready material."

// TextProvider generates script and dialogue text through OpenAI chat
// completions.
type TextProvider struct {
	client       openAIChat
	defaultModel string
	log          *logger.Logger
}

// NewTextProvider constructs a text provider. defaultModel is used when a job
// does not name one.
func NewTextProvider(apiKey, defaultModel string, log *logger.Logger) (*TextProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	if log == nil {
		log = logger.NewDefault("openai-text")
	}
	return &TextProvider{client: openai.NewClient(apiKey), defaultModel: defaultModel, log: log}, nil
}

func (p *TextProvider) Name() string   { return "openai" }
func (p *TextProvider) Kind() job.Kind { return job.KindText }

func (p *TextProvider) Generate(ctx context.Context, j job.Job) (string, error) {
	model := j.Model
	if model == "" {
		model = p.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: defaultSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: j.Prompt},
		},
	}
	if raw, ok := j.Params["max_tokens"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			req.MaxCompletionTokens = n
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	p.log.WithField("job_id", j.ID).WithField("model", model).Debug("text generated")
	return resp.Choices[0].Message.Content, nil
}

// ImageProvider generates still frames through the OpenAI image API.
type ImageProvider struct {
	client       openAIImages
	defaultModel string
	log          *logger.Logger
}

// NewImageProvider constructs an image provider.
func NewImageProvider(apiKey, defaultModel string, log *logger.Logger) (*ImageProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	if defaultModel == "" {
		defaultModel = openai.CreateImageModelDallE3
	}
	if log == nil {
		log = logger.NewDefault("openai-image")
	}
	return &ImageProvider{client: openai.NewClient(apiKey), defaultModel: defaultModel, log: log}, nil
}

func (p *ImageProvider) Name() string   { return "openai" }
func (p *ImageProvider) Kind() job.Kind { return job.KindImage }

func (p *ImageProvider) Generate(ctx context.Context, j job.Job) (string, error) {
	model := j.Model
	if model == "" {
		model = p.defaultModel
	}
	size := j.Params["size"]
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Model:          model,
		Prompt:         j.Prompt,
		Size:           size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("openai image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("openai returned no image")
	}
	p.log.WithField("job_id", j.ID).WithField("model", model).Debug("image generated")
	return resp.Data[0].URL, nil
}

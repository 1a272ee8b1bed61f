package tutor

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatty/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

const systemPrompt = "You are a helpful, patient tutor. A student asks " +
	"questions while practicing; explain why an answer is right or wrong " +
	"in a few short paragraphs, without giving away unrelated solutions."

// Completer is the completion surface the handler depends on; the
// langchaingo client satisfies it and tests fake it.
type Completer interface {
	// Complete streams a tutor reply for the prompt through onChunk
	// and returns the full text.
	Complete(ctx context.Context, prompt string, onChunk func(string) error) (string, error)
}

// Service relays tutor prompts to an OpenAI-compatible model.
type Service struct {
	llm    llms.Model
	model  string
	logger *zap.Logger
}

// New creates the tutor relay from LLM config.
func New(cfg config.LLMConfig, logger *zap.Logger) (*Service, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	return &Service{llm: llm, model: cfg.Model, logger: logger}, nil
}

// ModelName reports the configured model, recorded on stored replies.
func (s *Service) ModelName() string {
	return s.model
}

func (s *Service) Complete(ctx context.Context, prompt string, onChunk func(string) error) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	resp, err := s.llm.GenerateContent(ctx, messages,
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onChunk(string(chunk))
		}),
	)
	if err != nil {
		return "", fmt.Errorf("tutor completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("tutor completion: empty response")
	}
	return resp.Choices[0].Content, nil
}

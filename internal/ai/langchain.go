package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	LangChainAnthropic = "anthropic"
	LangChainOllama    = "ollama"
	LangChainOpenAI    = "openai"
)

type LangChainConfig struct {
	Backend      string
	DefaultModel string
	APIKey       string
	OllamaHost   string
}

// LangChainGenerator adapts any langchaingo backend to TextGenerator. The
// per-request model overrides the backend default.
type LangChainGenerator struct {
	llm     llms.Model
	backend string
}

func NewLangChainGenerator(config LangChainConfig) (*LangChainGenerator, error) {
	var (
		model llms.Model
		err   error
	)

	switch strings.ToLower(strings.TrimSpace(config.Backend)) {
	case LangChainOllama:
		model, err = ollama.New(
			ollama.WithModel(config.DefaultModel),
			ollama.WithServerURL(config.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case LangChainOpenAI:
		if config.APIKey == "" {
			return nil, errors.New("openai api key required")
		}
		model, err = openai.New(
			openai.WithToken(config.APIKey),
			openai.WithModel(config.DefaultModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case LangChainAnthropic:
		if config.APIKey == "" {
			return nil, errors.New("anthropic api key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(config.APIKey),
			anthropic.WithModel(config.DefaultModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported langchain backend: %s", config.Backend)
	}

	return &LangChainGenerator{llm: model, backend: config.Backend}, nil
}

func (g *LangChainGenerator) Available() bool {
	return g != nil && g.llm != nil
}

func (g *LangChainGenerator) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !g.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	messages := make([]llms.MessageContent, 0, 2)
	if strings.TrimSpace(request.Instructions) != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, request.Instructions))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, request.Input))

	options := []llms.CallOption{
		llms.WithModel(request.Model),
		llms.WithTemperature(request.Temperature),
	}
	if request.MaxOutputTokens > 0 {
		options = append(options, llms.WithMaxTokens(request.MaxOutputTokens))
	}
	if request.JSONMode {
		options = append(options, llms.WithJSONMode())
	}

	response, err := g.llm.GenerateContent(ctx, messages, options...)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%s generate: %w", g.backend, err)
	}
	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Content) == "" {
		return GenerateResult{}, fmt.Errorf("%s response without text output", g.backend)
	}

	choice := response.Choices[0]
	return GenerateResult{
		Text:    strings.TrimSpace(choice.Content),
		ModelID: request.Model,
		Usage:   usageFromGenerationInfo(choice.GenerationInfo),
	}, nil
}

// Backends report token counts under different keys.
func usageFromGenerationInfo(info map[string]any) TokenUsage {
	read := func(keys ...string) int {
		for _, key := range keys {
			if value, ok := info[key].(int); ok {
				return value
			}
		}
		return 0
	}
	usage := TokenUsage{
		InputTokens:  read("PromptTokens", "InputTokens"),
		OutputTokens: read("CompletionTokens", "OutputTokens"),
		TotalTokens:  read("TotalTokens"),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}

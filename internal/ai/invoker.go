package ai

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

const systemInstructions = "You are a certified fitness and nutrition coach. " +
	"Return only valid JSON. Do not use markdown code fences. " +
	"Never reference an id that is not in the provided list."

type InvokeRequest struct {
	Params  domain.GenerationParams
	Allowed []domain.CatalogItem
	Budget  time.Duration
	Attempt int
}

// Invoker renders the prompt for a request and performs one bounded model
// call. It never retries and never substitutes content on failure.
type Invoker struct {
	generator TextGenerator
	router    *ModelRouter
	templates *template.Template
}

func NewInvoker(generator TextGenerator, router *ModelRouter) (*Invoker, error) {
	templates, err := template.New("prompts").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	return &Invoker{
		generator: generator,
		router:    router,
		templates: templates,
	}, nil
}

func (i *Invoker) Invoke(ctx context.Context, request InvokeRequest) (domain.RawOutput, error) {
	profile := i.router.Select(request.Params.Kind)
	model := profile.ModelFor(request.Attempt)

	if i.generator == nil || !i.generator.Available() {
		return domain.RawOutput{}, &domain.GenerationProviderError{Model: model, Err: ErrProviderUnavailable}
	}

	prompt, err := i.renderPrompt(request)
	if err != nil {
		return domain.RawOutput{}, err
	}

	callCtx := ctx
	if request.Budget > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, request.Budget)
		defer cancel()
	}

	result, err := i.generate(callCtx, GenerateRequest{
		Model:           model,
		Instructions:    systemInstructions,
		Input:           prompt,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSONMode:        true,
	})
	if err != nil {
		// The host giving up is not a generation failure.
		if ctx.Err() != nil {
			return domain.RawOutput{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return domain.RawOutput{}, &domain.GenerationTimeoutError{Model: model, Budget: request.Budget}
		}
		providerErr := &domain.GenerationProviderError{Model: model, Err: err}
		var httpErr *ProviderHTTPError
		if errors.As(err, &httpErr) {
			providerErr.StatusCode = httpErr.StatusCode
		}
		return domain.RawOutput{}, providerErr
	}

	modelID := firstNonEmpty(result.ModelID, model)
	output, err := parseRawOutput(result.Text)
	if err != nil {
		return domain.RawOutput{}, &domain.GenerationProviderError{Model: modelID, Err: err}
	}
	output.ModelID = modelID
	return output, nil
}

type generateOutcome struct {
	result GenerateResult
	err    error
}

// generate returns as soon as ctx is done, whether or not the generator
// honors it. A result that lands after that is discarded.
func (i *Invoker) generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	done := make(chan generateOutcome, 1)
	go func() {
		result, err := i.generator.Generate(ctx, request)
		done <- generateOutcome{result: result, err: err}
	}()

	select {
	case outcome := <-done:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return GenerateResult{}, ctx.Err()
	}
}

func (i *Invoker) renderPrompt(request InvokeRequest) (string, error) {
	name := string(request.Params.Kind) + ".tmpl"
	buffer := bytes.NewBuffer(nil)
	if err := i.templates.ExecuteTemplate(buffer, name, request); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buffer.String(), nil
}

func parseRawOutput(text string) (domain.RawOutput, error) {
	rawJSON, err := extractJSON(text)
	if err != nil {
		return domain.RawOutput{}, err
	}

	var output domain.RawOutput
	if err := json.Unmarshal(rawJSON, &output); err != nil {
		return domain.RawOutput{}, fmt.Errorf("decode model output: %w", err)
	}
	if output.ItemCount() == 0 {
		return domain.RawOutput{}, errors.New("model output references no items")
	}
	return output, nil
}

func extractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty model output")
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = stripCodeFence(trimmed)
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return []byte(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &decoded); err == nil {
			return []byte(candidate), nil
		}
	}

	return nil, errors.New("model output is not valid JSON")
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

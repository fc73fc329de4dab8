package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type OpenAIClientConfig struct {
	APIKey       string
	BaseURL      string
	HTTPClient   *http.Client
	Organization string
}

// OpenAIClient talks to the Responses API. The caller's context carries the
// time budget.
type OpenAIClient struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	organization string
}

func NewOpenAIClient(config OpenAIClientConfig) *OpenAIClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &OpenAIClient{
		apiKey:       strings.TrimSpace(config.APIKey),
		baseURL:      strings.TrimSuffix(config.BaseURL, "/"),
		httpClient:   config.HTTPClient,
		organization: strings.TrimSpace(config.Organization),
	}
}

func (c *OpenAIClient) Available() bool {
	return c.apiKey != ""
}

type responsesRequest struct {
	Model           string              `json:"model"`
	Instructions    string              `json:"instructions,omitempty"`
	Input           string              `json:"input"`
	Temperature     float64             `json:"temperature"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
	Text            *responsesTextParam `json:"text,omitempty"`
}

type responsesTextParam struct {
	Format struct {
		Type string `json:"type"`
	} `json:"format"`
}

type responsesResponse struct {
	Model  string `json:"model"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	OutputText string `json:"output_text"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	payload := responsesRequest{
		Model:           request.Model,
		Instructions:    strings.TrimSpace(request.Instructions),
		Input:           request.Input,
		Temperature:     request.Temperature,
		MaxOutputTokens: request.MaxOutputTokens,
	}
	if request.JSONMode {
		payload.Text = &responsesTextParam{}
		payload.Text.Format.Type = "json_object"
	}

	var response responsesResponse
	err := postJSON(ctx, c.httpClient, "openai", c.baseURL+"/responses", map[string]string{
		"Authorization":       "Bearer " + c.apiKey,
		"OpenAI-Organization": c.organization,
	}, payload, &response)
	if err != nil {
		return GenerateResult{}, err
	}

	text := response.text()
	if text == "" {
		return GenerateResult{}, errors.New("openai response without text output")
	}
	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(response.Model, request.Model),
		Usage: TokenUsage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
			TotalTokens:  response.Usage.TotalTokens,
		},
	}, nil
}

// text prefers the aggregated output_text and otherwise joins the text parts
// of every output message.
func (r responsesResponse) text() string {
	if text := strings.TrimSpace(r.OutputText); text != "" {
		return text
	}
	var parts []string
	for _, output := range r.Output {
		for _, content := range output.Content {
			if content.Type != "output_text" && content.Type != "text" {
				continue
			}
			if text := strings.TrimSpace(content.Text); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

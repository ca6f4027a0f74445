package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/platefull/platefull/control-plane/pkg/models"
)

// OpenAIProvider adapts the OpenAI API to the Provider contract.
type OpenAIProvider struct {
	client *openai.Client
	models []string
}

// NewOpenAIProvider creates an adapter using the given API key.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		models: []string{"gpt-4o", "gpt-4o-mini"},
	}
}

func (p *OpenAIProvider) Name() string              { return "openai" }
func (p *OpenAIProvider) SupportedModels() []string { return p.models }
func (p *OpenAIProvider) DefaultModel() string      { return "gpt-4o" }

// HealthCheck lists models as a cheap credential-validating probe.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) models.HealthResult {
	start := time.Now()
	_, err := p.client.ListModels(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return models.HealthResult{Healthy: false, LatencyMs: latency, Error: err.Error()}
	}
	return models.HealthResult{Healthy: true, LatencyMs: latency}
}

func (p *OpenAIProvider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: chat completion returned no choices")
	}

	return &models.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage:   usageFrom(resp.Usage),
	}, nil
}

func (p *OpenAIProvider) GenerateRecipe(ctx context.Context, req models.RecipeRequest) (*models.RecipeResponse, error) {
	prompt := req.Prompt
	if len(req.Preferences) > 0 {
		prompt += "\nDietary preferences: " + strings.Join(req.Preferences, ", ")
	}

	resp, err := p.Chat(ctx, models.ChatRequest{
		Model: req.Model,
		Messages: []models.ChatMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a recipe generator. Respond with a single recipe as JSON."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}
	return &models.RecipeResponse{Content: resp.Content, Model: resp.Model, Usage: resp.Usage}, nil
}

func (p *OpenAIProvider) GenerateWeeklyTitles(ctx context.Context, req models.WeeklyTitlesRequest) (*models.WeeklyTitlesResponse, error) {
	count := req.Count
	if count <= 0 {
		count = 7
	}
	prompt := fmt.Sprintf("Generate %d recipe titles for a weekly meal plan as a JSON array of strings.", count)
	if len(req.Preferences) > 0 {
		prompt += " Preferences: " + strings.Join(req.Preferences, ", ")
	}

	resp, err := p.Chat(ctx, models.ChatRequest{
		Model:    req.Model,
		Messages: []models.ChatMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, err
	}

	titles := parseTitles(resp.Content, count)
	return &models.WeeklyTitlesResponse{Titles: titles, Model: resp.Model, Usage: resp.Usage}, nil
}

func (p *OpenAIProvider) AnalyzeImageToRecipe(ctx context.Context, req models.ImageAnalysisRequest) (*models.RecipeResponse, error) {
	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = "Identify the dish in this photo and produce a recipe for it as JSON."
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: req.ImageURL},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: image analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: image analysis returned no choices")
	}

	return &models.RecipeResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage:   usageFrom(resp.Usage),
	}, nil
}

func usageFrom(u openai.Usage) models.TokenUsage {
	return models.TokenUsage{
		InputTokens:  int64(u.PromptTokens),
		OutputTokens: int64(u.CompletionTokens),
		TotalTokens:  int64(u.TotalTokens),
	}
}

// parseTitles extracts titles from a model response that should be a JSON
// array of strings, falling back to line splitting for sloppy outputs.
func parseTitles(content string, max int) []string {
	var titles []string
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &titles); err != nil {
		for _, line := range strings.Split(content, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
			if line != "" {
				titles = append(titles, line)
			}
		}
	}
	if len(titles) > max {
		titles = titles[:max]
	}
	return titles
}

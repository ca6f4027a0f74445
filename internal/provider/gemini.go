package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/platefull/platefull/control-plane/pkg/models"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider adapts the Google Gemini REST API to the Provider contract.
type GeminiProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
	models   []string
}

// NewGeminiProvider creates an adapter. An empty endpoint uses the public
// Gemini API; tests point it at a local httptest server.
func NewGeminiProvider(apiKey, endpoint string) *GeminiProvider {
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	return &GeminiProvider{
		apiKey:   apiKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 120 * time.Second},
		models:   []string{"gemini-1.5-pro", "gemini-1.5-flash"},
	}
}

func (p *GeminiProvider) Name() string              { return "gemini" }
func (p *GeminiProvider) SupportedModels() []string { return p.models }
func (p *GeminiProvider) DefaultModel() string      { return "gemini-1.5-pro" }

// ── Wire types ──────────────────────────────────────────────

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
	FileData   *geminiFileData   `json:"file_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mime_type,omitempty"`
	FileURI  string `json:"file_uri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// generate sends a generateContent request and returns the first candidate's
// text plus usage.
func (p *GeminiProvider) generate(ctx context.Context, model string, contents []geminiContent) (string, models.TokenUsage, error) {
	if model == "" {
		model = p.DefaultModel()
	}

	body, _ := json.Marshal(geminiRequest{Contents: contents})
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.endpoint, model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", models.TokenUsage{}, fmt.Errorf("gemini: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("gemini: decode response: %w", err)
	}

	var text string
	if len(resp.Candidates) > 0 {
		for _, part := range resp.Candidates[0].Content.Parts {
			text += part.Text
		}
	}

	usage := models.TokenUsage{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  resp.UsageMetadata.TotalTokenCount,
	}
	return text, usage, nil
}

// HealthCheck asks for the model listing, which validates both reachability
// and the API key.
func (p *GeminiProvider) HealthCheck(ctx context.Context) models.HealthResult {
	start := time.Now()
	url := fmt.Sprintf("%s/models?key=%s", p.endpoint, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.HealthResult{Healthy: false, Error: err.Error()}
	}
	httpResp, err := p.client.Do(httpReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return models.HealthResult{Healthy: false, LatencyMs: latency, Error: err.Error()}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return models.HealthResult{
			Healthy:   false,
			LatencyMs: latency,
			Error:     fmt.Sprintf("status %d", httpResp.StatusCode),
		}
	}
	return models.HealthResult{Healthy: true, LatencyMs: latency}
}

func (p *GeminiProvider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		// Gemini only knows "user" and "model"; fold system prompts into the
		// user turn and map assistant → model.
		switch role {
		case "assistant":
			role = "model"
		case "system":
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	text, usage, err := p.generate(ctx, req.Model, contents)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	return &models.ChatResponse{Content: text, Model: model, Usage: usage}, nil
}

func (p *GeminiProvider) GenerateRecipe(ctx context.Context, req models.RecipeRequest) (*models.RecipeResponse, error) {
	prompt := "Generate a single recipe as JSON. " + req.Prompt
	if len(req.Preferences) > 0 {
		prompt += "\nDietary preferences: " + strings.Join(req.Preferences, ", ")
	}

	text, usage, err := p.generate(ctx, req.Model, []geminiContent{
		{Role: "user", Parts: []geminiPart{{Text: prompt}}},
	})
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	return &models.RecipeResponse{Content: text, Model: model, Usage: usage}, nil
}

func (p *GeminiProvider) GenerateWeeklyTitles(ctx context.Context, req models.WeeklyTitlesRequest) (*models.WeeklyTitlesResponse, error) {
	count := req.Count
	if count <= 0 {
		count = 7
	}
	prompt := fmt.Sprintf("Generate %d recipe titles for a weekly meal plan as a JSON array of strings.", count)
	if len(req.Preferences) > 0 {
		prompt += " Preferences: " + strings.Join(req.Preferences, ", ")
	}

	text, usage, err := p.generate(ctx, req.Model, []geminiContent{
		{Role: "user", Parts: []geminiPart{{Text: prompt}}},
	})
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	return &models.WeeklyTitlesResponse{Titles: parseTitles(text, count), Model: model, Usage: usage}, nil
}

func (p *GeminiProvider) AnalyzeImageToRecipe(ctx context.Context, req models.ImageAnalysisRequest) (*models.RecipeResponse, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = "Identify the dish in this photo and produce a recipe for it as JSON."
	}

	text, usage, err := p.generate(ctx, req.Model, []geminiContent{
		{Role: "user", Parts: []geminiPart{
			{Text: prompt},
			{FileData: &geminiFileData{FileURI: req.ImageURL}},
		}},
	})
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	return &models.RecipeResponse{Content: text, Model: model, Usage: usage}, nil
}

// Compile-time checks that both adapters satisfy the contract.
var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*GeminiProvider)(nil)
)

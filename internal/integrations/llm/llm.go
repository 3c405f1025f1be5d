package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/raulgabino/panwhat-sub000/internal/config"
	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/httpx"
	"github.com/raulgabino/panwhat-sub000/internal/profile"
)

type Config = config.Config

type LLMUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// UsageCounter collects the usage of every call made under a context
// carrying it, so a caller can attribute tokens to one unit of work.
type UsageCounter struct {
	mu    sync.Mutex
	usage LLMUsage
}

func (c *UsageCounter) Add(u LLMUsage) {
	c.mu.Lock()
	c.usage.Add(u)
	c.mu.Unlock()
}

func (c *UsageCounter) Total() LLMUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

type usageKey struct{}

func WithUsageCounter(ctx context.Context, c *UsageCounter) context.Context {
	return context.WithValue(ctx, usageKey{}, c)
}

func usageCounterFrom(ctx context.Context) *UsageCounter {
	c, _ := ctx.Value(usageKey{}).(*UsageCounter)
	return c
}

const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"
const openAIChatURL = "https://api.openai.com/v1/chat/completions"

// Enricher asks a hosted model for a client's narrative profile. It implements
// profile.Profiler; the caller owns timeouts and falling back.
type Enricher struct {
	provider     string
	model        string
	anthropicKey string
	openAIKey    string
	bakeryName   string
	openAIURL    string
	httpClient   *http.Client
	sem          chan struct{}

	mu    sync.Mutex
	usage LLMUsage
}

// New returns nil when no provider is configured, so callers can hand the
// result straight to the analyzer as an optional profiler.
func New(cfg Config) *Enricher {
	provider := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if provider == "" || provider == ProviderNone {
		return nil
	}
	model := strings.TrimSpace(cfg.LLMModel)
	if model == "" {
		if provider == ProviderOpenAI {
			model = defaultOpenAIModel
		} else {
			model = defaultAnthropicModel
		}
	}
	limit := cfg.LLMMaxConcurrent
	if limit < 1 {
		limit = 1
	}
	return &Enricher{
		provider:     provider,
		model:        model,
		anthropicKey: cfg.AnthropicAPIKey,
		openAIKey:    cfg.OpenAIAPIKey,
		bakeryName:   cfg.BakeryName,
		openAIURL:    openAIChatURL,
		httpClient:   httpx.ExternalHTTPClient(),
		sem:          make(chan struct{}, limit),
	}
}

func (e *Enricher) Provider() string { return e.provider }

func (e *Enricher) Model() string { return e.model }

// Usage returns the token usage accumulated across every call so far.
func (e *Enricher) Usage() LLMUsage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

func (e *Enricher) Profile(ctx context.Context, req profile.Request) (profile.ClientProfile, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return profile.ClientProfile{}, ctx.Err()
	}
	defer func() { <-e.sem }()

	systemPrompt, userPrompt := buildProfilePrompts(e.bakeryName, req)

	var responseText string
	var usage LLMUsage
	var err error
	switch e.provider {
	case ProviderOpenAI:
		log.Printf("llm profile provider=openai model=%s client=%q", e.model, req.Metrics.Name)
		responseText, usage, err = e.callOpenAI(ctx, systemPrompt, userPrompt)
	default:
		log.Printf("llm profile provider=anthropic model=%s client=%q", e.model, req.Metrics.Name)
		responseText, usage, err = e.callAnthropic(ctx, systemPrompt, userPrompt)
	}
	e.mu.Lock()
	e.usage.Add(usage)
	e.mu.Unlock()
	if c := usageCounterFrom(ctx); c != nil {
		c.Add(usage)
	}
	if err != nil {
		return profile.ClientProfile{}, err
	}
	return parseProfileResponse(responseText)
}

func (e *Enricher) callAnthropic(ctx context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	client := anthropic.NewClient(
		option.WithAPIKey(e.anthropicKey),
		option.WithHTTPClient(e.httpClient),
		option.WithMaxRetries(1),
	)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d cache_create=%d cache_read=%d", len(block.Text), usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens, usage.CacheReadInputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *Enricher) callOpenAI(ctx context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	reqBody := openAIRequest{
		Model: e.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: &openAIFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.openAIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.openAIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", LLMUsage{}, fmt.Errorf("parsing OpenAI response (status %d): %w", resp.StatusCode, err)
	}

	if openAIResp.Error != nil {
		log.Printf("llm openai api error: %s", openAIResp.Error.Message)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return "", LLMUsage{}, fmt.Errorf("no choices in OpenAI response")
	}
	usage := LLMUsage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}

	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(openAIResp.Choices[0].Message.Content), usage.InputTokens, usage.OutputTokens)
	return openAIResp.Choices[0].Message.Content, usage, nil
}

// parseProfileResponse accepts the model's JSON object, optionally wrapped in
// a markdown fence. Shape checks are left to profile.Validate.
func parseProfileResponse(responseText string) (profile.ClientProfile, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var p profile.ClientProfile
	if err := json.Unmarshal([]byte(responseText), &p); err != nil {
		return profile.ClientProfile{}, fmt.Errorf("%w: parsing LLM profile response: %v", profile.ErrInvalidProfile, err)
	}
	p.RiskLevel = normalizeRiskLevel(p.RiskLevel)
	p.Source = domain.ProfileSourceAI
	return p, nil
}

func normalizeRiskLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "low", "bajo", "baja":
		return domain.RiskLow
	case "medium", "medio", "media":
		return domain.RiskMedium
	case "high", "alto", "alta":
		return domain.RiskHigh
	default:
		return strings.TrimSpace(level)
	}
}

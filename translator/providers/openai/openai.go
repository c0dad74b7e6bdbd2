package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/ratelimit"
)

// Provider implements the Translator interface for any OpenAI-compatible
// chat completions endpoint.
type Provider struct {
	name        string
	client      *openai.Client
	model       string
	maxTokens   int
	timeout     time.Duration
	rateLimiter *ratelimit.Limiter
}

// Config holds OpenAI provider configuration
type Config struct {
	Name      string
	APIKey    string
	Endpoint  string // full chat completions URL or API base; empty means api.openai.com
	Model     string
	MaxTokens int
	Timeout   time.Duration
	TPM       int // Tokens per minute
	RPM       int // Requests per minute

	HTTPClient *http.Client
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		Name:      "openai",
		APIKey:    apiKey,
		Model:     openai.GPT4oMini,
		MaxTokens: 1024,
		Timeout:   60 * time.Second,
		TPM:       90000,
		RPM:       500,
	}
}

// NewProvider creates a new OpenAI provider
func NewProvider(config *Config) *Provider {
	if config == nil {
		panic("config cannot be nil")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.Endpoint != "" {
		clientConfig.BaseURL = BaseURL(config.Endpoint)
	}
	if config.HTTPClient != nil {
		clientConfig.HTTPClient = config.HTTPClient
	}

	name := config.Name
	if name == "" {
		name = "openai"
	}

	return &Provider{
		name:        name,
		client:      openai.NewClientWithConfig(clientConfig),
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		timeout:     config.Timeout,
		rateLimiter: ratelimit.NewLimiter(config.TPM, config.RPM),
	}
}

// BaseURL turns a configured endpoint into the API base go-openai expects.
// Both "https://host/v1" and "https://host/v1/chat/completions" are accepted.
func BaseURL(endpoint string) string {
	base := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	return strings.TrimRight(base, "/")
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// Translate translates a single text. It makes exactly one upstream call;
// retries are the chain's job.
func (p *Provider) Translate(ctx context.Context, req *translator.TranslationRequest) (*translator.TranslationResponse, error) {
	start := time.Now()

	// The timeout covers time spent waiting on the rate limiter too.
	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.rateLimiter.Wait(callCtx, ratelimit.EstimateTokens(req.Text)); err != nil {
		return nil, translator.ClassifyTimeout(ctx, callCtx, p.name, p.timeout, err)
	}

	response, err := p.translate(callCtx, req)
	if err != nil {
		return nil, translator.ClassifyTimeout(ctx, callCtx, p.name, p.timeout, err)
	}

	response.Duration = time.Since(start)
	response.Provider = p.name

	return response, nil
}

func (p *Provider) translate(ctx context.Context, req *translator.TranslationRequest) (*translator.TranslationResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: translator.SystemPrompt(req.SourceLanguage, req.TargetLanguage),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Text,
			},
		},
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return nil, p.classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, translator.Malformed(p.name, "no choices returned")
	}

	translatedText := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translatedText == "" {
		return nil, translator.Malformed(p.name, "empty message content")
	}

	return &translator.TranslationResponse{
		TranslatedText: translatedText,
		SourceText:     req.Text,
		TokensUsed: translator.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// classify maps go-openai errors onto the provider error taxonomy
func (p *Provider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &translator.UpstreamError{Provider: p.name, Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &translator.UpstreamError{Provider: p.name, Status: reqErr.HTTPStatusCode, Body: body}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return translator.Malformed(p.name, "%v", err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	return &translator.TransportError{Provider: p.name, Err: err}
}

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/ratelimit"
)

// Provider implements the Translator interface for Anthropic
type Provider struct {
	name        string
	client      anthropic.Client
	model       string
	maxTokens   int64
	timeout     time.Duration
	rateLimiter *ratelimit.Limiter
}

// Config holds Anthropic provider configuration
type Config struct {
	Name      string
	APIKey    string
	Endpoint  string // API base URL; empty means api.anthropic.com
	Model     string
	MaxTokens int
	Timeout   time.Duration
	TPM       int // Tokens per minute
	RPM       int // Requests per minute

	HTTPClient *http.Client
}

// DefaultConfig returns default Anthropic configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		Name:      "anthropic",
		APIKey:    apiKey,
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 4096,
		Timeout:   60 * time.Second,
		TPM:       80000,
		RPM:       50,
	}
}

// NewProvider creates a new Anthropic provider
func NewProvider(config *Config) *Provider {
	if config == nil {
		panic("config cannot be nil")
	}

	// The SDK's own retries are disabled; the fallback chain owns retry policy.
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.Endpoint != "" {
		base := config.Endpoint
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	}

	name := config.Name
	if name == "" {
		name = "anthropic"
	}
	maxTokens := int64(config.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Provider{
		name:        name,
		client:      anthropic.NewClient(opts...),
		model:       config.Model,
		maxTokens:   maxTokens,
		timeout:     config.Timeout,
		rateLimiter: ratelimit.NewLimiter(config.TPM, config.RPM),
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// Translate translates a single text
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
	systemPrompt := translator.SystemPrompt(req.SourceLanguage, req.TargetLanguage)

	// Instructions and text travel in one user turn
	fullPrompt := fmt.Sprintf("%s\n\nText:\n\n%s", systemPrompt, req.Text)

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fullPrompt)),
		},
	})
	if err != nil {
		return nil, p.classify(err)
	}

	var translatedText string
	for _, block := range message.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			translatedText = strings.TrimSpace(block.Text)
			break
		}
	}
	if translatedText == "" {
		return nil, translator.Malformed(p.name, "no text content returned")
	}

	return &translator.TranslationResponse{
		TranslatedText: translatedText,
		SourceText:     req.Text,
		TokensUsed: translator.TokenUsage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

func (p *Provider) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &translator.UpstreamError{Provider: p.name, Status: apiErr.StatusCode, Body: apiErr.Error()}
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

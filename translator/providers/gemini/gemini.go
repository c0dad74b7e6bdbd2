package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/ratelimit"
)

// Provider implements the Translator interface for Google Gemini
type Provider struct {
	name        string
	client      *genai.Client
	modelName   string
	maxTokens   int32
	timeout     time.Duration
	rateLimiter *ratelimit.Limiter
}

// Config holds Gemini provider configuration
type Config struct {
	Name      string
	APIKey    string
	Endpoint  string // optional API endpoint override
	Model     string
	MaxTokens int
	Timeout   time.Duration
	TPM       int // Tokens per minute
	RPM       int // Requests per minute
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		Name:    "gemini",
		APIKey:  apiKey,
		Model:   "gemini-1.5-flash",
		Timeout: 60 * time.Second,
		TPM:     32000,
		RPM:     60,
	}
}

// NewProvider creates a new Gemini provider
func NewProvider(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	name := config.Name
	if name == "" {
		name = "gemini"
	}

	return &Provider{
		name:        name,
		client:      client,
		modelName:   config.Model,
		maxTokens:   int32(config.MaxTokens),
		timeout:     config.Timeout,
		rateLimiter: ratelimit.NewLimiter(config.TPM, config.RPM),
	}, nil
}

// Close closes the Gemini client
func (p *Provider) Close() error {
	return p.client.Close()
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
	// The system instruction depends on the target language, so each call
	// gets its own model handle instead of mutating a shared one.
	model := p.client.GenerativeModel(p.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(translator.SystemPrompt(req.SourceLanguage, req.TargetLanguage))},
	}
	if p.maxTokens > 0 {
		model.SetMaxOutputTokens(p.maxTokens)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Text))
	if err != nil {
		return nil, p.classify(err)
	}

	translatedText := responseText(resp)
	if translatedText == "" {
		return nil, translator.Malformed(p.name, "no text content returned")
	}

	var inputTokens, outputTokens int
	if resp.UsageMetadata != nil {
		inputTokens = int(resp.UsageMetadata.PromptTokenCount)
		outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &translator.TranslationResponse{
		TranslatedText: translatedText,
		SourceText:     req.Text,
		TokensUsed: translator.TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
	}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String())
}

func (p *Provider) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if code, ok := statusCode(err); ok {
		return &translator.UpstreamError{Provider: p.name, Status: code, Body: err.Error()}
	}
	return &translator.TransportError{Provider: p.name, Err: err}
}

// statusCode extracts an HTTP status from REST or gRPC flavoured API errors
func statusCode(err error) (int, bool) {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			return code, true
		}
		if st := apiErr.GRPCStatus(); st != nil {
			return httpStatus(st.Code())
		}
	}

	if st, ok := status.FromError(err); ok {
		return httpStatus(st.Code())
	}
	return 0, false
}

func httpStatus(code codes.Code) (int, bool) {
	switch code {
	case codes.OK, codes.Canceled, codes.DeadlineExceeded:
		return 0, false
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest, true
	case codes.Unauthenticated:
		return http.StatusUnauthorized, true
	case codes.PermissionDenied:
		return http.StatusForbidden, true
	case codes.NotFound:
		return http.StatusNotFound, true
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests, true
	case codes.Unimplemented:
		return http.StatusNotImplemented, true
	case codes.Unavailable:
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, true
	}
}

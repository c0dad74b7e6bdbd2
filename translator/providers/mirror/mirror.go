// Package mirror talks to self-hosted DeepL-compatible translation mirrors
// (DeepLX and similar) that accept a small JSON body and answer with the
// translated text somewhere in a JSON document.
package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/ratelimit"
)

const maxResponseBytes = 4 << 20

// DefaultResponsePaths are tried in order when no paths are configured.
// They cover DeepLX, LibreTranslate and the DeepL JSON-RPC shape.
var DefaultResponsePaths = []string{"data", "translatedText", "result.texts.0.text", "translations.0.text"}

// RequestFields names the JSON fields of the outgoing request body
type RequestFields struct {
	Text       string
	SourceLang string
	TargetLang string
}

// DefaultRequestFields returns the DeepLX field names
func DefaultRequestFields() RequestFields {
	return RequestFields{Text: "text", SourceLang: "source_lang", TargetLang: "target_lang"}
}

// Config holds mirror provider configuration
type Config struct {
	Name          string
	Endpoint      string
	Token         string // sent as a Bearer token when set
	Timeout       time.Duration
	RPM           int
	Fields        RequestFields
	ResponsePaths []string

	HTTPClient *http.Client
}

// DefaultConfig returns default mirror configuration
func DefaultConfig(name, endpoint string) *Config {
	return &Config{
		Name:          name,
		Endpoint:      endpoint,
		Timeout:       30 * time.Second,
		Fields:        DefaultRequestFields(),
		ResponsePaths: DefaultResponsePaths,
	}
}

// Provider implements the Translator interface for a mirror endpoint
type Provider struct {
	name        string
	endpoint    string
	token       string
	timeout     time.Duration
	fields      RequestFields
	paths       []string
	client      *http.Client
	rateLimiter *ratelimit.Limiter
}

// NewProvider creates a new mirror provider
func NewProvider(config *Config) *Provider {
	if config == nil {
		panic("config cannot be nil")
	}

	fields := config.Fields
	defaults := DefaultRequestFields()
	if fields.Text == "" {
		fields.Text = defaults.Text
	}
	if fields.SourceLang == "" {
		fields.SourceLang = defaults.SourceLang
	}
	if fields.TargetLang == "" {
		fields.TargetLang = defaults.TargetLang
	}

	paths := config.ResponsePaths
	if len(paths) == 0 {
		paths = DefaultResponsePaths
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	name := config.Name
	if name == "" {
		name = "mirror"
	}

	return &Provider{
		name:        name,
		endpoint:    config.Endpoint,
		token:       config.Token,
		timeout:     config.Timeout,
		fields:      fields,
		paths:       paths,
		client:      client,
		rateLimiter: ratelimit.NewLimiter(0, config.RPM),
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

	if err := p.rateLimiter.Wait(callCtx, 1); err != nil {
		return nil, translator.ClassifyTimeout(ctx, callCtx, p.name, p.timeout, err)
	}

	text, err := p.translate(callCtx, req)
	if err != nil {
		return nil, translator.ClassifyTimeout(ctx, callCtx, p.name, p.timeout, err)
	}

	return &translator.TranslationResponse{
		TranslatedText: text,
		SourceText:     req.Text,
		Provider:       p.name,
		Duration:       time.Since(start),
	}, nil
}

func (p *Provider) translate(ctx context.Context, req *translator.TranslationRequest) (string, error) {
	body, err := p.requestBody(req)
	if err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", p.name, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if p.token != "" {
		request.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(request)
	if err != nil {
		return "", &translator.TransportError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	var bodyReader io.Reader
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	default:
		bodyReader = resp.Body
	}

	raw, err := io.ReadAll(io.LimitReader(bodyReader, maxResponseBytes))
	if err != nil {
		return "", &translator.TransportError{Provider: p.name, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if delay := retryAfter(resp.Header.Get("Retry-After")); delay > 0 {
			p.rateLimiter.Pause(delay)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &translator.UpstreamError{Provider: p.name, Status: resp.StatusCode, Body: string(raw)}
	}

	return p.extract(raw)
}

func (p *Provider) requestBody(req *translator.TranslationRequest) ([]byte, error) {
	body := []byte(`{}`)
	var err error

	body, err = sjson.SetBytes(body, p.fields.Text, req.Text)
	if err != nil {
		return nil, fmt.Errorf("%s: set %s: %w", p.name, p.fields.Text, err)
	}
	if source := translator.MirrorCode(req.SourceLanguage); source != "" {
		body, err = sjson.SetBytes(body, p.fields.SourceLang, source)
		if err != nil {
			return nil, fmt.Errorf("%s: set %s: %w", p.name, p.fields.SourceLang, err)
		}
	}
	body, err = sjson.SetBytes(body, p.fields.TargetLang, translator.MirrorCode(req.TargetLanguage))
	if err != nil {
		return nil, fmt.Errorf("%s: set %s: %w", p.name, p.fields.TargetLang, err)
	}
	return body, nil
}

// extract returns the first non-empty string found at one of the configured paths
func (p *Provider) extract(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", translator.Malformed(p.name, "response is not valid JSON")
	}

	res := gjson.ParseBytes(raw)
	for _, path := range p.paths {
		value := res.Get(path)
		if value.Exists() && value.Type == gjson.String {
			if text := strings.TrimSpace(value.String()); text != "" {
				return text, nil
			}
		}
	}

	if apiErr := res.Get("error"); apiErr.Exists() {
		return "", translator.Malformed(p.name, "error in response: %s", apiErr.String())
	}
	return "", translator.Malformed(p.name, "no translation at %s", strings.Join(p.paths, ", "))
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func retryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return time.Until(at)
	}
	return 0
}

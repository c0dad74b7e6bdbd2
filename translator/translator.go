package translator

import (
	"context"
	"fmt"
	"time"
)

// Translator defines the interface for translation providers
type Translator interface {
	// Translate translates a single text from source language to target language
	Translate(ctx context.Context, req *TranslationRequest) (*TranslationResponse, error)

	// Name returns the provider name
	Name() string
}

// TranslationRequest represents a translation request
type TranslationRequest struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
}

// TranslationResponse represents a translation response
type TranslationResponse struct {
	TranslatedText string
	SourceText     string
	TokensUsed     TokenUsage
	Provider       string
	Duration       time.Duration

	// Attempts lists providers that failed before this one answered
	Attempts []Attempt
}

// DurationMs returns the provider call duration in milliseconds
func (r *TranslationResponse) DurationMs() int64 {
	if r == nil {
		return 0
	}
	return r.Duration.Milliseconds()
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ProviderKind selects the client adapter used for a provider
type ProviderKind string

const (
	KindMirror    ProviderKind = "mirror"
	KindLLM       ProviderKind = "llm"
	KindAnthropic ProviderKind = "anthropic"
	KindGemini    ProviderKind = "gemini"
)

// ParseProviderKind parses a kind name, accepting a few common aliases.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch s {
	case "mirror", "deeplx":
		return KindMirror, nil
	case "llm", "openai":
		return KindLLM, nil
	case "anthropic", "claude":
		return KindAnthropic, nil
	case "gemini", "google":
		return KindGemini, nil
	default:
		return "", fmt.Errorf("unknown provider kind: %q (supported: mirror, llm, anthropic, gemini)", s)
	}
}

// ProviderSpec is the static configuration of one upstream provider.
// It is built once at startup and never mutated afterwards.
type ProviderSpec struct {
	Name       string
	Kind       ProviderKind
	Endpoint   string
	Auth       string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
	RPM        int
	TPM        int

	// Mirror only: request field overrides and gjson paths tried in order
	// when extracting the translated text.
	RequestFields map[string]string
	ResponsePaths []string
}

// SystemPrompt returns the instruction that pins the output language for LLM providers
func SystemPrompt(sourceLanguage, targetLanguage string) string {
	target := LanguageName(targetLanguage)

	prompt := "You are a professional translator working on a museum collection catalog. "
	if sourceLanguage != "" {
		prompt += fmt.Sprintf("Translate the user's text from %s into %s.", LanguageName(sourceLanguage), target)
	} else {
		prompt += fmt.Sprintf("Translate the user's text into %s.", target)
	}

	prompt += "\n\nKeep artist names, titles of works and inventory numbers as they are unless a well-established " + target + " form exists."
	prompt += "\nReply with the translation only. Do not add notes, quotes or explanations."

	return prompt
}

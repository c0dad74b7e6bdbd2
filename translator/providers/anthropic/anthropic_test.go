package anthropic_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/providers/anthropic"
)

func TestDefaultConfig(t *testing.T) {
	config := anthropic.DefaultConfig("test-api-key")

	if config.APIKey != "test-api-key" {
		t.Errorf("expected API key 'test-api-key', got %q", config.APIKey)
	}
	if config.Model == "" {
		t.Error("expected default model to be set")
	}
	if config.TPM <= 0 {
		t.Error("expected TPM > 0")
	}
	if config.RPM <= 0 {
		t.Error("expected RPM > 0")
	}
}

func TestNewProvider(t *testing.T) {
	provider := anthropic.NewProvider(anthropic.DefaultConfig("test-api-key"))

	if provider.Name() != "anthropic" {
		t.Errorf("expected provider name 'anthropic', got %q", provider.Name())
	}
}

func TestNewProviderPanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic when creating provider with nil config")
		}
	}()

	anthropic.NewProvider(nil)
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *anthropic.Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := anthropic.DefaultConfig("test-key")
	config.Name = "claude1"
	config.Endpoint = server.URL
	config.Timeout = 5 * time.Second
	config.TPM = 0
	config.RPM = 0
	return anthropic.NewProvider(config)
}

var request = &translator.TranslationRequest{
	Text:           "Hanging scroll",
	SourceLanguage: "en",
	TargetLanguage: "zh",
}

func TestTranslateSuccess(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "立轴"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 30, "output_tokens": 4}
		}`))
	})

	resp, err := provider.Translate(context.Background(), request)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.TranslatedText != "立轴" {
		t.Errorf("unexpected translation %q", resp.TranslatedText)
	}
	if resp.Provider != "claude1" {
		t.Errorf("expected provider 'claude1', got %q", resp.Provider)
	}
	if resp.TokensUsed.TotalTokens != 34 {
		t.Errorf("expected 34 total tokens, got %d", resp.TokensUsed.TotalTokens)
	}
}

func TestTranslateOverloaded(t *testing.T) {
	calls := 0
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`))
	})

	_, err := provider.Translate(context.Background(), request)

	var upstream *translator.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if upstream.Status != 529 {
		t.Errorf("expected status 529, got %d", upstream.Status)
	}
	if !upstream.Retryable() {
		t.Error("expected 529 to be retryable")
	}
	if calls != 1 {
		t.Errorf("expected the SDK not to retry on its own, got %d calls", calls)
	}
}

func TestTranslateEmptyContent(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_02",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 30, "output_tokens": 0}
		}`))
	})

	_, err := provider.Translate(context.Background(), request)
	if !errors.Is(err, translator.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

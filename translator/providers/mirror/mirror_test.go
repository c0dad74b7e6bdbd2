package mirror_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/providers/mirror"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, configure func(*mirror.Config)) *mirror.Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := mirror.DefaultConfig("mirror1", server.URL+"/translate")
	config.Timeout = 2 * time.Second
	if configure != nil {
		configure(config)
	}
	return mirror.NewProvider(config)
}

var request = &translator.TranslationRequest{
	Text:           "Oil on canvas",
	SourceLanguage: "en",
	TargetLanguage: "zh",
}

func TestNewProviderPanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic when creating provider with nil config")
		}
	}()

	mirror.NewProvider(nil)
}

func TestTranslateDeepLXShape(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["text"] != "Oil on canvas" || body["source_lang"] != "EN" || body["target_lang"] != "ZH" {
			t.Errorf("unexpected request body: %v", body)
		}

		_, _ = w.Write([]byte(`{"code": 200, "data": "布面油画"}`))
	}, nil)

	resp, err := provider.Translate(context.Background(), request)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.TranslatedText != "布面油画" {
		t.Errorf("unexpected translation %q", resp.TranslatedText)
	}
	if resp.Provider != "mirror1" {
		t.Errorf("expected provider 'mirror1', got %q", resp.Provider)
	}
}

func TestTranslateFallsThroughPaths(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"texts": [{"text": "立轴"}]}}`))
	}, nil)

	resp, err := provider.Translate(context.Background(), request)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.TranslatedText != "立轴" {
		t.Errorf("unexpected translation %q", resp.TranslatedText)
	}
}

func TestTranslateCustomFieldsAndPaths(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["q"] != "Oil on canvas" || body["target"] != "ZH" {
			t.Errorf("unexpected request body: %v", body)
		}
		if _, ok := body["source"]; ok {
			t.Error("expected empty source language to be omitted")
		}

		_, _ = w.Write([]byte(`{"payload": {"out": "布面油画"}}`))
	}, func(c *mirror.Config) {
		c.Token = "secret"
		c.Fields = mirror.RequestFields{Text: "q", SourceLang: "source", TargetLang: "target"}
		c.ResponsePaths = []string{"payload.out"}
	})

	resp, err := provider.Translate(context.Background(), &translator.TranslationRequest{
		Text:           "Oil on canvas",
		TargetLanguage: "zh",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.TranslatedText != "布面油画" {
		t.Errorf("unexpected translation %q", resp.TranslatedText)
	}
}

func TestTranslateBrotliResponse(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = bw.Write([]byte(`{"data": "布面油画"}`))
		_ = bw.Close()
	}, nil)

	resp, err := provider.Translate(context.Background(), request)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.TranslatedText != "布面油画" {
		t.Errorf("unexpected translation %q", resp.TranslatedText)
	}
}

func TestTranslateUpstreamError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"server error", http.StatusInternalServerError, true},
		{"unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message": "nope"}`))
			}, nil)

			_, err := provider.Translate(context.Background(), request)

			var upstream *translator.UpstreamError
			if !errors.As(err, &upstream) {
				t.Fatalf("expected UpstreamError, got %T: %v", err, err)
			}
			if upstream.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, upstream.Status)
			}
			if upstream.Retryable() != tt.retryable {
				t.Errorf("expected retryable=%v", tt.retryable)
			}
		})
	}
}

func TestTranslateRateLimitedPauses(t *testing.T) {
	calls := 0
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data": "ok"}`))
	}, nil)

	_, err := provider.Translate(context.Background(), request)
	var upstream *translator.UpstreamError
	if !errors.As(err, &upstream) || upstream.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 upstream error, got %v", err)
	}

	start := time.Now()
	if _, err := provider.Translate(context.Background(), request); err != nil {
		t.Fatalf("expected second call to succeed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("expected second call to wait out Retry-After, took %v", elapsed)
	}
}

func TestTranslateRetryAfterBeyondTimeout(t *testing.T) {
	var calls atomic.Int32
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "4")
		w.WriteHeader(http.StatusTooManyRequests)
	}, func(c *mirror.Config) {
		c.Timeout = 200 * time.Millisecond
	})

	_, err := provider.Translate(context.Background(), request)
	var upstream *translator.UpstreamError
	if !errors.As(err, &upstream) || upstream.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 upstream error, got %v", err)
	}

	start := time.Now()
	_, err = provider.Translate(context.Background(), request)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected the provider timeout to bound the pause, took %v", elapsed)
	}

	var timeout *translator.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
	if !timeout.Retryable() {
		t.Error("expected timeout to be retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected the paused call not to reach the server, got %d calls", got)
	}
}

func TestTranslateMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>gateway</html>`},
		{"missing field", `{"code": 200}`},
		{"empty text", `{"data": "   "}`},
		{"error body", `{"error": {"code": -32600, "message": "Invalid Request"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}, nil)

			_, err := provider.Translate(context.Background(), request)
			if !errors.Is(err, translator.ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestTranslateTimeout(t *testing.T) {
	release := make(chan struct{})
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(c *mirror.Config) {
		c.Timeout = 50 * time.Millisecond
	})
	defer close(release)

	_, err := provider.Translate(context.Background(), request)

	var timeout *translator.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
}

func TestTranslateCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, nil)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := provider.Translate(ctx, request)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTranslateConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	provider := mirror.NewProvider(mirror.DefaultConfig("mirror1", url))

	_, err := provider.Translate(context.Background(), request)

	var transport *translator.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
}

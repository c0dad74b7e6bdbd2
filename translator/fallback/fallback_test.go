package fallback_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/fallback"
	"github.com/ownlingo/catalog-translate/translator/retry"
)

// Mock translator for testing. It returns errs in order, then succeeds
// unless alwaysErr is set.
type mockTranslator struct {
	name      string
	errs      []error
	alwaysErr error

	mu     sync.Mutex
	calls  int
	closed bool
}

func (m *mockTranslator) Name() string {
	return m.name
}

func (m *mockTranslator) Translate(ctx context.Context, req *translator.TranslationRequest) (*translator.TranslationResponse, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.mu.Unlock()

	if m.alwaysErr != nil {
		return nil, m.alwaysErr
	}
	if call < len(m.errs) {
		return nil, m.errs[call]
	}

	return &translator.TranslationResponse{
		TranslatedText: "translated: " + req.Text,
		SourceText:     req.Text,
		Provider:       m.name,
	}, nil
}

func (m *mockTranslator) Close() error {
	m.closed = true
	return nil
}

func (m *mockTranslator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func member(t translator.Translator, maxRetries int) fallback.Member {
	return fallback.Member{
		Translator: t,
		Retry: &retry.Config{
			MaxRetries:     maxRetries,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		},
	}
}

var testReq = &translator.TranslationRequest{
	Text:           "Oil on canvas",
	SourceLanguage: "en",
	TargetLanguage: "zh",
}

func TestNewChain(t *testing.T) {
	chain := fallback.NewChain(quietLogger(),
		member(&mockTranslator{name: "provider1"}, 0),
		member(&mockTranslator{name: "provider2"}, 0),
	)

	if !contains(chain.Name(), "provider1,provider2") {
		t.Errorf("expected chain name to list providers, got %q", chain.Name())
	}

	providers := chain.Providers()
	if len(providers) != 2 || providers[0] != "provider1" {
		t.Errorf("unexpected providers: %v", providers)
	}
}

func TestNewChainPanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic when creating chain with no providers")
		}
	}()

	fallback.NewChain(quietLogger())
}

func TestNewChainDefaultsRetry(t *testing.T) {
	p := &mockTranslator{name: "p"}
	members := []fallback.Member{{Translator: p}}
	chain := fallback.NewChain(nil, members...)

	if _, err := chain.Translate(context.Background(), testReq); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if members[0].Retry != nil {
		t.Error("expected NewChain to leave the caller's members untouched")
	}
}

func TestChainTranslateSuccess(t *testing.T) {
	provider := &mockTranslator{name: "test-provider"}
	chain := fallback.NewChain(quietLogger(), member(provider, 2))

	resp, err := chain.Translate(context.Background(), testReq)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Provider != "test-provider" {
		t.Errorf("expected provider 'test-provider', got %q", resp.Provider)
	}
	if resp.TranslatedText != "translated: Oil on canvas" {
		t.Errorf("unexpected translation: %q", resp.TranslatedText)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", provider.callCount())
	}
}

func TestChainRetriesBeforeFallback(t *testing.T) {
	flaky := &mockTranslator{
		name: "flaky",
		errs: []error{&translator.UpstreamError{Provider: "flaky", Status: 503}},
	}
	backup := &mockTranslator{name: "backup"}

	chain := fallback.NewChain(quietLogger(), member(flaky, 2), member(backup, 2))

	resp, err := chain.Translate(context.Background(), testReq)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Provider != "flaky" {
		t.Errorf("expected retry to succeed on flaky, got %q", resp.Provider)
	}
	if backup.callCount() != 0 {
		t.Errorf("expected backup not to be called, got %d calls", backup.callCount())
	}
}

func TestChainFallbackOrder(t *testing.T) {
	a := &mockTranslator{name: "A", alwaysErr: &translator.UpstreamError{Provider: "A", Status: 503}}
	b := &mockTranslator{name: "B", alwaysErr: &translator.UpstreamError{Provider: "B", Status: 400}}
	c := &mockTranslator{name: "C"}

	chain := fallback.NewChain(quietLogger(), member(a, 2), member(b, 2), member(c, 2))

	resp, err := chain.Translate(context.Background(), testReq)
	if err != nil {
		t.Fatalf("expected no error after fallback, got %v", err)
	}
	if resp.Provider != "C" {
		t.Errorf("expected provider 'C', got %q", resp.Provider)
	}
	if a.callCount() != 3 {
		t.Errorf("expected A to be tried 1+2 times, got %d", a.callCount())
	}
	if b.callCount() != 1 {
		t.Errorf("expected B (4xx) to be tried once, got %d", b.callCount())
	}
	if c.callCount() != 1 {
		t.Errorf("expected C to be called once, got %d", c.callCount())
	}

	if len(resp.Attempts) != 2 {
		t.Fatalf("expected attempts for A and B, got %+v", resp.Attempts)
	}
	if resp.Attempts[0].Provider != "A" || resp.Attempts[0].Tries != 3 || resp.Attempts[0].Status != 503 {
		t.Errorf("unexpected attempt for A: %+v", resp.Attempts[0])
	}
	if resp.Attempts[1].Provider != "B" || resp.Attempts[1].Tries != 1 || resp.Attempts[1].Status != 400 {
		t.Errorf("unexpected attempt for B: %+v", resp.Attempts[1])
	}
}

func TestChainMalformedNotRetried(t *testing.T) {
	bad := &mockTranslator{name: "bad", alwaysErr: translator.Malformed("bad", "no text")}
	good := &mockTranslator{name: "good"}

	chain := fallback.NewChain(quietLogger(), member(bad, 3), member(good, 0))

	resp, err := chain.Translate(context.Background(), testReq)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Provider != "good" {
		t.Errorf("expected provider 'good', got %q", resp.Provider)
	}
	if bad.callCount() != 1 {
		t.Errorf("expected malformed provider to be called once, got %d", bad.callCount())
	}
}

func TestChainTranslateAllFail(t *testing.T) {
	p1 := &mockTranslator{name: "mirror1", alwaysErr: &translator.TimeoutError{Provider: "mirror1", Limit: time.Second}}
	p2 := &mockTranslator{name: "llm1", alwaysErr: &translator.UpstreamError{Provider: "llm1", Status: 401, Body: "invalid key"}}

	chain := fallback.NewChain(quietLogger(), member(p1, 1), member(p2, 1))

	_, err := chain.Translate(context.Background(), testReq)
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}

	var exhausted *translator.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T: %v", err, err)
	}
	if len(exhausted.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(exhausted.Attempts))
	}

	first, second := exhausted.Attempts[0], exhausted.Attempts[1]
	if first.Provider != "mirror1" || !first.Timeout || first.Tries != 2 {
		t.Errorf("unexpected first attempt: %+v", first)
	}
	if second.Provider != "llm1" || second.Status != 401 || second.Tries != 1 {
		t.Errorf("unexpected second attempt: %+v", second)
	}
	if exhausted.AllTimeouts() {
		t.Error("expected AllTimeouts to be false")
	}
	if !contains(err.Error(), "all providers failed") {
		t.Errorf("expected 'all providers failed' in error, got: %v", err)
	}
}

func TestChainAllTimeouts(t *testing.T) {
	timeout := func(name string) *mockTranslator {
		return &mockTranslator{name: name, alwaysErr: &translator.TimeoutError{Provider: name, Limit: time.Millisecond}}
	}

	chain := fallback.NewChain(quietLogger(), member(timeout("a"), 0), member(timeout("b"), 0))

	_, err := chain.Translate(context.Background(), testReq)

	var exhausted *translator.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if !exhausted.AllTimeouts() {
		t.Error("expected AllTimeouts to be true")
	}
}

func TestChainContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p1 := &mockTranslator{name: "p1", alwaysErr: context.Canceled}
	p2 := &mockTranslator{name: "p2"}

	chain := fallback.NewChain(quietLogger(), member(p1, 2), member(p2, 2))

	_, err := chain.Translate(ctx, testReq)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p2.callCount() != 0 {
		t.Errorf("expected no fallback after cancellation, got %d calls", p2.callCount())
	}
}

func TestChainClose(t *testing.T) {
	p1 := &mockTranslator{name: "p1"}
	p2 := &mockTranslator{name: "p2"}

	chain := fallback.NewChain(quietLogger(), member(p1, 0), member(p2, 0))
	if err := chain.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !p1.closed || !p2.closed {
		t.Error("expected every closable member to be closed")
	}
}

func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ownlingo/catalog-translate/config"
	"github.com/ownlingo/catalog-translate/translator"
)

const sampleConfig = `
provider_defaults:
  timeout: 20s
  max_retries: 3

providers:
  - name: mirror1
    kind: mirror
    endpoint: https://mirror.example.com/translate
    timeout: 5s
    max_retries: 0
    response_paths: [data, result.text]
  - name: llm1
    kind: llm
    endpoint: https://api.example.com/v1
    auth: ${TEST_LLM_KEY}
    model: gpt-4o-mini
  - name: backup
    kind: anthropic
    auth: key
    enabled: false

batch:
  concurrency: 3
  target_lang: ja

store:
  kind: sqlite
  sqlite_path: /tmp/t.db
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "translate-tool.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")

	cfg, err := config.Load(writeConfig(t, sampleConfig), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Batch.Concurrency != 3 || cfg.Batch.TargetLang != "ja" {
		t.Errorf("unexpected batch config: %+v", cfg.Batch)
	}
	if cfg.Store.Kind != "sqlite" {
		t.Errorf("expected sqlite store, got %s", cfg.Store.Kind)
	}
	// Defaults fill what the file leaves out.
	if cfg.Server.Port != 8080 || cfg.Server.RequestTimeout != 60*time.Second {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Retry.Multiplier != 2 {
		t.Errorf("expected default multiplier 2, got %v", cfg.Retry.Multiplier)
	}

	specs, err := cfg.ProviderSpecs()
	if err != nil {
		t.Fatalf("specs: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected disabled provider to be dropped, got %d specs", len(specs))
	}

	mirror, llm := specs[0], specs[1]
	if mirror.Name != "mirror1" || mirror.Kind != translator.KindMirror {
		t.Errorf("unexpected first provider: %+v", mirror)
	}
	if mirror.Timeout != 5*time.Second || mirror.MaxRetries != 0 {
		t.Errorf("expected explicit timeout and max_retries 0, got %v / %d", mirror.Timeout, mirror.MaxRetries)
	}
	if len(mirror.ResponsePaths) != 2 || mirror.ResponsePaths[1] != "result.text" {
		t.Errorf("unexpected response paths: %v", mirror.ResponsePaths)
	}
	if llm.Timeout != 20*time.Second || llm.MaxRetries != 3 {
		t.Errorf("expected provider defaults, got %v / %d", llm.Timeout, llm.MaxRetries)
	}
	if llm.Auth != "sk-test" {
		t.Errorf("expected auth to be expanded from the environment, got %q", llm.Auth)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRANSLATE_BATCH_CONCURRENCY", "9")
	t.Setenv("TRANSLATE_LOG_LEVEL", "debug")

	cfg, err := config.Load(writeConfig(t, sampleConfig), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Batch.Concurrency != 9 {
		t.Errorf("expected env to override concurrency, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected env to override log level, got %s", cfg.Log.Level)
	}
}

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte("TEST_ENVFILE_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("TEST_ENVFILE_KEY") })

	content := strings.ReplaceAll(sampleConfig, "${TEST_LLM_KEY}", "${TEST_ENVFILE_KEY}")
	cfg, err := config.Load(writeConfig(t, content), envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	specs, _ := cfg.ProviderSpecs()
	if specs[1].Auth != "from-dotenv" {
		t.Errorf("expected auth from .env file, got %q", specs[1].Auth)
	}
}

func TestLoadMissingEnvFile(t *testing.T) {
	_, err := config.Load(writeConfig(t, sampleConfig), filepath.Join(t.TempDir(), "missing.env"))
	if err == nil {
		t.Error("expected error for a missing env file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "unknown kind",
			content: `
providers:
  - name: x
    kind: telepathy
`,
			wantErr: "unknown provider kind",
		},
		{
			name: "mirror without endpoint",
			content: `
providers:
  - name: m
    kind: mirror
`,
			wantErr: "endpoint is required",
		},
		{
			name: "duplicate names",
			content: `
providers:
  - name: a
    kind: gemini
  - name: a
    kind: anthropic
`,
			wantErr: "duplicate name",
		},
		{
			name: "zero concurrency",
			content: `
batch:
  concurrency: 0
`,
			wantErr: "batch.concurrency",
		},
		{
			name: "postgres without dsn",
			content: `
store:
  kind: postgres
`,
			wantErr: "postgres_dsn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.content), "")
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRetryBackoff(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	backoff := cfg.RetryBackoff()
	if backoff.InitialBackoff != 500*time.Millisecond || backoff.MaxBackoff != 10*time.Second {
		t.Errorf("unexpected backoff: %+v", backoff)
	}
}

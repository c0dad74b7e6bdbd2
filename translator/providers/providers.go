// Package providers builds provider clients and fallback chains from
// configuration.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/fallback"
	"github.com/ownlingo/catalog-translate/translator/providers/anthropic"
	"github.com/ownlingo/catalog-translate/translator/providers/gemini"
	"github.com/ownlingo/catalog-translate/translator/providers/mirror"
	"github.com/ownlingo/catalog-translate/translator/providers/openai"
	"github.com/ownlingo/catalog-translate/translator/retry"
)

// New creates the provider client for spec
func New(ctx context.Context, spec translator.ProviderSpec, httpClient *http.Client) (translator.Translator, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}

	switch spec.Kind {
	case translator.KindMirror:
		if spec.Endpoint == "" {
			return nil, fmt.Errorf("provider %s: endpoint is required", spec.Name)
		}
		config := mirror.DefaultConfig(spec.Name, spec.Endpoint)
		config.Token = spec.Auth
		config.RPM = spec.RPM
		config.HTTPClient = httpClient
		if spec.Timeout > 0 {
			config.Timeout = spec.Timeout
		}
		config.Fields = mirror.RequestFields{
			Text:       spec.RequestFields["text"],
			SourceLang: spec.RequestFields["source_lang"],
			TargetLang: spec.RequestFields["target_lang"],
		}
		if len(spec.ResponsePaths) > 0 {
			config.ResponsePaths = spec.ResponsePaths
		}
		return mirror.NewProvider(config), nil

	case translator.KindLLM:
		config := openai.DefaultConfig(spec.Auth)
		config.Name = spec.Name
		config.Endpoint = spec.Endpoint
		config.HTTPClient = httpClient
		applyLLM(spec, &config.Model, &config.MaxTokens, &config.Timeout, &config.TPM, &config.RPM)
		return openai.NewProvider(config), nil

	case translator.KindAnthropic:
		config := anthropic.DefaultConfig(spec.Auth)
		config.Name = spec.Name
		config.Endpoint = spec.Endpoint
		config.HTTPClient = httpClient
		applyLLM(spec, &config.Model, &config.MaxTokens, &config.Timeout, &config.TPM, &config.RPM)
		return anthropic.NewProvider(config), nil

	case translator.KindGemini:
		config := gemini.DefaultConfig(spec.Auth)
		config.Name = spec.Name
		config.Endpoint = spec.Endpoint
		applyLLM(spec, &config.Model, &config.MaxTokens, &config.Timeout, &config.TPM, &config.RPM)
		return gemini.NewProvider(ctx, config)

	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", spec.Name, spec.Kind)
	}
}

// applyLLM overrides provider defaults with the values set in spec
func applyLLM(spec translator.ProviderSpec, model *string, maxTokens *int, timeout *time.Duration, tpm, rpm *int) {
	if spec.Model != "" {
		*model = spec.Model
	}
	if spec.MaxTokens > 0 {
		*maxTokens = spec.MaxTokens
	}
	if spec.Timeout > 0 {
		*timeout = spec.Timeout
	}
	// Explicit limits win; zero keeps the provider defaults.
	if spec.TPM > 0 {
		*tpm = spec.TPM
	}
	if spec.RPM > 0 {
		*rpm = spec.RPM
	}
}

// BuildChain creates every provider in specs and wraps them in a fallback
// chain in the given order. backoff supplies the shared backoff curve;
// each member's MaxRetries comes from its spec.
func BuildChain(ctx context.Context, specs []translator.ProviderSpec, backoff retry.Config, logger *logrus.Logger) (*fallback.Chain, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	seen := make(map[string]bool, len(specs))
	members := make([]fallback.Member, 0, len(specs))
	for _, spec := range specs {
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate provider name %q", spec.Name)
		}
		seen[spec.Name] = true

		client, err := New(ctx, spec, nil)
		if err != nil {
			closeAll(members)
			return nil, err
		}

		policy := backoff
		policy.MaxRetries = spec.MaxRetries
		policy.OnRetry = retryLogger(logger, spec.Name)
		members = append(members, fallback.Member{Translator: client, Retry: &policy})

		if logger != nil {
			logger.WithFields(logrus.Fields{
				"provider":    spec.Name,
				"kind":        spec.Kind,
				"timeout":     spec.Timeout,
				"max_retries": spec.MaxRetries,
			}).Debug("Provider configured")
		}
	}

	return fallback.NewChain(logger, members...), nil
}

func retryLogger(logger *logrus.Logger, provider string) func(int, error, time.Duration) {
	if logger == nil {
		return nil
	}
	return func(attempt int, err error, backoff time.Duration) {
		logger.WithFields(logrus.Fields{
			"provider": provider,
			"retry":    attempt,
			"backoff":  backoff,
			"outcome":  translator.Outcome(err),
		}).Debug("Retrying provider")
	}
}

func closeAll(members []fallback.Member) {
	if len(members) == 0 {
		return
	}
	_ = fallback.NewChain(nil, members...).Close()
}

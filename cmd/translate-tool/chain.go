package main

import (
	"context"
	"fmt"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/fallback"
	"github.com/ownlingo/catalog-translate/translator/providers"
)

// providerSpecs returns the configured providers, restricted to and
// ordered by only when it is non-empty.
func providerSpecs(only []string) ([]translator.ProviderSpec, error) {
	specs, err := cfg.ProviderSpecs()
	if err != nil {
		return nil, err
	}
	if len(only) == 0 {
		return specs, nil
	}

	byName := make(map[string]translator.ProviderSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}

	selected := make([]translator.ProviderSpec, 0, len(only))
	for _, name := range only {
		spec, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("provider %q is not configured or disabled", name)
		}
		selected = append(selected, spec)
	}
	return selected, nil
}

func buildChain(ctx context.Context, only []string) (*fallback.Chain, error) {
	specs, err := providerSpecs(only)
	if err != nil {
		return nil, err
	}
	return providers.BuildChain(ctx, specs, cfg.RetryBackoff(), logger)
}

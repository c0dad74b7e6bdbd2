package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ownlingo/catalog-translate/metrics"
	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/retry"
)

// Member is one provider of a chain together with its retry policy
type Member struct {
	Translator translator.Translator
	Retry      *retry.Config
}

// Chain implements a fallback chain of translators.
// Members are immutable after construction and safe for concurrent use.
type Chain struct {
	members []Member
	logger  *logrus.Logger
}

// NewChain creates a new fallback chain with the given members.
// Members are tried in order: primary → secondary → tertiary → ...
func NewChain(logger *logrus.Logger, members ...Member) *Chain {
	if len(members) == 0 {
		panic("at least one provider is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	own := make([]Member, len(members))
	copy(own, members)
	for i := range own {
		if own[i].Retry == nil {
			own[i].Retry = retry.DefaultConfig()
		}
	}

	return &Chain{
		members: own,
		logger:  logger,
	}
}

// Name returns the name of the chain
func (c *Chain) Name() string {
	return fmt.Sprintf("fallback-chain(%s)", strings.Join(c.Providers(), ","))
}

// Providers returns the provider names in chain order
func (c *Chain) Providers() []string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.Translator.Name()
	}
	return names
}

// Translate tries each provider in order, retrying transient failures within
// a provider before moving on. It returns the first success, the caller's
// context error if it is cancelled, or an *translator.ExhaustedError.
// A successful response lists the providers that failed before it in Attempts.
func (c *Chain) Translate(ctx context.Context, req *translator.TranslationRequest) (*translator.TranslationResponse, error) {
	attempts := make([]translator.Attempt, 0, len(c.members))

	for i, m := range c.members {
		name := m.Translator.Name()
		log := c.logger.WithFields(logrus.Fields{
			"provider": name,
			"position": fmt.Sprintf("%d/%d", i+1, len(c.members)),
		})

		tries := 0
		var resp *translator.TranslationResponse
		err := retry.Do(ctx, m.Retry, func() error {
			tries++
			start := time.Now()
			r, err := m.Translator.Translate(ctx, req)
			metrics.RecordAttempt(name, time.Since(start), err)
			if err != nil {
				log.WithField("try", tries).WithError(err).Debug("Provider attempt failed")
				return err
			}
			resp = r
			return nil
		})

		if err == nil {
			metrics.ChainResults.WithLabelValues("success").Inc()
			if i > 0 {
				log.Info("Translated by fallback provider")
			}
			out := *resp
			out.Attempts = attempts
			return &out, nil
		}

		if ctx.Err() != nil {
			metrics.ChainResults.WithLabelValues("canceled").Inc()
			return nil, ctx.Err()
		}

		attempts = append(attempts, translator.NewAttempt(name, tries, err))
		log.WithFields(logrus.Fields{
			"tries":   tries,
			"outcome": translator.Outcome(err),
		}).Warn("Provider failed, falling back")
	}

	metrics.ChainResults.WithLabelValues("exhausted").Inc()
	return nil, &translator.ExhaustedError{Attempts: attempts}
}

// Close releases members holding client resources
func (c *Chain) Close() error {
	var errs []error
	for _, m := range c.members {
		if closer, ok := m.Translator.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", m.Translator.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

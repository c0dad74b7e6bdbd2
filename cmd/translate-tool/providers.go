package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/providers"
)

const sampleText = "Hanging scroll; ink and color on silk"

var (
	testSource string
	testTarget string
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect the configured providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers in fallback order",
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := cfg.ProviderSpecs()
		if err != nil {
			return err
		}
		if len(specs) == 0 {
			fmt.Println("No providers configured")
			return nil
		}
		for i, spec := range specs {
			fmt.Printf("%d. %s %s timeout=%s max_retries=%d %s\n",
				i+1, bold(spec.Name), spec.Kind, spec.Timeout, spec.MaxRetries, gray(spec.Endpoint))
		}
		return nil
	},
}

var providersTestCmd = &cobra.Command{
	Use:   "test [text]",
	Short: "Send one text to every provider individually, without retries or fallback",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := sampleText
		if len(args) == 1 {
			text = args[0]
		}
		target := testTarget
		if target == "" {
			target = cfg.Batch.TargetLang
		}

		specs, err := cfg.ProviderSpecs()
		if err != nil {
			return err
		}
		if len(specs) == 0 {
			return fmt.Errorf("no providers configured")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		req := &translator.TranslationRequest{
			Text:           text,
			SourceLanguage: testSource,
			TargetLanguage: target,
		}

		failed := 0
		for _, spec := range specs {
			if err := testProvider(ctx, spec, req); err != nil {
				failed++
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		fmt.Printf("\n%d of %d providers working\n", len(specs)-failed, len(specs))
		if failed > 0 {
			return fmt.Errorf("%d providers failed", failed)
		}
		return nil
	},
}

func testProvider(ctx context.Context, spec translator.ProviderSpec, req *translator.TranslationRequest) error {
	client, err := providers.New(ctx, spec, nil)
	if err != nil {
		fmt.Printf("%s %-16s %s\n", red("✗"), spec.Name, err)
		return err
	}
	if closer, ok := client.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	start := time.Now()
	resp, err := client.Translate(ctx, req)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fmt.Printf("%s %-16s %s after %s: %s\n", red("✗"), spec.Name, translator.Outcome(err), elapsed, err)
		return err
	}

	fmt.Printf("%s %-16s %s %s\n", green("✓"), spec.Name, gray(elapsed.String()), resp.TranslatedText)
	return nil
}

func init() {
	providersTestCmd.Flags().StringVar(&testSource, "from", "en", "source language")
	providersTestCmd.Flags().StringVar(&testTarget, "to", "", "target language (default from config)")

	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersTestCmd)
}

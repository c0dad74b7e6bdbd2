package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ownlingo/catalog-translate/batch"
	"github.com/ownlingo/catalog-translate/corpus"
	"github.com/ownlingo/catalog-translate/translator"
)

var (
	fileOutput      string
	fileConcurrency int
	fileStore       string
	fileForce       bool
	fileDryRun      bool
	fileQuiet       bool
	fileProviders   []string
)

var fileCmd = &cobra.Command{
	Use:   "file <input-path> [target-lang]",
	Short: "Translate every pending record of a catalog file",
	Long: `Translate every record of a JSON catalog file that has no translation yet.
Results are written after each record, so an interrupted run resumes where it
stopped. Per-record failures are reported but do not fail the command.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFile,
}

func init() {
	fileCmd.Flags().StringVarP(&fileOutput, "output", "o", "", "output file (default: overwrite the input)")
	fileCmd.Flags().IntVarP(&fileConcurrency, "concurrency", "c", 0, "maximum records translated at once (default from config)")
	fileCmd.Flags().StringVar(&fileStore, "store", "", "result store: json, sqlite or postgres (default from config)")
	fileCmd.Flags().BoolVar(&fileForce, "force", false, "re-translate records that already have a translation")
	fileCmd.Flags().BoolVar(&fileDryRun, "dry-run", false, "count pending records without calling any provider")
	fileCmd.Flags().BoolVarP(&fileQuiet, "quiet", "q", false, "only print failures and the summary")
	fileCmd.Flags().StringSliceVar(&fileProviders, "providers", nil, "comma-separated provider names to use, in order")
}

func runFile(cmd *cobra.Command, args []string) error {
	input := args[0]
	target := cfg.Batch.TargetLang
	if len(args) > 1 {
		target = args[1]
	}
	output := fileOutput
	if output == "" {
		output = input
	}
	concurrency := cfg.Batch.Concurrency
	if fileConcurrency > 0 {
		concurrency = fileConcurrency
	}
	storeKind := cfg.Store.Kind
	if fileStore != "" {
		storeKind = fileStore
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(storeKind, input, output, target)
	if err != nil {
		return err
	}
	defer store.Close()

	doc, err := store.Load(ctx)
	if err != nil {
		return err
	}

	var chain translator.Translator
	if !fileDryRun {
		c, err := buildChain(ctx, fileProviders)
		if err != nil {
			return err
		}
		defer c.Close()
		chain = c
		fmt.Printf("%s %s -> %s via %v (concurrency %d)\n", bold("Translating"), input, target, c.Providers(), concurrency)
	}

	runner := batch.NewRunner(chain, store, batch.Options{
		Concurrency: concurrency,
		TargetLang:  target,
		Force:       fileForce,
		DryRun:      fileDryRun,
		Logger:      logger,
		Progress:    printEvent,
	})

	summary, runErr := runner.Run(ctx, doc.Records)

	// SQL stores keep results in the database; the file is exported once.
	var outputErr *corpus.OutputError
	if _, isJSON := store.(*corpus.JSONStore); !isJSON && !fileDryRun && !errors.As(runErr, &outputErr) {
		if err := doc.WriteFile(output); err != nil {
			return err
		}
	}

	printSummary(summary, output)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("interrupted, %d records saved; run again to resume", summary.Succeeded+summary.Failed)
		}
		return runErr
	}
	return nil
}

func openStore(kind, input, output, target string) (corpus.Store, error) {
	switch kind {
	case "json", "":
		return corpus.NewJSONStore(input, output, target), nil
	case "sqlite":
		s, err := corpus.NewSQLiteStore(cfg.Store.SQLitePath, input, target)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			return nil, fmt.Errorf("store.postgres_dsn is not configured")
		}
		s, err := corpus.NewPostgresStore(cfg.Store.PostgresDSN, input, target)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store %q (supported: json, sqlite, postgres)", kind)
	}
}

func printEvent(e batch.Event) {
	prefix := gray(fmt.Sprintf("[%d/%d]", e.Done, e.Total))

	switch {
	case e.Reason == "canceled":
		fmt.Printf("%s %s %s canceled\n", prefix, yellow("!"), e.Key)
	case e.State == corpus.StateTranslated:
		if !fileQuiet {
			fmt.Printf("%s %s %s via %s (%dms)\n", prefix, green("✓"), e.Key, e.Provider, e.Duration.Milliseconds())
		}
	case e.State == corpus.StateFailed:
		fmt.Printf("%s %s %s: %s\n", prefix, red("✗"), e.Key, e.Reason)
	case e.State == corpus.StateSkipped:
		if !fileQuiet {
			fmt.Printf("%s %s %s %s\n", prefix, gray("-"), e.Key, gray("("+e.Reason+")"))
		}
	}
}

func printSummary(s *batch.Summary, output string) {
	if s == nil {
		return
	}

	fmt.Println()
	fmt.Println(bold("=== Run summary ==="))
	fmt.Printf("Run:        %s\n", s.RunID)
	fmt.Printf("Records:    %d\n", s.Total)
	fmt.Printf("Translated: %s\n", green(s.Succeeded))
	fmt.Printf("Failed:     %s\n", red(s.Failed))
	fmt.Printf("Skipped:    %d\n", s.Skipped)
	if s.Pending > 0 {
		fmt.Printf("Pending:    %s\n", yellow(s.Pending))
	}
	if s.Canceled > 0 {
		fmt.Printf("Canceled:   %s\n", yellow(s.Canceled))
	}
	fmt.Printf("Duration:   %s\n", s.Duration.Round(time.Millisecond))
	if s.Succeeded+s.Failed > 0 {
		fmt.Printf("Output:     %s\n", output)
	}

	if len(s.Failures) > 0 {
		keys := make([]string, 0, len(s.Failures))
		for key := range s.Failures {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Println()
		fmt.Println(bold("Failures:"))
		for _, key := range keys {
			fmt.Printf("  %s %s: %s\n", red("✗"), key, s.Failures[key])
		}
	}
}

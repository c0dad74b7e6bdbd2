package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ownlingo/catalog-translate/corpus"
)

var progressFailed bool

var progressCmd = &cobra.Command{
	Use:   "progress <input-path>",
	Short: "Show how much of a catalog file is translated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := corpus.ReadFile(args[0])
		if err != nil {
			return err
		}

		stats := doc.Stats()
		percent := 0.0
		if stats.Total > 0 {
			percent = float64(stats.Translated) / float64(stats.Total) * 100
		}

		fmt.Println(bold("=== Translation progress ==="))
		fmt.Printf("Records:    %d\n", stats.Total)
		fmt.Printf("Translated: %s (%.1f%%)\n", green(stats.Translated), percent)
		fmt.Printf("Failed:     %s\n", red(stats.Failed))
		fmt.Printf("Pending:    %s\n", yellow(stats.Pending))

		if progressFailed && stats.Failed > 0 {
			fmt.Println()
			for _, rec := range doc.Records {
				if !rec.Translated() && rec.Error != "" {
					fmt.Printf("  %s %s: %s\n", red("✗"), rec.Key(), rec.Error)
				}
			}
		}
		return nil
	},
}

func init() {
	progressCmd.Flags().BoolVar(&progressFailed, "failed", false, "list failed records with their error")
}

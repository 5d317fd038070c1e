package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrDeox/Autogs/internal/evolution/impact"
	"github.com/MrDeox/Autogs/internal/evolution/journal"
	"github.com/MrDeox/Autogs/internal/evolution/models"
	"github.com/MrDeox/Autogs/internal/observability"
)

// newAuditCmd creates the 'audit' command: a review of the journaled
// cycle history, optionally summarized into an impact report.
func newAuditCmd() *cobra.Command {
	var showImpact bool
	var output string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Lists journaled cycles and optionally evaluates their aggregate impact.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			jrnl, err := journal.New(logger, cfg.Journal.Dir)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}

			cycles, err := jrnl.LoadCycles()
			if err != nil {
				return fmt.Errorf("failed to load journal: %w", err)
			}
			if len(cycles) == 0 {
				fmt.Println("No cycles recorded yet.")
				return nil
			}

			for _, res := range cycles {
				printCycle(res)
			}

			if !showImpact {
				return nil
			}
			return writeImpact(cycles, output)
		},
	}

	cmd.Flags().BoolVar(&showImpact, "impact", false, "Evaluate the cycle history into an impact report.")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the impact report to a file instead of stdout.")
	return cmd
}

// writeImpact renders the impact report as markdown.
func writeImpact(cycles []models.CycleResult, output string) error {
	report := impact.Evaluate(cycles)
	md := report.Markdown()

	if output == "" {
		fmt.Println()
		fmt.Print(md)
		return nil
	}
	if err := os.WriteFile(output, []byte(md), 0o644); err != nil {
		return fmt.Errorf("failed to write impact report: %w", err)
	}
	fmt.Printf("\nImpact report written to %s\n", output)
	return nil
}

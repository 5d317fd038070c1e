package cmd

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/MrDeox/Autogs/internal/evolution/journal"
	"github.com/MrDeox/Autogs/internal/evolution/models"
	"github.com/MrDeox/Autogs/internal/observability"
)

// newStatusCmd creates the 'status' command. Status is derived from the
// durable cycle journal so it works whether or not a daemon is running.
func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Reports the organism's last known cycle state from the journal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			jrnl, err := journal.New(logger, cfg.Journal.Dir)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}

			last, err := jrnl.LastCycle()
			if err != nil {
				return fmt.Errorf("failed to read journal: %w", err)
			}
			if last == nil {
				fmt.Println("No cycles recorded yet.")
				return nil
			}

			if asJSON {
				out, merr := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(last, "", "  ")
				if merr != nil {
					return fmt.Errorf("failed to render status: %w", merr)
				}
				fmt.Println(string(out))
				return nil
			}

			printStatus(last)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the raw cycle record as JSON.")
	return cmd
}

func printStatus(last *models.CycleResult) {
	fmt.Printf("last cycle:   %d (%s)\n", last.Number, last.Outcome)
	if last.Hypothesis != nil {
		fmt.Printf("hypothesis:   %s on %s\n", last.Hypothesis.Kind, last.Hypothesis.Component)
	}
	if last.Evaluation != nil {
		fmt.Printf("verdict:      %s\n", last.Evaluation.Verdict)
	}
	if last.RevisionID != "" {
		fmt.Printf("revision:     %s\n", shortID(last.RevisionID))
	}
	if last.Error != "" {
		fmt.Printf("error:        %s\n", last.Error)
	}
	fmt.Printf("episodes:     %d\n", last.EpisodeCount)
	fmt.Printf("finished at:  %s\n", last.FinishedAt.Format("2006-01-02 15:04:05 MST"))
}

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/convergehq/converge/pkg/drift"
)

func newDriftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Drift detection",
		Long: `Detect divergence between declared and live state.

Drift detection is read-only: divergence is recorded and alerted, never
auto-corrected. An operator converges a drifted resource by re-applying
its intent.`,
	}

	cmd.AddCommand(newDriftScanCommand())

	return cmd
}

func newDriftScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a one-off drift scan",
		Long: `Scan every settled resource: read its live state from the provider,
diff it against the declared spec, and persist the drift status.`,
		Example: `  # Scan all settled resources once
  converge drift scan`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			detector := drift.NewDetector(rt.store, rt.adapter, drift.WithLogger(rt.logger))
			result, err := detector.Scan(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}

			fmt.Printf("scanned %d resources in %s: %d in sync, %d drifted, %d missing\n",
				result.Scanned, result.Duration.Round(time.Millisecond), result.InSync, result.Drifted, result.Missing)
			for _, event := range result.Events {
				fmt.Printf("  %-8s %s (%d fields)\n", event.Status, event.ResourceID, len(event.Fields))
			}
			return nil
		},
	}

	return cmd
}

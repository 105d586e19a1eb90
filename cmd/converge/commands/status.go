package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/convergehq/converge/pkg/engine"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [resource-id]",
		Short: "Show reconciliation state",
		Long: `Show the reconciliation state of managed resources.

Without arguments every record is listed. With a resource id the full
record is printed, including the last observed snapshot and the last
classified error.`,
		Example: `  # List all resources
  converge status

  # Inspect one resource
  converge status container/default/api-gateway`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if len(args) == 1 {
				id, err := engine.ParseResourceID(args[0])
				if err != nil {
					return err
				}
				record, err := rt.engine.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(record)
			}

			records, err := rt.engine.List(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(records)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tPHASE\tDRIFT\tGENERATION\tUPDATED")
			for _, record := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					record.ID,
					record.Phase,
					record.Drift,
					record.Generation,
					record.UpdatedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return w.Flush()
		},
	}

	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convergehq/converge/pkg/engine"
	"github.com/convergehq/converge/pkg/intent"
)

func newApplyCommand() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "apply <path>",
		Short: "Submit intents and reconcile them",
		Long: `Validate intent files, submit them through policy admission, and run a
reconciliation pass for each accepted resource.

With --async the intents are only submitted; reconciliation is left to a
running serve loop.`,
		Example: `  # Apply a single intent
  converge apply intents/budget.yaml

  # Submit a directory of intents without waiting for reconciliation
  converge apply --async ./intents`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			docs, err := intent.LoadPath(args[0])
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no intent documents found in %s", args[0])
			}

			type outcome struct {
				ID         string `json:"id"`
				Generation int64  `json:"generation,omitempty"`
				Phase      string `json:"phase,omitempty"`
				Attempts   int    `json:"attempts,omitempty"`
				Error      string `json:"error,omitempty"`
			}
			outcomes := make([]outcome, 0, len(docs))
			failed := 0

			for _, doc := range docs {
				desired, err := rt.validator.ValidateDocument(doc)
				if err != nil {
					outcomes = append(outcomes, outcome{ID: doc.ID().String(), Error: err.Error()})
					failed++
					continue
				}

				receipt, err := rt.engine.Submit(ctx, desired)
				if err != nil {
					outcomes = append(outcomes, outcome{ID: desired.ID.String(), Error: err.Error()})
					failed++
					continue
				}

				out := outcome{ID: receipt.ID.String(), Generation: receipt.Generation}

				if !async {
					result, err := rt.engine.Reconcile(ctx, receipt.ID)
					if err != nil {
						out.Error = err.Error()
						failed++
					} else {
						out.Phase = string(result.Phase)
						out.Attempts = result.Attempts
						if result.Err != nil {
							out.Error = result.Err.Message
							failed++
						}
					}
				}

				outcomes = append(outcomes, out)
			}

			if jsonOutput {
				if err := printJSON(outcomes); err != nil {
					return err
				}
			} else {
				for _, out := range outcomes {
					switch {
					case out.Error != "":
						fmt.Printf("error    %s: %s\n", out.ID, out.Error)
					case async:
						fmt.Printf("accepted %s (generation %d)\n", out.ID, out.Generation)
					default:
						fmt.Printf("%-8s %s (generation %d, attempts %d)\n",
							out.Phase, out.ID, out.Generation, out.Attempts)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d intents failed", failed, len(docs))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "submit only, do not wait for reconciliation")

	return cmd
}

func newRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <resource-id>",
		Short: "Deprovision a resource and delete its record",
		Long: `Remove a managed resource. The provider resource is deleted first; the
state record is removed only after the provider confirms the deletion.`,
		Example: `  # Remove a container service
  converge remove container/default/api-gateway`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := engine.ParseResourceID(args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.engine.Remove(ctx, id); err != nil {
				return err
			}

			fmt.Printf("removed %s\n", id)
			return nil
		},
	}

	return cmd
}

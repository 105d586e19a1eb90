package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convergehq/converge/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [resource-id]",
		Short: "Preview the ops a reconciliation pass would apply",
		Long: `Compute the corrective operations that would converge each resource
toward its declared state, without applying anything.

With a resource id only that resource is planned; otherwise all records
are planned.`,
		Example: `  # Plan every managed resource
  converge plan

  # Plan a single resource
  converge plan budget/platform/team-alpha`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			var plans []*engine.Plan
			if len(args) == 1 {
				id, err := engine.ParseResourceID(args[0])
				if err != nil {
					return err
				}
				plan, err := rt.engine.Plan(ctx, id)
				if err != nil {
					return err
				}
				plans = append(plans, plan)
			} else {
				plans, err = rt.engine.PlanAll(ctx)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(plans)
			}

			for _, plan := range plans {
				if len(plan.Ops) == 0 {
					fmt.Printf("%s: in sync\n", plan.ResourceID)
					continue
				}
				fmt.Printf("%s: %d ops\n", plan.ResourceID, len(plan.Ops))
				for _, op := range plan.Ops {
					marker := " "
					if op.RequiresReplace {
						marker = "!"
					}
					fmt.Printf("  %s %-7s %s: %v -> %v\n", marker, op.Action, op.Field, op.From, op.To)
				}
			}

			return nil
		},
	}

	return cmd
}

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/convergehq/converge/pkg/intent"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Policy administration",
		Long: `Inspect and test the admission policies that intents are evaluated
against before they reach the reconciler.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyTestCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Example: `  # List the built-in and configured policies
  converge policy list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			policies := rt.policy.ListPolicies()

			if jsonOutput {
				return printJSON(policies)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return w.Flush()
		},
	}

	return cmd
}

func newPolicyTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <path>",
		Short: "Evaluate intent files against the loaded policies",
		Long: `Validate intent files and run them through policy evaluation without
submitting anything. Violations and warnings are reported per document.`,
		Example: `  # Check a directory of intents against policy
  converge policy test ./intents`,
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

			type report struct {
				ID         string      `json:"id"`
				Allowed    bool        `json:"allowed"`
				Error      string      `json:"error,omitempty"`
				Violations interface{} `json:"violations,omitempty"`
				Warnings   interface{} `json:"warnings,omitempty"`
			}
			reports := make([]report, 0, len(docs))
			denied := 0

			for _, doc := range docs {
				desired, err := rt.validator.ValidateDocument(doc)
				if err != nil {
					reports = append(reports, report{ID: doc.ID().String(), Error: err.Error()})
					denied++
					continue
				}

				result, err := rt.policy.Evaluate(ctx, desired)
				if err != nil {
					return err
				}

				rep := report{ID: desired.ID.String(), Allowed: result.Allowed}
				if len(result.Violations) > 0 {
					rep.Violations = result.Violations
				}
				if len(result.Warnings) > 0 {
					rep.Warnings = result.Warnings
				}
				if !result.Allowed {
					denied++
				}
				reports = append(reports, rep)

				if !jsonOutput {
					switch {
					case result.Allowed:
						fmt.Printf("allow %s\n", rep.ID)
					default:
						fmt.Printf("deny  %s\n", rep.ID)
					}
					for _, v := range result.Violations {
						fmt.Printf("      %s: %s\n", v.Policy, v.Message)
					}
					for _, v := range result.Warnings {
						fmt.Printf("      warning %s: %s\n", v.Policy, v.Message)
					}
				}
			}

			if jsonOutput {
				if err := printJSON(reports); err != nil {
					return err
				}
			}

			if denied > 0 {
				return fmt.Errorf("%d of %d intents denied by policy", denied, len(docs))
			}
			return nil
		},
	}

	return cmd
}

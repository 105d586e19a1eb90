package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convergehq/converge/pkg/intent"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate intent files",
		Long: `Validate YAML intent files without submitting them.

Each document is checked structurally against its kind schema and
semantically against the kind's field rules. All violations are reported
in one pass.`,
		Example: `  # Validate a single intent file
  converge validate intents/budget.yaml

  # Validate every intent in a directory
  converge validate ./intents`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := intent.LoadPath(args[0])
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no intent documents found in %s", args[0])
			}

			validator := intent.NewValidator()
			invalid := 0

			type report struct {
				ID     string         `json:"id"`
				Valid  bool           `json:"valid"`
				Issues []intent.Issue `json:"issues,omitempty"`
			}
			reports := make([]report, 0, len(docs))

			for _, doc := range docs {
				_, err := validator.ValidateDocument(doc)
				rep := report{ID: doc.ID().String(), Valid: err == nil}

				var vErr *intent.ValidationError
				switch {
				case err == nil:
				case errors.As(err, &vErr):
					rep.Issues = vErr.Issues
				default:
					return err
				}

				if !rep.Valid {
					invalid++
				}
				reports = append(reports, rep)
			}

			if jsonOutput {
				if err := printJSON(reports); err != nil {
					return err
				}
			} else {
				for _, rep := range reports {
					if rep.Valid {
						fmt.Printf("ok    %s\n", rep.ID)
						continue
					}
					fmt.Printf("error %s\n", rep.ID)
					for _, issue := range rep.Issues {
						fmt.Printf("      %s: %s\n", issue.Field, issue.Reason)
					}
				}
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d documents invalid", invalid, len(docs))
			}
			return nil
		},
	}

	return cmd
}

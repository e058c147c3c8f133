package commands

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/histogram/internal/config"
)

// ErrInvalidConfig is returned by validate when the file has problems.
var ErrInvalidConfig = errors.New("invalid config")

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	var nocolor bool

	cmd := &cobra.Command{
		Use:   "validate <histogram.yaml>",
		Short: "Check a config file against the schema and its semantic rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if nocolor {
				color.NoColor = true
			}

			return runValidate(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&nocolor, "no-color", false, "disable colored output")

	return cmd
}

func runValidate(cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()

	violations, err := config.ValidateFile(path)
	if err != nil && !errors.Is(err, config.ErrSchemaViolation) {
		return err
	}

	if len(violations) > 0 {
		color.New(color.FgRed).Fprintf(out, "%s does not match the schema\n", path)

		for _, v := range violations {
			color.New(color.FgRed).Fprintf(out, "  - %s\n", v)
		}

		return fmt.Errorf("%w: %d schema violation(s)", ErrInvalidConfig, len(violations))
	}

	_, err = config.LoadConfig(path, nil)
	if err != nil {
		color.New(color.FgRed).Fprintf(out, "%s is invalid\n  - %v\n", path, err)

		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	color.New(color.FgGreen).Fprintf(out, "%s is valid\n", path)

	return nil
}

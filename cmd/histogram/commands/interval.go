package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/histogram/internal/config"
)

// NewIntervalCommand creates the interval command.
func NewIntervalCommand() *cobra.Command {
	var (
		flags panelFlags
		now   = time.Now
	)

	cmd := &cobra.Command{
		Use:   "interval",
		Short: "Show the bucket width and segments a range resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(flags.configPath, flags.overrides(cmd))
			if err != nil {
				return err
			}

			p, err := newPlan(cfg, now(), flags.zoom)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "range     %s .. %s\n", p.rng.From.Format(time.RFC3339), p.rng.To.Format(time.RFC3339))
			fmt.Fprintf(out, "interval  %s\n", p.interval.Label(cfg.Panel.AutoInt))
			fmt.Fprintf(out, "segments  %d\n", len(p.bounds))

			for _, b := range p.bounds {
				fmt.Fprintf(out, "  %s\n", b.Name)
			}

			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

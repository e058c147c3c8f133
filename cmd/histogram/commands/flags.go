// Package commands implements CLI command handlers for histogram.
package commands

import (
	"github.com/spf13/cobra"
)

// panelFlags are the config overrides shared by run and interval.
type panelFlags struct {
	configPath string

	from       string
	to         string
	rangeText  string
	interval   string
	resolution int
	timezone   string
	zoom       float64

	backend string
	path    string
	pattern string
	span    string
}

func (f *panelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Config file (default: histogram.yaml in ., ./config, /etc/histogram)")

	cmd.Flags().StringVar(&f.from, "from", "", "Range start, RFC 3339 (requires --to)")
	cmd.Flags().StringVar(&f.to, "to", "", "Range end, RFC 3339 (requires --from)")
	cmd.Flags().StringVar(&f.rangeText, "range", "", "Trailing range ending now, e.g. 24h, 7d")
	cmd.Flags().StringVar(&f.interval, "interval", "", "Fixed bucket width, e.g. 5m (disables auto interval)")
	cmd.Flags().IntVar(&f.resolution, "resolution", 0, "Target bucket count for the auto interval")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "IANA timezone for segment names and labels")
	cmd.Flags().Float64Var(&f.zoom, "zoom", 0, "Scale the range about its centre, e.g. 2 zooms out (0 = off)")

	cmd.Flags().StringVar(&f.backend, "backend", "", "Source backend: dir, sqlite")
	cmd.Flags().StringVar(&f.path, "path", "", "Segment directory or SQLite database")
	cmd.Flags().StringVar(&f.pattern, "pattern", "", "Segment name pattern, e.g. '[logs-]2006.01.02'")
	cmd.Flags().StringVar(&f.span, "span", "", "Segment span: none, hour, day, week, month, year")
}

// overrides returns config keys for the flags set on the command line.
func (f *panelFlags) overrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}

	set := func(flag, key string, value any) {
		if cmd.Flags().Changed(flag) {
			out[key] = value
		}
	}

	set("from", "panel.from", f.from)
	set("to", "panel.to", f.to)
	set("range", "panel.range", f.rangeText)
	set("resolution", "panel.resolution", f.resolution)
	set("timezone", "panel.timezone", f.timezone)
	set("backend", "source.backend", f.backend)
	set("path", "source.path", f.path)
	set("pattern", "source.pattern", f.pattern)
	set("span", "source.span", f.span)

	if cmd.Flags().Changed("interval") {
		out["panel.interval"] = f.interval
		out["panel.auto_int"] = false
	}

	return out
}

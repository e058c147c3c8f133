package render

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

const valueDigits = 2

// WriteTable renders n as a terminal table: one row per bucket, one column per
// series, and a footer with per-series hit totals.
func WriteTable(w io.Writer, n segment.Notification, o Options) error {
	f := NewFrame(n, o.Percentage)

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false

	header := table.Row{"time"}
	footer := table.Row{"hits"}

	for _, col := range f.Columns {
		header = append(header, columnName(col))
		footer = append(footer, humanize.Comma(col.Hits))
	}

	tbl.AppendHeader(header)

	loc := o.location()

	for i, t := range f.Times {
		row := table.Row{time.UnixMilli(t).In(loc).Format(time.DateTime)}
		for _, col := range f.Columns {
			row = append(row, formatValue(col.Values[i], o.Percentage))
		}

		tbl.AppendRow(row)
	}

	tbl.AppendFooter(footer)

	if o.Title != "" {
		tbl.SetTitle(o.Title)
	}

	tbl.SetCaption(statusLine(n, o.AutoInterval))

	_, err := io.WriteString(w, tbl.Render()+"\n")
	if err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	return nil
}

func formatValue(v float64, percentage bool) string {
	if percentage {
		return humanize.FtoaWithDigits(v, valueDigits) + "%"
	}

	return humanize.CommafWithDigits(v, valueDigits)
}

func statusLine(n segment.Notification, auto bool) string {
	state := color.New(color.FgGreen).Sprint(n.State)

	switch {
	case n.State.Phase == segment.PhaseAborted:
		state = color.New(color.FgRed).Sprint(n.State)
	case !n.State.Terminal():
		state = color.New(color.FgYellow).Sprint(n.State)
	}

	line := fmt.Sprintf("%s, interval %s, %s hits", state, n.Interval.Label(auto), humanize.Comma(n.Hits))
	if n.Malformed > 0 {
		line += fmt.Sprintf(", %s malformed", humanize.Comma(n.Malformed))
	}

	if n.Err != nil {
		line += ": " + n.Err.Error()
	}

	return line
}

// Write renders n in the given format.
func Write(w io.Writer, format Format, n segment.Notification, o Options) error {
	switch format {
	case FormatHTML:
		return WriteHTML(w, n, o)
	case FormatTable:
		return WriteTable(w, n, o)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

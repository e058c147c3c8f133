package render

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

const (
	chartWidth  = "100%"
	chartHeight = "500px"
	stackName   = "total"
	areaOpacity = 0.3
)

func (o Options) globals(n segment.Notification) []charts.GlobalOpts {
	yName := "count"
	if o.Percentage {
		yName = "%"
	}

	return []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight, Theme: o.Theme}),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: subtitle(n, o.AutoInterval), Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll", Top: "10%", Left: "center"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}, opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
		charts.WithGridOpts(opts.Grid{Top: "25%", Bottom: "15%", Left: "5%", Right: "5%", ContainLabel: opts.Bool(true)}),
	}
}

func subtitle(n segment.Notification, auto bool) string {
	s := fmt.Sprintf("interval %s, %s hits, %s", n.Interval.Label(auto), humanize.Comma(n.Hits), n.State)
	if n.Err != nil {
		s += ": " + n.Err.Error()
	}

	return s
}

func columnName(c Column) string {
	if c.Err != nil {
		return c.Label + " (incomplete)"
	}

	return c.Label
}

// Chart builds the go-echarts chart for n. Stacked options produce a stacked
// bar chart, otherwise one line per series.
func Chart(n segment.Notification, o Options) interface{ Render(w io.Writer) error } {
	f := NewFrame(n, o.Percentage)
	labels := f.Labels(n, o.location())

	if o.Stack {
		bar := charts.NewBar()
		bar.SetGlobalOptions(o.globals(n)...)
		bar.SetXAxis(labels)

		for _, col := range f.Columns {
			data := make([]opts.BarData, len(col.Values))
			for i, v := range col.Values {
				data[i] = opts.BarData{Value: v}
			}

			seriesOpts := []charts.SeriesOpts{charts.WithBarChartOpts(opts.BarChart{Stack: stackName})}
			if col.Color != "" {
				seriesOpts = append(seriesOpts, charts.WithItemStyleOpts(opts.ItemStyle{Color: col.Color}))
			}

			bar.AddSeries(columnName(col), data, seriesOpts...)
		}

		return bar
	}

	line := charts.NewLine()
	line.SetGlobalOptions(o.globals(n)...)
	line.SetXAxis(labels)

	for _, col := range f.Columns {
		data := make([]opts.LineData, len(col.Values))
		for i, v := range col.Values {
			data[i] = opts.LineData{Value: v}
		}

		seriesOpts := []charts.SeriesOpts{charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(areaOpacity)})}
		if col.Color != "" {
			seriesOpts = append(seriesOpts,
				charts.WithItemStyleOpts(opts.ItemStyle{Color: col.Color}),
				charts.WithLineStyleOpts(opts.LineStyle{Color: col.Color}),
			)
		}

		line.AddSeries(columnName(col), data, seriesOpts...)
	}

	return line
}

// WriteHTML renders n as a standalone HTML chart page.
func WriteHTML(w io.Writer, n segment.Notification, o Options) error {
	err := Chart(n, o).Render(w)
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	return nil
}

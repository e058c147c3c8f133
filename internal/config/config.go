package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/histogram/internal/render"
	"github.com/Sumatoshi-tech/histogram/internal/source"
	"github.com/Sumatoshi-tech/histogram/pkg/interval"
	"github.com/Sumatoshi-tech/histogram/pkg/observability"
	"github.com/Sumatoshi-tech/histogram/pkg/query"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
	"github.com/Sumatoshi-tech/histogram/pkg/timeseries"
)

// Config is the top-level configuration for the histogram CLI.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Panel         PanelConfig         `mapstructure:"panel"`
	Source        SourceConfig        `mapstructure:"source"`
	Queries       []QueryConfig       `mapstructure:"queries"`
	Render        RenderConfig        `mapstructure:"render"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PanelConfig holds aggregation settings shared by every query.
type PanelConfig struct {
	Mode       string `mapstructure:"mode"`
	TimeField  string `mapstructure:"time_field"`
	ValueField string `mapstructure:"value_field"`
	AutoInt    bool   `mapstructure:"auto_int"`
	Resolution int    `mapstructure:"resolution"`
	Interval   string `mapstructure:"interval"`
	Fill       string `mapstructure:"fill"`
	MaxRows    int    `mapstructure:"max_rows"`
	Stack      bool   `mapstructure:"stack"`
	Percentage bool   `mapstructure:"percentage"`
	Timezone   string `mapstructure:"timezone"`

	// Range is how far back from now the panel looks, e.g. "24h" or "7d".
	// From and To, when both set as RFC 3339, take precedence.
	Range string `mapstructure:"range"`
	From  string `mapstructure:"from"`
	To    string `mapstructure:"to"`
}

// SourceConfig selects and locates the segment storage.
type SourceConfig struct {
	Backend      string `mapstructure:"backend"`
	Path         string `mapstructure:"path"`
	Pattern      string `mapstructure:"pattern"`
	Span         string `mapstructure:"span"`
	CacheRecords int64  `mapstructure:"cache_records"`
}

// QueryConfig is one displayed series. Mode and ValueField default to the panel's.
type QueryConfig struct {
	ID         string            `mapstructure:"id"`
	Alias      string            `mapstructure:"alias"`
	Color      string            `mapstructure:"color"`
	Mode       string            `mapstructure:"mode"`
	ValueField string            `mapstructure:"value_field"`
	Match      map[string]string `mapstructure:"match"`
}

// RenderConfig selects the output sink.
type RenderConfig struct {
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	Title  string `mapstructure:"title"`
	Theme  string `mapstructure:"theme"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig controls telemetry export.
type ObservabilityConfig struct {
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
}

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidResolution indicates panel.resolution is not positive in auto mode.
	ErrInvalidResolution = errors.New("panel.resolution must be positive")
	// ErrInvalidMaxRows indicates panel.max_rows is negative.
	ErrInvalidMaxRows = errors.New("panel.max_rows must be non-negative")
	// ErrInvalidRange indicates the panel time range cannot be parsed.
	ErrInvalidRange = errors.New("invalid panel time range")
	// ErrInvalidTimezone indicates panel.timezone is not a known location.
	ErrInvalidTimezone = errors.New("invalid panel.timezone")
	// ErrStackPercentage indicates percentage was requested without stacking.
	ErrStackPercentage = errors.New("panel.percentage requires panel.stack")
	// ErrMissingSourcePath indicates source.path is empty.
	ErrMissingSourcePath = errors.New("source.path is required")
	// ErrInvalidRenderFormat indicates render.format is unknown.
	ErrInvalidRenderFormat = errors.New("render.format must be html or table")
	// ErrInvalidLogFormat indicates logging.format is unknown.
	ErrInvalidLogFormat = errors.New("logging.format must be text or json")
	// ErrInvalidSampleRatio indicates observability.sample_ratio is outside [0, 1].
	ErrInvalidSampleRatio = errors.New("observability.sample_ratio must be between 0 and 1")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	err := c.validatePanel()
	if err != nil {
		return err
	}

	err = c.validateSource()
	if err != nil {
		return err
	}

	_, err = c.Descriptors()
	if err != nil {
		return err
	}

	return c.validateOutput()
}

func (c *Config) validatePanel() error {
	_, err := query.ParseMode(c.Panel.Mode)
	if err != nil {
		return fmt.Errorf("panel.mode: %w", err)
	}

	if c.Panel.AutoInt && c.Panel.Resolution < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidResolution, c.Panel.Resolution)
	}

	if !c.Panel.AutoInt {
		_, err = interval.Parse(c.Panel.Interval)
		if err != nil {
			return fmt.Errorf("panel.interval: %w", err)
		}
	}

	_, err = timeseries.ParseFill(c.Panel.Fill)
	if err != nil {
		return fmt.Errorf("panel.fill: %w", err)
	}

	if c.Panel.MaxRows < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxRows, c.Panel.MaxRows)
	}

	if c.Panel.Percentage && !c.Panel.Stack {
		return ErrStackPercentage
	}

	_, err = c.Location()
	if err != nil {
		return err
	}

	_, err = c.TimeRange(time.Now())

	return err
}

func (c *Config) validateSource() error {
	_, err := source.ParseBackend(c.Source.Backend)
	if err != nil {
		return fmt.Errorf("source.backend: %w", err)
	}

	if strings.TrimSpace(c.Source.Path) == "" {
		return ErrMissingSourcePath
	}

	_, err = segment.ParseSpan(c.Source.Span)
	if err != nil {
		return fmt.Errorf("source.span: %w", err)
	}

	return nil
}

func (c *Config) validateOutput() error {
	_, err := render.ParseFormat(c.Render.Format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRenderFormat, err)
	}

	switch c.Logging.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	_, err = observability.ParseLevel(c.Logging.Level)
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Observability.SampleRatio)
	}

	return nil
}

// Descriptors converts the configured queries, applying panel defaults.
func (c *Config) Descriptors() ([]query.Descriptor, error) {
	out := make([]query.Descriptor, 0, len(c.Queries))

	for _, qc := range c.Queries {
		modeText := qc.Mode
		if modeText == "" {
			modeText = c.Panel.Mode
		}

		mode, err := query.ParseMode(modeText)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", qc.ID, err)
		}

		valueField := qc.ValueField
		if valueField == "" {
			valueField = c.Panel.ValueField
		}

		out = append(out, query.Descriptor{
			ID:         qc.ID,
			Alias:      qc.Alias,
			Color:      qc.Color,
			Mode:       mode,
			TimeField:  c.Panel.TimeField,
			ValueField: valueField,
			Match:      qc.Match,
		})
	}

	err := query.ValidateAll(out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// IntervalMode returns auto or fixed per panel.auto_int.
func (c *Config) IntervalMode() interval.Mode {
	if c.Panel.AutoInt {
		return interval.ModeAuto
	}

	return interval.ModeFixed
}

// ResolveInterval picks the bucket width for rng.
func (c *Config) ResolveInterval(rng *interval.TimeRange) (interval.Interval, error) {
	return interval.Resolve(rng, c.IntervalMode(), c.Panel.Resolution, c.Panel.Interval)
}

// Fill returns the parsed fill style.
func (c *Config) Fill() (timeseries.Fill, error) {
	return timeseries.ParseFill(c.Panel.Fill)
}

// Location returns the panel timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Panel.Timezone == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(c.Panel.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidTimezone, c.Panel.Timezone, err)
	}

	return loc, nil
}

// TimeRange returns the explicit from/to range, or the trailing panel.range ending at now.
func (c *Config) TimeRange(now time.Time) (*interval.TimeRange, error) {
	if c.Panel.From != "" || c.Panel.To != "" {
		from, err := time.Parse(time.RFC3339, c.Panel.From)
		if err != nil {
			return nil, fmt.Errorf("%w: from %q", ErrInvalidRange, c.Panel.From)
		}

		to, err := time.Parse(time.RFC3339, c.Panel.To)
		if err != nil {
			return nil, fmt.Errorf("%w: to %q", ErrInvalidRange, c.Panel.To)
		}

		rng := interval.NewTimeRange(from, to)

		return &rng, nil
	}

	width, err := interval.Parse(c.Panel.Range)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}

	rng := interval.NewTimeRange(now.Add(-time.Duration(width.Millis)*time.Millisecond), now)

	return &rng, nil
}

// Planner returns the segment planner for the source pattern.
func (c *Config) Planner() (*segment.Planner, error) {
	span, err := segment.ParseSpan(c.Source.Span)
	if err != nil {
		return nil, err
	}

	loc, err := c.Location()
	if err != nil {
		return nil, err
	}

	return &segment.Planner{Pattern: c.Source.Pattern, Span: span, Location: loc}, nil
}

// RenderOptions returns presentation settings for the render sinks.
func (c *Config) RenderOptions() (render.Format, render.Options, error) {
	format, err := render.ParseFormat(c.Render.Format)
	if err != nil {
		return "", render.Options{}, err
	}

	loc, err := c.Location()
	if err != nil {
		return "", render.Options{}, err
	}

	return format, render.Options{
		Title:        c.Render.Title,
		Theme:        c.Render.Theme,
		Stack:        c.Panel.Stack,
		Percentage:   c.Panel.Percentage,
		AutoInterval: c.Panel.AutoInt,
		Location:     loc,
	}, nil
}

// Telemetry builds the observability settings for the given launch mode.
func (c *Config) Telemetry(mode observability.AppMode, version string) (observability.Config, error) {
	level, err := observability.ParseLevel(c.Logging.Level)
	if err != nil {
		return observability.Config{}, err
	}

	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Environment = c.Observability.Environment
	cfg.Mode = mode
	cfg.OTLPEndpoint = c.Observability.OTLPEndpoint
	cfg.OTLPInsecure = c.Observability.OTLPInsecure
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(c.Observability.OTLPHeaders)
	cfg.SampleRatio = c.Observability.SampleRatio
	cfg.LogLevel = level
	cfg.LogJSON = c.Logging.Format == LogFormatJSON
	cfg.Prometheus = mode == observability.ModeWatch && c.Observability.MetricsAddr != ""
	cfg.ShutdownTimeoutSec = DefaultShutdownTimeout

	return cfg, nil
}

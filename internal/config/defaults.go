package config

// Default configuration values.
const (
	DefaultPanelMode       = "count"
	DefaultTimeField       = "@timestamp"
	DefaultAutoInterval    = true
	DefaultResolution      = 100
	DefaultInterval        = "10m"
	DefaultFill            = "minimal"
	DefaultMaxRows         = 100_000
	DefaultRange           = "24h"
	DefaultTimezone        = "UTC"
	DefaultSourceBackend   = "dir"
	DefaultSourcePath      = "./data"
	DefaultSourcePattern   = "[events-]2006.01.02"
	DefaultSourceSpan      = "day"
	DefaultCacheRecords    = 1_000_000
	DefaultRenderFormat    = "table"
	DefaultRenderTitle     = "Histogram"
	DefaultRenderTheme     = "white"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultMetricsAddr     = ":9464"
	DefaultQueryID         = "all"
	DefaultShutdownTimeout = 5
)

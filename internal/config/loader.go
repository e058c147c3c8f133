package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = "histogram"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for histogram settings.
const envPrefix = "HISTOGRAM"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// searchPaths are tried in order when no explicit config file is given.
var searchPaths = []string{".", "./config", "/etc/histogram"}

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, histogram.yaml is searched in the working directory, ./config
// and /etc/histogram. Missing config file is not an error; defaults are used.
// Overrides are dotted keys (e.g. "panel.interval") set above every other source.
func LoadConfig(configPath string, overrides map[string]any) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)

		for _, p := range searchPaths {
			viperCfg.AddConfigPath(p)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	for key, value := range overrides {
		viperCfg.Set(key, value)
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("panel.mode", DefaultPanelMode)
	viperCfg.SetDefault("panel.time_field", DefaultTimeField)
	viperCfg.SetDefault("panel.value_field", "")
	viperCfg.SetDefault("panel.auto_int", DefaultAutoInterval)
	viperCfg.SetDefault("panel.resolution", DefaultResolution)
	viperCfg.SetDefault("panel.interval", DefaultInterval)
	viperCfg.SetDefault("panel.fill", DefaultFill)
	viperCfg.SetDefault("panel.max_rows", DefaultMaxRows)
	viperCfg.SetDefault("panel.stack", false)
	viperCfg.SetDefault("panel.percentage", false)
	viperCfg.SetDefault("panel.timezone", DefaultTimezone)
	viperCfg.SetDefault("panel.range", DefaultRange)
	viperCfg.SetDefault("panel.from", "")
	viperCfg.SetDefault("panel.to", "")

	viperCfg.SetDefault("source.backend", DefaultSourceBackend)
	viperCfg.SetDefault("source.path", DefaultSourcePath)
	viperCfg.SetDefault("source.pattern", DefaultSourcePattern)
	viperCfg.SetDefault("source.span", DefaultSourceSpan)
	viperCfg.SetDefault("source.cache_records", DefaultCacheRecords)

	viperCfg.SetDefault("queries", []map[string]any{{"id": DefaultQueryID}})

	viperCfg.SetDefault("render.format", DefaultRenderFormat)
	viperCfg.SetDefault("render.output", "")
	viperCfg.SetDefault("render.title", DefaultRenderTitle)
	viperCfg.SetDefault("render.theme", DefaultRenderTheme)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("observability.environment", "")
	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.sample_ratio", 0.0)
	viperCfg.SetDefault("observability.metrics_addr", DefaultMetricsAddr)
}

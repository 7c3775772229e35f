// Package config loads the effective CLI configuration from flags,
// RECONCILER_* environment variables and an optional YAML file.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"reconcileflow/internal/api"
	"reconcileflow/internal/matcher"
	"reconcileflow/internal/reporter"
	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

// EnvPrefix is prepended to environment overrides, e.g. RECONCILER_MATCHING_MIN_SCORE
const EnvPrefix = "RECONCILER"

// DefaultDBPath is where runs are stored when no --db is given
var DefaultDBPath = filepath.Join("data", "reconcileflow.sqlite")

// Viper keys
const (
	KeyDB              = "db"
	KeyPreset          = "matching.preset"
	KeyMinScore        = "matching.min_score"
	KeyDateWindow      = "matching.date_window_days"
	KeyMaxCandidates   = "matching.max_candidates"
	KeyAmountTolerance = "matching.amount_tolerance"
	KeyAmountBandCents = "matching.amount_band_cents"
	KeyWorkers         = "matching.workers"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyLogOutput       = "log.output"
	KeyLogFile         = "log.file"
	KeyServerPort      = "server.port"
)

// Config is the effective configuration of one CLI invocation
type Config struct {
	DB       string         `mapstructure:"db" yaml:"db"`
	Matching MatchingConfig `mapstructure:"matching" yaml:"matching"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// MatchingConfig mirrors matcher.Params with CLI-friendly names
type MatchingConfig struct {
	Preset          string  `mapstructure:"preset" yaml:"preset"`
	MinScore        float64 `mapstructure:"min_score" yaml:"min_score"`
	DateWindowDays  int     `mapstructure:"date_window_days" yaml:"date_window_days"`
	MaxCandidates   int     `mapstructure:"max_candidates" yaml:"max_candidates"`
	AmountTolerance float64 `mapstructure:"amount_tolerance" yaml:"amount_tolerance"`
	AmountBandCents int64   `mapstructure:"amount_band_cents" yaml:"amount_band_cents"`
	Workers         int     `mapstructure:"workers" yaml:"workers"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// ServerConfig configures `reconciler serve`
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// SetDefaults registers the built-in defaults on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDB, DefaultDBPath)
	v.SetDefault(KeyPreset, "default")
	setParamDefaults(v, matcher.DefaultParams())

	logDefaults := logger.DefaultConfig()
	v.SetDefault(KeyLogLevel, string(logDefaults.Level))
	v.SetDefault(KeyLogFormat, string(logDefaults.Format))
	v.SetDefault(KeyLogOutput, string(logDefaults.Output))
	v.SetDefault(KeyLogFile, "")

	v.SetDefault(KeyServerPort, api.DefaultConfig().Port)
}

// ApplyPreset replaces the matching defaults with a named preset. Values from
// flags, the environment or the config file still win over it.
func ApplyPreset(v *viper.Viper, name string) error {
	params, err := matcher.ParamsForPreset(name)
	if err != nil {
		return err
	}
	setParamDefaults(v, params)
	return nil
}

func setParamDefaults(v *viper.Viper, p *matcher.Params) {
	v.SetDefault(KeyMinScore, p.MinScoreToKeep)
	v.SetDefault(KeyDateWindow, p.DateWindowDays)
	v.SetDefault(KeyMaxCandidates, p.MaxCandidatesPerInvoice)
	v.SetDefault(KeyAmountTolerance, p.AmountTolerance)
	v.SetDefault(KeyAmountBandCents, p.AmountBandCents)
	v.SetDefault(KeyWorkers, p.Workers)
}

// ConfigureEnv makes v read RECONCILER_* variables, with dots and dashes in
// keys mapped to underscores.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load builds and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	if err := ApplyPreset(v, v.GetString(KeyPreset)); err != nil {
		return nil, err
	}

	// read key by key so AutomaticEnv overrides apply to nested keys too
	cfg := &Config{
		DB: v.GetString(KeyDB),
		Matching: MatchingConfig{
			Preset:          v.GetString(KeyPreset),
			MinScore:        v.GetFloat64(KeyMinScore),
			DateWindowDays:  v.GetInt(KeyDateWindow),
			MaxCandidates:   v.GetInt(KeyMaxCandidates),
			AmountTolerance: v.GetFloat64(KeyAmountTolerance),
			AmountBandCents: v.GetInt64(KeyAmountBandCents),
			Workers:         v.GetInt(KeyWorkers),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
			Output: v.GetString(KeyLogOutput),
			File:   v.GetString(KeyLogFile),
		},
		Server: ServerConfig{Port: v.GetInt(KeyServerPort)},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section of the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DB) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, KeyDB, c.DB, nil).
			WithSuggestion("pass --db or set RECONCILER_DB")
	}
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if err := c.LoggerConfig().Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log, err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, KeyServerPort, c.Server.Port, nil).
			WithSuggestion("use a TCP port between 1 and 65535")
	}
	return nil
}

// Params converts the matching section to engine parameters
func (c *Config) Params() *matcher.Params {
	return &matcher.Params{
		AmountTolerance:         c.Matching.AmountTolerance,
		AmountBandCents:         c.Matching.AmountBandCents,
		DateWindowDays:          c.Matching.DateWindowDays,
		MinScoreToKeep:          c.Matching.MinScore,
		MaxCandidatesPerInvoice: c.Matching.MaxCandidates,
		Workers:                 c.Matching.Workers,
	}
}

// LoggerConfig converts the log section to a logger configuration
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:  logger.Level(strings.ToLower(c.Log.Level)),
		Format: logger.Format(strings.ToLower(c.Log.Format)),
		Output: logger.Output(strings.ToLower(c.Log.Output)),
		File:   c.Log.File,
	}
}

// APIConfig returns the API server configuration
func (c *Config) APIConfig() api.Config {
	cfg := api.DefaultConfig()
	cfg.Port = c.Server.Port
	return cfg
}

// YAML renders the configuration as a YAML document
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "render_config", err)
	}
	return out, nil
}

// CreateReportConfig creates a report configuration for the output format.
// Colors are only used for console output to a terminal.
func CreateReportConfig(format string, useColors bool) (*reporter.ReportConfig, error) {
	f, err := reporter.ParseFormat(format)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, err).
			WithSuggestion("use console, json or csv")
	}

	config := reporter.DefaultReportConfig()
	config.Format = f
	config.UseColors = useColors && f == reporter.FormatConsole
	return config, nil
}

// Describe returns a one-line summary of the matching parameters for logs
func (c *Config) Describe() string {
	m := c.Matching
	return fmt.Sprintf("preset=%s min_score=%g window=%dd max_candidates=%d band=%dc tolerance=%g",
		m.Preset, m.MinScore, m.DateWindowDays, m.MaxCandidates, m.AmountBandCents, m.AmountTolerance)
}

package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/taskcue/cuebridge/pkg/engine"
	"github.com/taskcue/cuebridge/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable read into Settings, e.g.
// CUEBRIDGE_LOG_LEVEL for log.level.
const EnvPrefix = "CUEBRIDGE"

// FileName is the settings file looked up in the working directory when no
// explicit file is given.
const FileName = "cuebridge"

// Settings configures the cuebridge process.
type Settings struct {
	Log     LogSettings     `mapstructure:"log"`
	Engine  EngineSettings  `mapstructure:"engine"`
	Metrics MetricsSettings `mapstructure:"metrics"`
	Tracing TracingSettings `mapstructure:"tracing"`
	Watch   WatchSettings   `mapstructure:"watch"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// EngineSettings are defaults for evaluation requests.
type EngineSettings struct {
	Workers      int    `mapstructure:"workers" validate:"gte=0"`
	ProjectField string `mapstructure:"project_field" validate:"required"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	Endpoint     string  `mapstructure:"endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// WatchSettings configures the watch command.
type WatchSettings struct {
	Debounce time.Duration `mapstructure:"debounce" validate:"gte=0"`
}

// SetDefaults configures default values for all settings.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("engine.workers", 0) // one per CPU
	v.SetDefault("engine.project_field", engine.DefaultProjectField)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sampling_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("watch.debounce", 200*time.Millisecond)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads settings from defaults, the settings file and the
// environment, in increasing precedence. An empty file looks for
// cuebridge.yaml in the working directory and tolerates its absence.
func Load(file string) (*Settings, error) {
	v := NewViper()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrapf(err, "read settings %s", file)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper decodes and validates settings from v.
func LoadWithViper(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the engine and watch settings, then the telemetry
// configuration the settings translate to.
func (s *Settings) Validate() error {
	err := validator.New().Struct(s)
	if err == nil {
		err = s.Telemetry("").Validate()
	}
	if err != nil {
		return errors.WithHint(errors.Wrap(err, "invalid settings"),
			"check cuebridge.yaml and CUEBRIDGE_* environment variables")
	}
	return nil
}

// Telemetry converts the settings to a telemetry configuration. An empty
// version keeps the default.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}

	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	cfg.Logging.Output = s.Log.Output

	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.ListenAddress = s.Metrics.Addr
	cfg.Metrics.Path = s.Metrics.Path

	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	cfg.Tracing.Insecure = s.Tracing.Insecure
	return cfg
}

// EngineOptions returns request options seeded from the settings.
func (s *Settings) EngineOptions() engine.Options {
	return engine.Options{
		Workers:      s.Engine.Workers,
		ProjectField: s.Engine.ProjectField,
	}
}

package loader

import (
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/version"
)

// EnvPrefix prefixes every environment variable Config reads.
const EnvPrefix = "LAYOUTCHECK_"

// Config is the environment-driven loader configuration.
type Config struct {
	VersionPolicy         string `env:"VERSION_POLICY" envDefault:"default"`
	LibraryExt            string `env:"LIBRARY_EXT"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	MaxReportedMismatches int    `env:"MAX_REPORTED_MISMATCHES" envDefault:"32"`
	AllowUnchecked        bool   `env:"ALLOW_UNCHECKED"`
}

// ConfigFromEnv reads Config from the process environment.
func ConfigFromEnv() (Config, error) {
	return parseConfig(env.Options{Prefix: EnvPrefix})
}

// ConfigFromMap reads Config from vars, keyed by full variable name.
func ConfigFromMap(vars map[string]string) (Config, error) {
	return parseConfig(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func parseConfig(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse env")
	}
	return cfg, nil
}

// Options converts the configuration into loader options.
func (c Config) Options() ([]Option, error) {
	policy, err := version.PolicyByName(c.VersionPolicy)
	if err != nil {
		return nil, err
	}
	if c.MaxReportedMismatches < 0 {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(c.MaxReportedMismatches).
			Detail("max reported mismatches must not be negative").
			Build()
	}
	opts := []Option{
		WithPolicy(policy),
		WithMaxReportedMismatches(c.MaxReportedMismatches),
		WithAllowUnchecked(c.AllowUnchecked),
	}
	if c.LibraryExt != "" {
		opts = append(opts, WithExtension(c.LibraryExt))
	}
	return opts, nil
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	return lvl, nil
}

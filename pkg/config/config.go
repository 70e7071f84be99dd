// Package config loads the construction-time defaults for a Session and its
// Budgeter from environment variables and an optional config file, composing
// them the way the teacher's pkg/llm config loading does: built-in default,
// overridden by config file, overridden by environment.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/srnnkls/lalia-go/pkg/session"
)

// Config is the top-level construction bundle: enough to build a Budgeter
// and a Session without the caller hand-assembling either.
type Config struct {
	// Provider selects which llm.Client backend to construct: "openai" or
	// "anthropic".
	Provider string `mapstructure:"provider"`
	// Model is the model name passed to both the transport client and the
	// token counter (per spec §4.5, the counter resolves model -> encoding).
	Model string `mapstructure:"model"`
	// APIKeyEnv names the environment variable the API key is read from,
	// per spec §6 ("its name is a construction-time parameter").
	APIKeyEnv string `mapstructure:"api_key_env"`

	// BudgetThreshold and CompletionBuffer parametrize budget.New: the
	// token ceiling the outgoing message list must fit under, and tokens
	// reserved for the model's own completion.
	BudgetThreshold  int `mapstructure:"budget_threshold"`
	CompletionBuffer int `mapstructure:"completion_buffer"`

	// MaxParserRetries bounds parser.New's repair loop.
	MaxParserRetries int `mapstructure:"max_parser_retries"`

	Session session.Config `mapstructure:"session"`

	// LogLevel and LogFormat configure pkg/logger, mirroring the teacher's
	// own log_level/log_format keys.
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Telemetry configures pkg/telemetry.InitTracer for the generate/execute/
	// parse spans emitted by the LLM, session and parser packages.
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// TelemetryConfig mirrors telemetry.Config, kept as its own mapstructure
// type so Load can populate it from the same file/env precedence as the
// rest of Config without pkg/config importing pkg/telemetry's OTel deps
// into every caller that only wants the struct shape.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SamplerType    string  `mapstructure:"sampler_type"`
	SamplerRatio   float64 `mapstructure:"sampler_ratio"`
}

// Default returns the built-in defaults, identical to what Load would
// produce with no config file and no environment overrides present.
func Default() Config {
	return Config{
		Provider:         "openai",
		Model:            "gpt-4o",
		APIKeyEnv:        "OPENAI_API_KEY",
		BudgetThreshold:  8192,
		CompletionBuffer: 1024,
		MaxParserRetries: 3,
		Session:          session.DefaultConfig(),
		LogLevel:         "info",
		LogFormat:        "fmt",
		Telemetry: TelemetryConfig{
			Enabled:        false,
			ServiceName:    "lalia-go",
			ServiceVersion: "dev",
			SamplerType:    "always",
			SamplerRatio:   1.0,
		},
	}
}

// Load composes Config from, in increasing priority: the built-in default,
// an optional config file named "lalia" (yaml/toml/json, resolved by viper's
// usual search), and environment variables prefixed LALIA_ (nested keys use
// an underscore in place of the dot, e.g. LALIA_SESSION_MAXITERATIONS).
func Load(configPaths ...string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("provider", def.Provider)
	v.SetDefault("model", def.Model)
	v.SetDefault("api_key_env", def.APIKeyEnv)
	v.SetDefault("budget_threshold", def.BudgetThreshold)
	v.SetDefault("completion_buffer", def.CompletionBuffer)
	v.SetDefault("max_parser_retries", def.MaxParserRetries)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("session.autocommit", def.Session.Autocommit)
	v.SetDefault("session.memory", def.Session.Memory)
	v.SetDefault("session.maxiterations", def.Session.MaxIterations)
	v.SetDefault("session.maxfunctioncallattempts", def.Session.MaxFunctionCallAttempts)
	v.SetDefault("session.rollbackonerror", def.Session.RollbackOnError)
	v.SetDefault("telemetry.enabled", def.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", def.Telemetry.ServiceName)
	v.SetDefault("telemetry.service_version", def.Telemetry.ServiceVersion)
	v.SetDefault("telemetry.sampler_type", def.Telemetry.SamplerType)
	v.SetDefault("telemetry.sampler_ratio", def.Telemetry.SamplerRatio)

	v.SetEnvPrefix("LALIA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("lalia")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.lalia")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

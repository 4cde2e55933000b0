package extension

import "github.com/caarlos0/env/v11"

// Config holds the Custody extension configuration.
// Fields can be set programmatically via Option functions, loaded from
// YAML configuration files (under "extensions.custody" or "custody" keys),
// or from CUSTODY_* environment variables.
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `env:"CUSTODY_DISABLE_MIGRATE" json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BootstrapAuthority restricts treasury initialization to the given
	// authority ID. Empty leaves initialization open to the first caller.
	BootstrapAuthority string `env:"CUSTODY_BOOTSTRAP_AUTHORITY" json:"bootstrap_authority" mapstructure:"bootstrap_authority" yaml:"bootstrap_authority"`

	// EmitToLog routes settlement events through the application logger
	// in addition to any emitter installed programmatically.
	EmitToLog bool `env:"CUSTODY_EMIT_TO_LOG" json:"emit_to_log" mapstructure:"emit_to_log" yaml:"emit_to_log"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EmitToLog: true,
	}
}

// LoadConfigFromEnv returns extension configuration read from CUSTODY_*
// environment variables, falling back to defaults on parse failure.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return DefaultConfig()
	}
	return cfg
}

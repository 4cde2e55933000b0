// Package extension provides the Forge extension adapter for Custody.
//
// It implements the forge.Extension interface to integrate the Custody
// settlement engine into a Forge application with DI registration and
// lifecycle management.
//
// Configuration can be provided programmatically via Option functions,
// via YAML configuration files under "extensions.custody" or "custody"
// keys, or via CUSTODY_* environment variables.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	custody "github.com/zephyon/custody"
	"github.com/zephyon/custody/event"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/store"
	"github.com/zephyon/custody/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "custody"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Custodial treasury settlement engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Custody as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *custody.Engine
	store      store.Store
	engineOpts []custody.Option
}

// New creates a new Custody Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Custody engine.
// This is nil until Register is called.
func (e *Extension) Engine() *custody.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the settlement engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use the in-memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts, err := e.buildEngineOpts()
	if err != nil {
		return err
	}

	e.engine = custody.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*custody.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("custody: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("custody: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs custody.Option values from the resolved config.
func (e *Extension) buildEngineOpts() ([]custody.Option, error) {
	opts := make([]custody.Option, 0, len(e.engineOpts)+2)

	if e.config.BootstrapAuthority != "" {
		authority, err := id.Parse(e.config.BootstrapAuthority)
		if err != nil {
			return nil, fmt.Errorf("custody: invalid bootstrap authority: %w", err)
		}
		opts = append(opts, custody.WithBootstrapAuthority(authority))
	}

	if e.config.EmitToLog {
		opts = append(opts, custody.WithEmitter(event.NewLogEmitter(nil)))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts, nil
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("custody: configuration is required but not found in config files; " +
				"ensure 'extensions.custody' or 'custody' key exists in your config")
		}

		e.config = programmaticConfig
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("custody: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("bootstrap_authority", e.config.BootstrapAuthority),
		forge.F("emit_to_log", e.config.EmitToLog),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.custody" first (namespaced pattern).
	if cm.IsSet("extensions.custody") {
		if err := cm.Bind("extensions.custody", &cfg); err == nil {
			e.Logger().Debug("custody: loaded config from file",
				forge.F("key", "extensions.custody"),
			)
			return cfg, true
		}
		e.Logger().Warn("custody: failed to bind extensions.custody config",
			forge.F("error", "bind failed"),
		)
	}

	// Try the bare "custody" key.
	if cm.IsSet("custody") {
		if err := cm.Bind("custody", &cfg); err == nil {
			e.Logger().Debug("custody: loaded config from file",
				forge.F("key", "custody"),
			)
			return cfg, true
		}
		e.Logger().Warn("custody: failed to bind custody config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.EmitToLog {
		yamlConfig.EmitToLog = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BootstrapAuthority == "" && programmaticConfig.BootstrapAuthority != "" {
		yamlConfig.BootstrapAuthority = programmaticConfig.BootstrapAuthority
	}

	return yamlConfig
}

package extension

import (
	custody "github.com/zephyon/custody"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/plugin"
	"github.com/zephyon/custody/store"
)

// Option configures the Custody Forge extension.
type Option func(*Extension)

// WithStore sets the store for the settlement engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a custody.Option through to the underlying engine.
func WithEngineOption(opt custody.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a custody plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, custody.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBootstrapAuthority restricts treasury initialization to the given
// authority.
func WithBootstrapAuthority(authority id.ID) Option {
	return func(e *Extension) { e.config.BootstrapAuthority = authority.String() }
}

// WithEmitToLog routes settlement events through the application logger.
func WithEmitToLog() Option {
	return func(e *Extension) { e.config.EmitToLog = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

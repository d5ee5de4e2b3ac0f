// Package config loads the custody daemon's configuration and the live
// policy document it enforces.
//
// The daemon configuration is read once at startup from a single YAML
// file named by the --config flag or the CUSTODY_CONFIG environment
// variable. The policy document (roles, permissions, lifecycle statuses)
// is different: it is re-read on every lookup so that policy edits apply
// to the very next request without a restart.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajazfarhad/chainofcustody/custody"
)

// EnvConfig names the environment variable consulted when no --config
// flag is given.
const EnvConfig = "CUSTODY_CONFIG"

type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Store selects and configures the record store.
	Store StoreConfig `yaml:"store"`

	// PolicyPath is the policy document (JSONC or YAML).
	PolicyPath string `yaml:"policy_path"`

	// UsersPath optionally names a YAML file of accounts provisioned at
	// startup. Existing accounts are left untouched.
	UsersPath string `yaml:"users_path"`

	// ChainMode is "approver" or "history"; see custody.ChainMode.
	ChainMode string `yaml:"chain_mode"`

	// TrustProxy takes client addresses from X-Forwarded-For/X-Real-IP.
	// Leave it off unless a proxy in front rewrites those headers.
	TrustProxy bool `yaml:"trust_proxy"`

	// Permissions overrides the permission names guarding custody actions.
	Permissions PermissionsConfig `yaml:"permissions"`

	Log LogConfig `yaml:"log"`

	// ShutdownTimeout bounds graceful shutdown, e.g. "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`

	// Migrate applies the schema at startup.
	Migrate bool `yaml:"migrate"`
}

type PermissionsConfig struct {
	Transfer string `yaml:"transfer"`
	Register string `yaml:"register"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used as the base before the file
// is applied.
func Default() *Config {
	return &Config{
		Listen: ":3001",
		Store: StoreConfig{
			Driver:  "memory",
			Migrate: true,
		},
		PolicyPath: "demo_config.json",
		ChainMode:  custody.ChainFromApprover.String(),
		Permissions: PermissionsConfig{
			Transfer: custody.DefaultPermissions.Transfer,
			Register: custody.DefaultPermissions.Register,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		ShutdownTimeout: "10s",
	}
}

// Load reads path over Default and validates the result. An empty path
// falls back to $CUSTODY_CONFIG; if that is empty too, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.PolicyPath == "" {
		errs = append(errs, errors.New("policy_path is required"))
	}
	if _, err := custody.ParseChainMode(c.ChainMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", f))
	}
	if _, err := c.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

func (c *Config) Shutdown() (time.Duration, error) {
	if c.ShutdownTimeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("shutdown_timeout: %w", err)
	}
	return d, nil
}

// ServiceOptions translates the custody-related settings into service options.
func (c *Config) ServiceOptions() []custody.Option {
	mode, _ := custody.ParseChainMode(c.ChainMode) // validated by Load
	return []custody.Option{
		custody.WithChainMode(mode),
		custody.WithPermissions(custody.Permissions{
			Transfer: c.Permissions.Transfer,
			Register: c.Permissions.Register,
		}),
	}
}

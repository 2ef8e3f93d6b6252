package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"dbprobe/internal/db"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the tool reads.
const EnvPrefix = "DBPROBE_"

// Config is the file + environment configuration of dbprobe.
type Config struct {
	LogLevel     string            `yaml:"log_level"`
	Check        Target            `yaml:"check"`
	Environments map[string]Target `yaml:"environments"`
	Pool         PoolConfig        `yaml:"pool"`
	Serve        ServeConfig       `yaml:"serve"`
	Telemetry    TelemetryConfig   `yaml:"telemetry"`
}

// Target describes one database. DSNEnv names an environment variable
// holding the DSN so secrets stay out of the file.
type Target struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`
}

type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type ServeConfig struct {
	AdminAddr  string        `yaml:"admin_addr"`
	Interval   time.Duration `yaml:"interval"`
	ProbeRate  float64       `yaml:"probe_rate"`
	ProbeBurst int           `yaml:"probe_burst"`

	// MaxInFlight bounds concurrent on-demand probes.
	MaxInFlight  int           `yaml:"max_in_flight"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type TelemetryConfig struct {
	// TraceStdout prints spans to stderr when no OTLP endpoint is set.
	TraceStdout bool `yaml:"trace_stdout"`
}

// Getenv returns the value of k, or d when unset or empty.
func Getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		Environments: map[string]Target{},
		Serve: ServeConfig{
			AdminAddr:    ":8081",
			Interval:     30 * time.Second,
			ProbeRate:    1,
			ProbeBurst:   3,
			MaxInFlight:  4,
			ProbeTimeout: 15 * time.Second,
		},
	}
}

// Load reads path (if not empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "ADMIN_ADDR"); v != "" {
		cfg.Serve.AdminAddr = v
	}
	if v := os.Getenv(EnvPrefix + "CHECK_DSN"); v != "" {
		cfg.Check.DSN = v
	}
	if v := os.Getenv(EnvPrefix + "CHECK_DRIVER"); v != "" {
		cfg.Check.Driver = v
	}
	if cfg.Environments == nil {
		cfg.Environments = map[string]Target{}
	}
	for name, t := range cfg.Environments {
		if v := os.Getenv(EnvKey(name, "DSN")); v != "" {
			t.DSN = v
			cfg.Environments[name] = t
		}
	}
}

// EnvKey builds DBPROBE_<NAME>_<SUFFIX> for an environment name.
func EnvKey(name, suffix string) string {
	s := strings.ToUpper(strings.TrimSpace(name))
	s = strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(s)
	return EnvPrefix + s + "_" + suffix
}

// Validate checks that every configured environment resolves to a DSN and
// names a known driver.
func (c *Config) Validate() error {
	drivers := db.DefaultRegistry()
	var errs []error
	for _, name := range c.EnvironmentNames() {
		t := c.Environments[name]
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("environment with empty name"))
			continue
		}
		if t.ResolveDSN() == "" {
			errs = append(errs, fmt.Errorf("environment %q: no dsn (set dsn, dsn_env or %s)", name, EnvKey(name, "DSN")))
		}
		if _, err := drivers.Lookup(t.Descriptor().DriverName()); err != nil {
			errs = append(errs, fmt.Errorf("environment %q: %w", name, err))
		}
	}
	if c.Pool.MaxOpenConns > 0 && c.Pool.MaxIdleConns > c.Pool.MaxOpenConns {
		errs = append(errs, fmt.Errorf("pool: max_idle_conns(%d) > max_open_conns(%d)", c.Pool.MaxIdleConns, c.Pool.MaxOpenConns))
	}
	if c.Serve.Interval < 0 {
		errs = append(errs, errors.New("serve: negative interval"))
	}
	return errors.Join(errs...)
}

// ResolveDSN returns DSN, falling back to the variable named by DSNEnv.
func (t Target) ResolveDSN() string {
	if t.DSN != "" {
		return t.DSN
	}
	if t.DSNEnv != "" {
		return os.Getenv(t.DSNEnv)
	}
	return ""
}

func (t Target) Descriptor() db.Descriptor {
	return db.Descriptor{Driver: t.Driver, DSN: t.ResolveDSN()}
}

// EnvironmentNames returns the configured environment names, sorted.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors converts the environments into manager input.
func (c *Config) Descriptors() map[db.Environment]db.Descriptor {
	out := make(map[db.Environment]db.Descriptor, len(c.Environments))
	for name, t := range c.Environments {
		out[db.Environment(name)] = t.Descriptor()
	}
	return out
}

func (c *Config) PoolOptions() db.Options {
	return db.Options{
		MaxOpenConns:    c.Pool.MaxOpenConns,
		MaxIdleConns:    c.Pool.MaxIdleConns,
		ConnMaxLifetime: c.Pool.ConnMaxLifetime,
		ConnMaxIdleTime: c.Pool.ConnMaxIdleTime,
	}
}

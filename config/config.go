package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jimmychuckball/pythonmap/scanner"
)

// Config represents the top-level configuration structure.
type Config struct {
	Scan   ScanConfig   `yaml:"scan"`
	Output OutputConfig `yaml:"output"`
	API    APIConfig    `yaml:"api"`
}

// ScanConfig holds all settings related to the scanning process.
type ScanConfig struct {
	Host        string   `yaml:"host"`
	Ports       string   `yaml:"ports"`       // "start-end"
	Retries     int      `yaml:"retries"`     // attempts per port
	Timeout     Duration `yaml:"timeout"`     // per-attempt timeout
	Concurrency int      `yaml:"concurrency"` // in-flight attempts
	Network     string   `yaml:"network"`     // tcp, tcp4, tcp6
	Services    string   `yaml:"services"`    // services(5) file
}

// OutputConfig controls how results are reported.
type OutputConfig struct {
	File      string `yaml:"file"`
	JSON      bool   `yaml:"json"`
	NoTUI     bool   `yaml:"no_tui"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// APIConfig configures the scan service.
type APIConfig struct {
	Addr       string   `yaml:"addr"`
	RedisAddr  string   `yaml:"redis_addr"`
	APIKey     string   `yaml:"api_key"`
	Workers    int      `yaml:"workers"`
	RateLimit  int64    `yaml:"rate_limit"`
	RateWindow Duration `yaml:"rate_window"`
	// PortBudget caps the ports one client may submit per rate window.
	PortBudget int64 `yaml:"port_budget"`
}

// Duration wraps time.Duration for YAML unmarshalling from strings like "5s", "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// DefaultPortBudget allows four full port ranges per window.
const DefaultPortBudget = 4 * 65535

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Retries:     scanner.DefaultMaxRetries,
			Timeout:     Duration{scanner.DefaultConnectTimeout},
			Concurrency: scanner.DefaultMaxConcurrency,
			Network:     "tcp",
		},
		Output: OutputConfig{LogLevel: "info"},
		API: APIConfig{
			Addr:       ":8080",
			RedisAddr:  "localhost:6379",
			Workers:    5,
			RateLimit:  60,
			RateWindow: Duration{time.Minute},
			PortBudget: DefaultPortBudget,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (when non-empty), then .env, then the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s is not a number: %s", key, v)
		}
		*dst = n
		return nil
	}

	str("PYTHONMAP_HOST", &c.Scan.Host)
	str("PYTHONMAP_PORTS", &c.Scan.Ports)
	str("PYTHONMAP_SERVICES", &c.Scan.Services)
	str("PYTHONMAP_NETWORK", &c.Scan.Network)
	str("PYTHONMAP_API_ADDR", &c.API.Addr)
	str("REDIS_ADDR", &c.API.RedisAddr)
	str("PYTHONMAP_API_KEY", &c.API.APIKey)
	str("PYTHONMAP_LOG_LEVEL", &c.Output.LogLevel)
	str("PYTHONMAP_LOG_FORMAT", &c.Output.LogFormat)

	if err := integer("PYTHONMAP_RETRIES", &c.Scan.Retries); err != nil {
		return err
	}
	if err := integer("PYTHONMAP_CONCURRENCY", &c.Scan.Concurrency); err != nil {
		return err
	}
	if err := integer("PYTHONMAP_WORKERS", &c.API.Workers); err != nil {
		return err
	}
	for key, dst := range map[string]*int64{
		"PYTHONMAP_RATE_LIMIT":  &c.API.RateLimit,
		"PYTHONMAP_PORT_BUDGET": &c.API.PortBudget,
	} {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s is not a number: %s", key, v)
			}
			*dst = n
		}
	}
	if v, ok := lookup("PYTHONMAP_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PYTHONMAP_TIMEOUT is not a duration: %s", v)
		}
		c.Scan.Timeout = Duration{d}
	}
	return nil
}

// Policy converts the scan section to a scanner policy. Values are taken
// as is, so an explicit zero fails Policy.Validate.
func (c *Config) Policy() scanner.Policy {
	return scanner.Policy{
		MaxRetries:     c.Scan.Retries,
		ConnectTimeout: c.Scan.Timeout.Duration,
		MaxConcurrency: c.Scan.Concurrency,
	}
}

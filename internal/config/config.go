package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// AppConfig is the full service configuration. Values come from Default, then
// the YAML file named by CONFIG_PATH, then environment overrides.
type AppConfig struct {
	Program ProgramConfig `yaml:"program"`
	Service ServiceConfig `yaml:"service"`
	Storage StorageConfig `yaml:"storage"`
	Crank   CrankConfig   `yaml:"crank"`
	Log     LogConfig     `yaml:"log"`
	Vault   VaultConfig   `yaml:"vault"`
}

type ProgramConfig struct {
	ID      string   `yaml:"id" env:"ID"`
	Domains []string `yaml:"domains" env:"DOMAINS" envSeparator:","`
}

type ServiceConfig struct {
	HTTPPort             int             `yaml:"httpPort" env:"API_HTTP_PORT"`
	ClockSkew            time.Duration   `yaml:"clockSkew" env:"SIGNATURE_CLOCK_SKEW"`
	ShutdownTimeout      time.Duration   `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	IdempotencyWindow    time.Duration   `yaml:"idempotencyWindow" env:"IDEMPOTENCY_WINDOW"`
	IdempotencyStorePath string          `yaml:"idempotencyStorePath" env:"IDEMPOTENCY_STORE_PATH"`
	OperatorSecret       string          `yaml:"operatorSecret" env:"OPERATOR_SECRET"`
	RateLimit            RateLimitConfig `yaml:"rateLimit" envPrefix:"RATE_LIMIT_"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute" env:"RPM"`
	Burst             int `yaml:"burst" env:"BURST"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

type CrankConfig struct {
	Allowlist []string `yaml:"allowlist" env:"ALLOWLIST" envSeparator:","`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	Env   string `yaml:"env" env:"ENV"`
}

// VaultConfig seeds the in-process value ledger at startup.
type VaultConfig struct {
	Mints   []MintConfig    `yaml:"mints"`
	Genesis []GenesisConfig `yaml:"genesis"`
}

type MintConfig struct {
	ID       string `yaml:"id"`
	Decimals uint8  `yaml:"decimals"`
}

type GenesisConfig struct {
	Holder string            `yaml:"holder"`
	Native uint64            `yaml:"native"`
	Assets map[string]uint64 `yaml:"assets"`
}

const (
	DriverMemory   = "memory"
	DriverLevelDB  = "leveldb"
	DriverPostgres = "postgres"
)

// Default returns a configuration that runs a single in-memory ledger
// serving both domains.
func Default() *AppConfig {
	return &AppConfig{
		Program: ProgramConfig{Domains: []string{"primary", "secondary"}},
		Service: ServiceConfig{
			HTTPPort:          3000,
			ClockSkew:         60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			IdempotencyWindow: 24 * time.Hour,
			RateLimit:         RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
		},
		Storage: StorageConfig{Driver: DriverMemory},
		Log:     LogConfig{Level: "info", Env: "dev"},
	}
}

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := cfg.parseEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

// parseEnv overlays environment variables section by section. The vault
// seed is file-only.
func (c *AppConfig) parseEnv() error {
	sections := []struct {
		prefix string
		target any
	}{
		{"PROGRAM_", &c.Program},
		{"", &c.Service},
		{"STORAGE_", &c.Storage},
		{"CRANK_", &c.Crank},
		{"LOG_", &c.Log},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: s.prefix}); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Program.ID) == "" {
		return errors.New("config: program.id is required")
	}
	if len(c.Program.Domains) == 0 {
		return errors.New("config: program.domains must name at least one domain")
	}
	for _, d := range c.Program.Domains {
		switch strings.ToLower(strings.TrimSpace(d)) {
		case "primary", "secondary":
		default:
			return fmt.Errorf("config: unknown domain %q", d)
		}
	}
	if c.Service.HTTPPort <= 0 || c.Service.HTTPPort > 65535 {
		return fmt.Errorf("config: invalid http port %d", c.Service.HTTPPort)
	}
	if c.Service.ClockSkew <= 0 {
		return errors.New("config: clock skew must be positive")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverLevelDB:
		if c.Storage.Path == "" {
			return errors.New("config: storage.path is required for leveldb")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("config: storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	for _, m := range c.Vault.Mints {
		if strings.TrimSpace(m.ID) == "" {
			return errors.New("config: vault mint without id")
		}
	}
	return nil
}

// ServesDomain reports whether name is one of the configured domains.
func (c *AppConfig) ServesDomain(name string) bool {
	for _, d := range c.Program.Domains {
		if strings.EqualFold(strings.TrimSpace(d), name) {
			return true
		}
	}
	return false
}

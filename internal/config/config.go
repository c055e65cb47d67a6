package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"lnadvisor/internal/actions"

	"gopkg.in/yaml.v3"
)

type LNDConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	TLSCertPath  string `yaml:"tls_cert_path"`
	MacaroonPath string `yaml:"macaroon_path"`
}

func (c LNDConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AdvisorConfig struct {
	// RefreshDelaySec debounces node events into one refresh.
	RefreshDelaySec int `yaml:"refresh_delay_sec"`
	// RetryDelaySec backs off after a failed refresh or a dropped stream.
	RetryDelaySec int `yaml:"retry_delay_sec"`
}

func (c AdvisorConfig) RefreshDelay() time.Duration {
	return time.Duration(c.RefreshDelaySec) * time.Second
}

func (c AdvisorConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

type Config struct {
	LND      LNDConfig      `yaml:"lnd"`
	Server   ServerConfig   `yaml:"server"`
	Advisor  AdvisorConfig  `yaml:"advisor"`
	Actions  actions.Config `yaml:"actions"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.LND = LNDConfig{
		Host:         "127.0.0.1",
		Port:         10009,
		TLSCertPath:  "~/.lnd/tls.cert",
		MacaroonPath: "~/.lnd/data/chain/bitcoin/mainnet/readonly.macaroon",
	}
	cfg.Server = ServerConfig{Host: "127.0.0.1", Port: 8180}
	cfg.Advisor = AdvisorConfig{RefreshDelaySec: 10, RetryDelaySec: 10}
	cfg.Actions = actions.DefaultConfig()
	return cfg
}

// Load reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the actions knobs. A missing file is
// not an error; the defaults plus environment carry a local setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	applyEnv(cfg)

	cfg.LND.TLSCertPath = expandHome(cfg.LND.TLSCertPath)
	cfg.LND.MacaroonPath = expandHome(cfg.LND.MacaroonPath)

	if cfg.Advisor.RefreshDelaySec <= 0 {
		cfg.Advisor.RefreshDelaySec = 10
	}
	if cfg.Advisor.RetryDelaySec <= 0 {
		cfg.Advisor.RetryDelaySec = 10
	}

	if err := cfg.Actions.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LNADVISOR_PG_DSN")); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("LND_HOST")); v != "" {
		cfg.LND.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("LND_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.LND.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("LND_TLS_CERT_PATH")); v != "" {
		cfg.LND.TLSCertPath = v
	}
	if v := strings.TrimSpace(os.Getenv("LND_MACAROON_PATH")); v != "" {
		cfg.LND.MacaroonPath = v
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

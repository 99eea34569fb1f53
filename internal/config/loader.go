package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// SearchPaths are tried in order when no config file is given
var SearchPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./configs/config.yaml",
	"./configs/development.yaml",
	"/etc/parley/config.yaml",
}

// Defaults returns the configuration used when no file overrides a value
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: DriverPostgres,
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "parley",
				User:     "postgres",
				SSLMode:  "disable",
			},
		},
		HTTP: HTTPConfig{Host: "localhost", Port: 8080},
		Auth: AuthConfig{
			JWT:    JWTConfig{Lifetime: 7 * 24 * time.Hour},
			Broker: BrokerConfig{Issuer: "parley-broker"},
		},
		Logging:     LoggingConfig{Level: "info", Format: "json"},
		NodeID:      1,
		Environment: "local",
	}
}

// Load reads path, or the first existing SearchPaths entry when path is empty,
// over Defaults. ${VAR} references are expanded before parsing and unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = findConfigFile()
		if path == "" {
			slog.Info("no config file found, using defaults")
			return cfg, validate(cfg)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	slog.Info("loading config", "path", path)

	if err := yaml.UnmarshalStrict([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	for _, path := range SearchPaths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// validate reports every problem at once
func validate(cfg *Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch cfg.Database.Driver {
	case DriverPostgres:
		pg := cfg.Database.Postgres
		check(pg.Host != "", "database.postgres.host is required")
		check(pg.Database != "", "database.postgres.database is required")
		check(pg.User != "", "database.postgres.user is required")
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.Database.Driver))
	}

	check(cfg.HTTP.Port >= 1 && cfg.HTTP.Port <= 65535, "http.port must be between 1 and 65535, got %d", cfg.HTTP.Port)
	check(cfg.Auth.JWT.Lifetime > 0, "auth.jwt.lifetime must be positive")
	check(cfg.NodeID >= 0 && cfg.NodeID <= 1023, "node_id must be between 0 and 1023, got %d", cfg.NodeID)

	if _, err := cfg.Session.SessionKey(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.HTTP.ProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Auth.Broker.URL != "" {
		u, err := url.Parse(cfg.Auth.Broker.URL)
		check(err == nil && u.IsAbs(), "auth.broker.url must be an absolute URL, got %q", cfg.Auth.Broker.URL)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

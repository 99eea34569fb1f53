package config

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"time"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig `yaml:"database"`
	HTTP        HTTPConfig     `yaml:"http"`
	Auth        AuthConfig     `yaml:"auth"`
	Session     SessionConfig  `yaml:"session"`
	Logging     LoggingConfig  `yaml:"logging"`
	NodeID      int64          `yaml:"node_id" default:"1"`         // snowflake node, unique per replica
	Environment string         `yaml:"environment" default:"local"` // local, dev, prod
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Host string `yaml:"host" default:"localhost"`
	Port int    `yaml:"port" default:"8080"`

	// TrustedProxies lists the addresses or CIDRs of reverse proxies whose
	// X-Forwarded-For entries are believed. Empty means none.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Addr returns the listen address
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// ProxyPrefixes parses TrustedProxies. A bare address is taken as a single-host prefix.
func (h HTTPConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, entry := range h.TrustedProxies {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %q is not an address or CIDR", entry)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" default:"postgres"` // postgres or memory
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	Database string `yaml:"database" default:"parley"`
	User     string `yaml:"user" default:"postgres"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode" default:"disable"` // disable, require, verify-ca, verify-full
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT    JWTConfig    `yaml:"jwt"`
	Broker BrokerConfig `yaml:"broker"`
}

// JWTConfig holds session token configuration
type JWTConfig struct {
	SigningKey string        `yaml:"signing_key"`             // Secret key for signing JWTs
	Lifetime   time.Duration `yaml:"lifetime" default:"168h"` // Default 7 days
}

// BrokerConfig describes the authentication broker that performs the provider
// handshake. /auth/login redirects to URL and the broker hands verified logins
// back to /auth/callback signed with Secret.
type BrokerConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer" default:"parley-broker"`
}

// SessionConfig holds cookie session configuration
type SessionConfig struct {
	Secret string `yaml:"secret"` // 32-byte base64-encoded key; random per process if empty
	Secure bool   `yaml:"secure"` // set the Secure cookie flag
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`  // Log level: debug, info, warn, error
	Format string `yaml:"format" default:"json"` // Log format: json, text
	File   string `yaml:"file"`                  // optional log file, stderr is always used
}

// ConnectionString returns the PostgreSQL connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// SessionKey decodes the configured session secret. It returns nil when unset.
func (s *SessionConfig) SessionKey() ([]byte, error) {
	if s.Secret == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(s.Secret)
	if err != nil {
		return nil, fmt.Errorf("session.secret must be base64: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("session.secret must decode to at least 32 bytes, got %d", len(key))
	}
	return key, nil
}

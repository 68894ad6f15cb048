// Package config loads the YAML configuration shared by logsocketd and logtail.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LOGSOCKET_LOGS_ROOT.
const EnvPrefix = "LOGSOCKET"

// Config holds every setting of the daemon and the client.
type Config struct {
	WebSocket   WebSocketConfig   `yaml:"websocket" envconfig:"WEBSOCKET"`
	Connections ConnectionsConfig `yaml:"connections" envconfig:"CONNECTIONS"`
	Logs        LogsConfig        `yaml:"logs" envconfig:"LOGS"`
	Database    DatabaseConfig    `yaml:"database" envconfig:"DATABASE"`
	Client      ClientConfig      `yaml:"client" envconfig:"CLIENT"`
}

// WebSocketConfig holds WebSocket-specific settings.
type WebSocketConfig struct {
	// AllowedOrigins is a list of origins allowed to connect via WebSocket.
	// Empty list enforces same-origin policy. "*" allows all origins.
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`

	// MaxMessageSize is the maximum inbound WebSocket message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size" split_words:"true"`

	// PingInterval is how often the daemon pings an idle connection.
	PingInterval time.Duration `yaml:"ping_interval" split_words:"true"`
}

// ConnectionsConfig holds connection limit settings.
type ConnectionsConfig struct {
	// MaxPerIP is the maximum concurrent sockets from a single IP address.
	// 0 means unlimited.
	MaxPerIP int `yaml:"max_per_ip" split_words:"true"`

	// MaxTotal is the maximum total concurrent sockets. 0 means unlimited.
	MaxTotal int `yaml:"max_total" split_words:"true"`

	// ProbeLimit locks out IPs whose subscriptions keep being rejected.
	ProbeLimit ProbeLimitConfig `yaml:"probe_limit" split_words:"true"`
}

// ProbeLimitConfig holds the rejected-subscription lockout settings.
type ProbeLimitConfig struct {
	// MaxFailures is the number of rejected subscriptions before a lockout.
	// 0 disables lockouts.
	MaxFailures int `yaml:"max_failures" split_words:"true"`

	// Lockout is the first lockout; each further lockout doubles it.
	Lockout time.Duration `yaml:"lockout" split_words:"true"`

	// MaxLockout caps the doubling.
	MaxLockout time.Duration `yaml:"max_lockout" split_words:"true"`
}

// LogsConfig locates the service logs served by the daemon.
type LogsConfig struct {
	// Root holds one directory per service, each with a "current" file.
	Root string `yaml:"root" split_words:"true"`

	// PollInterval is the pause before the next RTS when a file had no new lines.
	PollInterval time.Duration `yaml:"poll_interval" split_words:"true"`
}

// DatabaseConfig selects where session audit records go. Driver "" disables auditing.
type DatabaseConfig struct {
	Driver     string         `yaml:"driver" split_words:"true"`
	SQLitePath string         `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	Postgres   PostgresConfig `yaml:"postgres" envconfig:"POSTGRES"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`
	User     string `yaml:"user" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	Database string `yaml:"database" split_words:"true"`
	SSLMode  string `yaml:"ssl_mode" split_words:"true"`
}

// ClientConfig holds the defaults used by logtail.
type ClientConfig struct {
	// Host is the daemon address (host[:port]).
	Host string `yaml:"host" split_words:"true"`

	// Scheme is "ws" or "wss".
	Scheme string `yaml:"scheme" split_words:"true"`

	// Server is the log stream to subscribe to.
	Server string `yaml:"server" split_words:"true"`

	// Mode is "flowcontrol" or "dedup".
	Mode string `yaml:"mode" split_words:"true"`

	// Format is "text" or "html".
	Format string `yaml:"format" split_words:"true"`
}

// DefaultConfig returns a Config with secure defaults.
func DefaultConfig() *Config {
	return &Config{
		WebSocket: WebSocketConfig{
			AllowedOrigins: []string{},
			MaxMessageSize: 4096,
			PingInterval:   54 * time.Second,
		},
		Connections: ConnectionsConfig{
			MaxPerIP: 8,
			MaxTotal: 256,
			ProbeLimit: ProbeLimitConfig{
				MaxFailures: 5,
				Lockout:     30 * time.Second,
				MaxLockout:  5 * time.Minute,
			},
		},
		Logs: LogsConfig{
			Root:         "var/log",
			PollInterval: 500 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Driver:     "",
			SQLitePath: "data/sessions.db",
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Client: ClientConfig{
			Host:   "localhost:8080",
			Scheme: "ws",
			Mode:   "flowcontrol",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a YAML file and then applies
// LOGSOCKET_* environment overrides. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return cfg, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return cfg, fmt.Errorf("environment overrides: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("websocket.max_message_size must be positive, got %d", c.WebSocket.MaxMessageSize)
	}
	if c.Connections.ProbeLimit.MaxFailures < 0 {
		return fmt.Errorf("connections.probe_limit.max_failures must not be negative")
	}
	if c.Logs.PollInterval < 0 {
		return fmt.Errorf("logs.poll_interval must not be negative")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	switch c.Client.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("client.scheme must be ws or wss, got %q", c.Client.Scheme)
	}
	return nil
}

// IsOriginAllowed checks if the given origin is allowed based on the config.
// Returns true if:
// - AllowedOrigins contains "*" (allow all)
// - AllowedOrigins contains the exact origin
// - AllowedOrigins is empty and origin matches the request host (same-origin)
func (c *WebSocketConfig) IsOriginAllowed(origin, requestHost string) bool {
	if len(c.AllowedOrigins) == 0 {
		return isSameOrigin(origin, requestHost)
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	return false
}

// isSameOrigin checks if the origin matches the request host.
func isSameOrigin(origin, requestHost string) bool {
	if origin == "" {
		return true // non-browser clients send no Origin
	}

	originHost := origin
	if idx := strings.Index(origin, "://"); idx != -1 {
		originHost = origin[idx+3:]
	}
	originHost = strings.TrimSuffix(originHost, "/")

	return originHost == requestHost
}

// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/relay-gateway/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	MailboxURL string `kong:"help='Mailbox store base URL (overrides config).',env='MAILBOX_URL'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Cache     CacheConfig     `toml:"cache"`
	Tunnel    TunnelConfig    `toml:"tunnel"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Mailbox   MailboxConfig   `toml:"mailbox"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	PublicURL    string          `toml:"public_url"` // extra self address rejected by the loop guard
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds outbound HTTP settings for the forward path.
type UpstreamConfig struct {
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	FollowRedirects *bool  `toml:"follow_redirects"`
	UserAgent       string `toml:"user_agent"`
}

// CacheConfig controls the GET response cache.
type CacheConfig struct {
	Enabled *bool `toml:"enabled"`
}

// TunnelConfig holds CONNECT tunnel settings.
type TunnelConfig struct {
	ConnectTimeoutSeconds int `toml:"connect_timeout_seconds"`
	DefaultPort           int `toml:"default_port"`
}

// WebSocketConfig holds bridge settings.
type WebSocketConfig struct {
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
	PollIntervalMS     int    `toml:"poll_interval_ms"`
	PollMaxAttempts    int    `toml:"poll_max_attempts"`
	QueueSize          int    `toml:"queue_size"`
	DirectDelivery     string `toml:"direct_delivery"`
}

// MailboxConfig points at the external key-value store used for handoff.
type MailboxConfig struct {
	BaseURL        string `toml:"base_url"`
	AuthToken      string `toml:"auth_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/relay-gateway/config.toml then configs/config.toml. Running without
// any config file is allowed; defaults apply.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.MailboxURL != "" {
		c.Mailbox.BaseURL = cli.MailboxURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Server.PublicURL != "" {
		if err := requireAbsoluteURL(c.Server.PublicURL, "http", "https"); err != nil {
			return fmt.Errorf("server.public_url: %w", err)
		}
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Tunnel.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("tunnel.connect_timeout_seconds must be non-negative; got %d", c.Tunnel.ConnectTimeoutSeconds)
	}
	if c.Tunnel.DefaultPort < 0 || c.Tunnel.DefaultPort > 65535 {
		return fmt.Errorf("tunnel.default_port must be 0–65535; got %d", c.Tunnel.DefaultPort)
	}
	if c.WebSocket.DialTimeoutSeconds < 0 {
		return fmt.Errorf("websocket.dial_timeout_seconds must be non-negative; got %d", c.WebSocket.DialTimeoutSeconds)
	}
	if c.WebSocket.PollIntervalMS < 0 {
		return fmt.Errorf("websocket.poll_interval_ms must be non-negative; got %d", c.WebSocket.PollIntervalMS)
	}
	if c.WebSocket.PollMaxAttempts < 0 {
		return fmt.Errorf("websocket.poll_max_attempts must be non-negative; got %d", c.WebSocket.PollMaxAttempts)
	}
	if c.WebSocket.QueueSize < 0 {
		return fmt.Errorf("websocket.queue_size must be non-negative; got %d", c.WebSocket.QueueSize)
	}
	switch strings.ToLower(c.WebSocket.DirectDelivery) {
	case "socket", "":
	case "mailbox":
		if c.Mailbox.BaseURL == "" {
			return errors.New("websocket.direct_delivery = \"mailbox\" requires mailbox.base_url")
		}
	default:
		return fmt.Errorf("websocket.direct_delivery must be one of: socket, mailbox; got %q", c.WebSocket.DirectDelivery)
	}
	if c.Mailbox.BaseURL != "" {
		if err := requireAbsoluteURL(c.Mailbox.BaseURL, "http", "https"); err != nil {
			return fmt.Errorf("mailbox.base_url: %w", err)
		}
	}
	if c.Mailbox.TimeoutSeconds < 0 {
		return fmt.Errorf("mailbox.timeout_seconds must be non-negative; got %d", c.Mailbox.TimeoutSeconds)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/proxy", "/healthz"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func requireAbsoluteURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %v; got %q", schemes, u.Scheme)
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 10
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.FollowRedirects == nil {
		c.Upstream.FollowRedirects = boolPtr(true)
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "Kernel"
	}
	if c.Cache.Enabled == nil {
		c.Cache.Enabled = boolPtr(true)
	}
	if c.Tunnel.ConnectTimeoutSeconds == 0 {
		c.Tunnel.ConnectTimeoutSeconds = 10
	}
	if c.Tunnel.DefaultPort == 0 {
		c.Tunnel.DefaultPort = 443
	}
	if c.WebSocket.DialTimeoutSeconds == 0 {
		c.WebSocket.DialTimeoutSeconds = 10
	}
	if c.WebSocket.PollIntervalMS == 0 {
		c.WebSocket.PollIntervalMS = 500
	}
	if c.WebSocket.PollMaxAttempts == 0 {
		c.WebSocket.PollMaxAttempts = 600 // 600 × 500ms ≈ 5 minutes
	}
	if c.WebSocket.QueueSize == 0 {
		c.WebSocket.QueueSize = 256
	}
	c.WebSocket.DirectDelivery = strings.ToLower(c.WebSocket.DirectDelivery)
	if c.WebSocket.DirectDelivery == "" {
		c.WebSocket.DirectDelivery = "socket"
	}
	if c.Mailbox.TimeoutSeconds == 0 {
		c.Mailbox.TimeoutSeconds = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func boolPtr(b bool) *bool { return &b }

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UpstreamTimeout returns the forward deadline.
func (c *UpstreamConfig) UpstreamTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Redirects reports whether the forward client follows upstream redirects.
func (c *UpstreamConfig) Redirects() bool {
	return c.FollowRedirects == nil || *c.FollowRedirects
}

// ConnectTimeout returns the tunnel connect deadline.
func (c *TunnelConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// DialTimeout returns the deadline for opening a target WebSocket.
func (c *WebSocketConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// PollInterval returns the mailbox poll cadence.
func (c *WebSocketConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Timeout returns the per-request deadline for mailbox calls.
func (c *MailboxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheEnabled reports whether GET responses are cached.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may carry the mailbox auth token.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" || c.Mailbox.AuthToken == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

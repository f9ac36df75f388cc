// Package config loads relay and client configuration from environment
// variables via viper, the way passage's cmd/passage/application.go binds
// its ConfigXxx keys with viper.SetDefault + AutomaticEnv rather than the
// hand-rolled flag/os.Getenv parsing an earlier iteration of this tool used.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Keys for every environment variable this module reads, matching
// spec.md §6 exactly plus the ambient observability additions in
// SPEC_FULL.md §6.
const (
	KeyPort                   = "port"
	KeyHTTPSPort              = "https_port"
	KeyUseHTTPS               = "use_https"
	KeySSLCert                = "ssl_cert"
	KeySSLKey                 = "ssl_key"
	KeyMaxTunnels             = "max_tunnels"
	KeyRequestTimeout         = "request_timeout"
	KeyPublicURL              = "public_url"
	KeyLogLevel               = "log_level"
	KeyStatsdAddr             = "statsd_addr"
	KeyHeartbeatCheckInterval = "heartbeat_check_interval"
	KeyClientPingTimeout      = "client_ping_timeout"
)

// RelayConfig holds the relay server's runtime configuration.
type RelayConfig struct {
	Port                   int
	HTTPSPort              int
	UseHTTPS               bool
	SSLCert                string
	SSLKey                 string
	MaxTunnels             int
	RequestTimeout         time.Duration
	PublicURL              string
	LogLevel               string
	StatsdAddr             string
	HeartbeatCheckInterval time.Duration
	ClientPingTimeout      time.Duration
}

// NewViper builds a viper instance bound to environment variables with
// spec.md §6's defaults pre-populated.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyHTTPSPort, 8443)
	v.SetDefault(KeyUseHTTPS, false)
	v.SetDefault(KeySSLCert, "")
	v.SetDefault(KeySSLKey, "")
	v.SetDefault(KeyMaxTunnels, 1000)
	v.SetDefault(KeyRequestTimeout, 30000)
	v.SetDefault(KeyPublicURL, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyStatsdAddr, "")
	v.SetDefault(KeyHeartbeatCheckInterval, "30s")
	v.SetDefault(KeyClientPingTimeout, "90s")

	return v
}

// LoadRelayConfig reads a RelayConfig from an already-bound viper instance
// (use NewViper for defaults + env binding).
func LoadRelayConfig(v *viper.Viper) (RelayConfig, error) {
	cfg := RelayConfig{
		Port:           v.GetInt(KeyPort),
		HTTPSPort:      v.GetInt(KeyHTTPSPort),
		UseHTTPS:       v.GetBool(KeyUseHTTPS),
		SSLCert:        v.GetString(KeySSLCert),
		SSLKey:         v.GetString(KeySSLKey),
		MaxTunnels:     v.GetInt(KeyMaxTunnels),
		RequestTimeout: time.Duration(v.GetInt(KeyRequestTimeout)) * time.Millisecond,
		PublicURL:      strings.TrimSuffix(strings.TrimSpace(v.GetString(KeyPublicURL)), "/"),
		LogLevel:       strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		StatsdAddr:     strings.TrimSpace(v.GetString(KeyStatsdAddr)),
	}

	if d := v.GetDuration(KeyHeartbeatCheckInterval); d > 0 {
		cfg.HeartbeatCheckInterval = d
	} else {
		cfg.HeartbeatCheckInterval = 30 * time.Second
	}
	if d := v.GetDuration(KeyClientPingTimeout); d > 0 {
		cfg.ClientPingTimeout = d
	} else {
		cfg.ClientPingTimeout = 90 * time.Second
	}

	if cfg.UseHTTPS && (cfg.SSLCert == "" || cfg.SSLKey == "") {
		return cfg, errors.New("USE_HTTPS requires both SSL_CERT and SSL_KEY")
	}
	if cfg.MaxTunnels <= 0 {
		return cfg, errors.New("MAX_TUNNELS must be > 0")
	}
	if cfg.RequestTimeout <= 0 {
		return cfg, errors.New("REQUEST_TIMEOUT must be > 0")
	}

	return cfg, nil
}

// ClientConfig holds the tunnel client's runtime configuration.
type ClientConfig struct {
	ServerURL            string
	LocalPort            int
	PreferredSubdomain   string
	TunnelID             string
	MaxReconnectAttempts int
	PingInterval         time.Duration
	RequestTimeout       time.Duration
}

// DefaultClientConfig returns baseline client settings matching spec.md
// §4.D's keepalive/timeout/backoff defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxReconnectAttempts: 5,
		PingInterval:         30 * time.Second,
		RequestTimeout:       30 * time.Second,
	}
}

// Validate checks the minimal set of fields a client needs to start.
func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server URL is required")
	}
	if c.LocalPort <= 0 || c.LocalPort > 65535 {
		return errors.New("local port must be between 1 and 65535")
	}
	return nil
}

// Package config loads the configuration of the stompd and stompcat binaries.
package config

import (
	"crypto/tls"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/client"
	"github.com/nofeaturesonlybugs/stomp/v2/internal/logger"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Logger  LoggerConfig  `yaml:"logger"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// HeartbeatConfig is a heart-beat pair; zero disables a direction.
type HeartbeatConfig struct {
	Out time.Duration `yaml:"out"`
	In  time.Duration `yaml:"in"`
}

// ServerConfig represents the broker configuration.
type ServerConfig struct {
	Addr     string   `yaml:"addr" envconfig:"STOMP_SERVER_ADDR"`
	Name     string   `yaml:"name" envconfig:"STOMP_SERVER_NAME"`
	Versions []string `yaml:"versions" envconfig:"STOMP_SERVER_VERSIONS"`

	Heartbeat        HeartbeatConfig `yaml:"heartbeat"`
	HeartbeatOut     time.Duration   `yaml:"-" envconfig:"STOMP_SERVER_HEARTBEAT_OUT"`
	HeartbeatIn      time.Duration   `yaml:"-" envconfig:"STOMP_SERVER_HEARTBEAT_IN"`
	DisableHeartbeat bool            `yaml:"disable_heartbeat" envconfig:"STOMP_SERVER_DISABLE_HEARTBEAT"`

	// MaxSubscriptionsByClient and MaxFramesInTransaction are unlimited when negative.
	MaxSubscriptionsByClient int  `yaml:"max_subscriptions_by_client" envconfig:"STOMP_SERVER_MAX_SUBSCRIPTIONS_BY_CLIENT"`
	MaxFramesInTransaction   int  `yaml:"max_frames_in_transaction" envconfig:"STOMP_SERVER_MAX_FRAMES_IN_TRANSACTION"`
	MaxHeaderLength          int  `yaml:"max_header_length" envconfig:"STOMP_SERVER_MAX_HEADER_LENGTH"`
	MaxHeaders               int  `yaml:"max_headers" envconfig:"STOMP_SERVER_MAX_HEADERS"`
	MaxBodyLength            int  `yaml:"max_body_length" envconfig:"STOMP_SERVER_MAX_BODY_LENGTH"`
	MaxQueuedFrames          int  `yaml:"max_queued_frames" envconfig:"STOMP_SERVER_MAX_QUEUED_FRAMES"`
	TrailingLine             bool `yaml:"trailing_line" envconfig:"STOMP_SERVER_TRAILING_LINE"`

	// Login and Passcode, when Login is set, are the only credentials accepted.
	Login    string `yaml:"login" envconfig:"STOMP_SERVER_LOGIN"`
	Passcode string `yaml:"passcode" envconfig:"STOMP_SERVER_PASSCODE"`

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `yaml:"cert_file" envconfig:"STOMP_SERVER_CERT_FILE"`
	KeyFile  string `yaml:"key_file" envconfig:"STOMP_SERVER_KEY_FILE"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"STOMP_SERVER_SHUTDOWN_TIMEOUT"`
}

// ClientConfig represents the stompcat configuration.
type ClientConfig struct {
	Addr     string `yaml:"addr" envconfig:"STOMP_CLIENT_ADDR"`
	Host     string `yaml:"host" envconfig:"STOMP_CLIENT_HOST"`
	Login    string `yaml:"login" envconfig:"STOMP_CLIENT_LOGIN"`
	Passcode string `yaml:"passcode" envconfig:"STOMP_CLIENT_PASSCODE"`

	Heartbeat    HeartbeatConfig `yaml:"heartbeat"`
	HeartbeatOut time.Duration   `yaml:"-" envconfig:"STOMP_CLIENT_HEARTBEAT_OUT"`
	HeartbeatIn  time.Duration   `yaml:"-" envconfig:"STOMP_CLIENT_HEARTBEAT_IN"`

	AutoComputeContentLength bool          `yaml:"auto_compute_content_length" envconfig:"STOMP_CLIENT_AUTO_COMPUTE_CONTENT_LENGTH"`
	TrailingLine             bool          `yaml:"trailing_line" envconfig:"STOMP_CLIENT_TRAILING_LINE"`
	ConnectTimeout           time.Duration `yaml:"connect_timeout" envconfig:"STOMP_CLIENT_CONNECT_TIMEOUT"`
}

// LoggerConfig represents logger configuration.
type LoggerConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format     string `yaml:"format" envconfig:"LOG_FORMAT"` // json or console
	OutputPath string `yaml:"output_path" envconfig:"LOG_OUTPUT_PATH"`
}

// MetricsConfig represents the Prometheus endpoint of stompd.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"METRICS_ENABLED"`
	Addr    string `yaml:"addr" envconfig:"METRICS_ADDR"`
	Path    string `yaml:"path" envconfig:"METRICS_PATH"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                     "127.0.0.1:61613",
			Name:                     server.DefaultServerName,
			Versions:                 append([]string(nil), server.DefaultVersions...),
			Heartbeat:                HeartbeatConfig(server.DefaultHeartbeat),
			MaxSubscriptionsByClient: server.DefaultMaxSubscriptionsByClient,
			MaxFramesInTransaction:   server.DefaultMaxFramesInTransaction,
			MaxHeaderLength:          server.DefaultLimits.MaxHeaderLength,
			MaxHeaders:               server.DefaultLimits.MaxHeaders,
			MaxBodyLength:            server.DefaultLimits.MaxBodyLength,
			MaxQueuedFrames:          server.DefaultLimits.MaxQueuedFrames,
			ShutdownTimeout:          5 * time.Second,
		},
		Client: ClientConfig{
			Addr:                     "127.0.0.1:61613",
			Heartbeat:                HeartbeatConfig(client.DefaultHeartbeat),
			AutoComputeContentLength: true,
			ConnectTimeout:           10 * time.Second,
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
			Path: "/metrics",
		},
	}
}

// Load loads configuration from the YAML file at path, when path is not empty,
// over the defaults.  Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to load config from file")
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process environment variables")
	}
	cfg.applyHeartbeatOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// loadFromFile decodes the YAML file at path into cfg; unknown keys are errors.
func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	//
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

// applyHeartbeatOverrides moves the flat heart-beat environment values into
// their pairs.
func (c *Config) applyHeartbeatOverrides() {
	if c.Server.HeartbeatOut != 0 {
		c.Server.Heartbeat.Out = c.Server.HeartbeatOut
	}
	if c.Server.HeartbeatIn != 0 {
		c.Server.Heartbeat.In = c.Server.HeartbeatIn
	}
	if c.Client.HeartbeatOut != 0 {
		c.Client.Heartbeat.Out = c.Client.HeartbeatOut
	}
	if c.Client.HeartbeatIn != 0 {
		c.Client.Heartbeat.In = c.Client.HeartbeatIn
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	for _, v := range c.Server.Versions {
		switch v {
		case "1.0", "1.1", "1.2":
		default:
			return errors.Errorf("unsupported protocol version: %q", v)
		}
	}
	limits := []struct {
		name  string
		value int
	}{
		{"max_header_length", c.Server.MaxHeaderLength},
		{"max_headers", c.Server.MaxHeaders},
		{"max_body_length", c.Server.MaxBodyLength},
		{"max_queued_frames", c.Server.MaxQueuedFrames},
	}
	for _, limit := range limits {
		if limit.value < 0 {
			return errors.Errorf("%v must not be negative: %d", limit.name, limit.value)
		}
	}
	if c.Server.Heartbeat.Out < 0 || c.Server.Heartbeat.In < 0 {
		return errors.New("server heartbeat must not be negative")
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return errors.New("server cert_file and key_file must be set together")
	}
	if c.Client.Addr == "" {
		return errors.New("client addr is required")
	}
	if c.Client.Heartbeat.Out < 0 || c.Client.Heartbeat.In < 0 {
		return errors.New("client heartbeat must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics addr is required when metrics are enabled")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.Errorf("metrics path must begin with /: %q", c.Metrics.Path)
	}
	return nil
}

// Options maps the broker configuration to server options.
func (s ServerConfig) Options() server.Options {
	opts := server.Options{
		ServerName:               s.Name,
		Versions:                 s.Versions,
		Heartbeat:                stomp.HeartbeatConfig(s.Heartbeat),
		MaxSubscriptionsByClient: s.MaxSubscriptionsByClient,
		MaxFramesInTransaction:   s.MaxFramesInTransaction,
		TrailingLine:             s.TrailingLine,
		Limits: stomp.Limits{
			MaxHeaderLength: s.MaxHeaderLength,
			MaxHeaders:      s.MaxHeaders,
			MaxBodyLength:   s.MaxBodyLength,
			MaxQueuedFrames: s.MaxQueuedFrames,
		},
	}
	if s.DisableHeartbeat || s.Heartbeat == (HeartbeatConfig{}) {
		opts.DisableHeartbeat = true
	}
	if s.Login != "" {
		login, passcode := s.Login, s.Passcode
		opts.Authenticate = func(l, p string) bool {
			return l == login && p == passcode
		}
	}
	return opts
}

// TLSConfig loads the server certificate; it is nil when TLS is not configured.
func (s ServerConfig) TLSConfig() (*tls.Config, error) {
	if s.CertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "loading server certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Options maps the client configuration to client options.
func (c ClientConfig) Options(log *zap.Logger) []client.Option {
	return []client.Option{
		client.WithHost(c.Host),
		client.WithLogin(c.Login, c.Passcode),
		client.WithHeartbeat(stomp.HeartbeatConfig(c.Heartbeat)),
		client.WithAutoComputeContentLength(c.AutoComputeContentLength),
		client.WithTrailingLine(c.TrailingLine),
		client.WithLogger(log),
	}
}

// Config converts to the logger package configuration.
func (l LoggerConfig) Config() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		OutputPath: l.OutputPath,
	}
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the chat node runtime parameters.
type Config struct {
	ListenAddress       string        `mapstructure:"listen_address"`
	AdminAddress        string        `mapstructure:"admin_address"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFormat           string        `mapstructure:"log_format"`
	ReadHeaderTimeout   time.Duration `mapstructure:"read_header_timeout"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	Socket              SocketConfig  `mapstructure:"socket"`
}

// SocketConfig tunes per-connection transport behavior.
type SocketConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

const (
	defaultListenAddress       = "0.0.0.0:8080"
	defaultAdminAddress        = "127.0.0.1:9090"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultReadHeaderTimeout   = 5 * time.Second
	defaultShutdownGracePeriod = 10 * time.Second
	defaultSendBuffer          = 32
	defaultWriteTimeout        = 10 * time.Second
	defaultPongTimeout         = 60 * time.Second
	defaultPingInterval        = 54 * time.Second
	defaultMaxMessageSize      = 4096
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with FATHOM_ and can
// override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FATHOM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("admin_address", defaultAdminAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("read_header_timeout", defaultReadHeaderTimeout.String())
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("socket.send_buffer", defaultSendBuffer)
	v.SetDefault("socket.write_timeout", defaultWriteTimeout.String())
	v.SetDefault("socket.pong_timeout", defaultPongTimeout.String())
	v.SetDefault("socket.ping_interval", defaultPingInterval.String())
	v.SetDefault("socket.max_message_size", defaultMaxMessageSize)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"read_header_timeout", &cfg.ReadHeaderTimeout, defaultReadHeaderTimeout},
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod, defaultShutdownGracePeriod},
		{"socket.write_timeout", &cfg.Socket.WriteTimeout, defaultWriteTimeout},
		{"socket.pong_timeout", &cfg.Socket.PongTimeout, defaultPongTimeout},
		{"socket.ping_interval", &cfg.Socket.PingInterval, defaultPingInterval},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			*d.dst = d.fallback
			continue
		}
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = dur
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
	if cfg.Socket.SendBuffer <= 0 {
		cfg.Socket.SendBuffer = defaultSendBuffer
	}
	if cfg.Socket.MaxMessageSize <= 0 {
		cfg.Socket.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Socket.PingInterval >= cfg.Socket.PongTimeout {
		return Config{}, fmt.Errorf("socket.ping_interval %s must be shorter than socket.pong_timeout %s",
			cfg.Socket.PingInterval, cfg.Socket.PongTimeout)
	}

	return cfg, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "COURIER"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "courier.db"
	defaultLogLevel        = "info"
	defaultTokenIssuer     = "courier-auth"
	defaultTokenTTLMinutes = 60
	defaultAllowedOrigin   = "http://localhost:5173"
	defaultPresenceBackend = PresenceBackendMemory
	defaultSubjectPrefix   = "courier"
	defaultSendQueueSize   = 64
	defaultPingInterval    = 25
	defaultPongTimeout     = 60
	defaultMaxMessageBytes = 64 * 1024
)

const (
	PresenceBackendMemory = "memory"
	PresenceBackendRedis  = "redis"
)

// AppConfig captures runtime configuration for the realtime server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	TokenIssuer     string
	TokenTTL        time.Duration
	AllowedOrigins  []string
	PresenceBackend string
	Redis           RedisConfig
	NATS            NATSConfig
	Socket          SocketConfig
}

// RedisConfig locates the shared presence counter store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NATSConfig enables outbound domain events when URL is set.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// SocketConfig tunes per-connection transport limits.
type SocketConfig struct {
	SendQueueSize   int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigin)
	configViper.SetDefault("presence.backend", defaultPresenceBackend)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("nats.subject_prefix", defaultSubjectPrefix)
	configViper.SetDefault("socket.send_queue_size", defaultSendQueueSize)
	configViper.SetDefault("socket.ping_interval_seconds", defaultPingInterval)
	configViper.SetDefault("socket.pong_timeout_seconds", defaultPongTimeout)
	configViper.SetDefault("socket.max_message_bytes", defaultMaxMessageBytes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenIssuer:     configViper.GetString("auth.issuer"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AllowedOrigins:  splitList(configViper.GetString("cors.allowed_origins")),
		PresenceBackend: strings.ToLower(strings.TrimSpace(configViper.GetString("presence.backend"))),
		Redis: RedisConfig{
			Address:  configViper.GetString("redis.address"),
			Password: configViper.GetString("redis.password"),
			DB:       configViper.GetInt("redis.db"),
		},
		NATS: NATSConfig{
			URL:           configViper.GetString("nats.url"),
			SubjectPrefix: configViper.GetString("nats.subject_prefix"),
		},
		Socket: SocketConfig{
			SendQueueSize:   configViper.GetInt("socket.send_queue_size"),
			PingInterval:    time.Duration(configViper.GetInt("socket.ping_interval_seconds")) * time.Second,
			PongTimeout:     time.Duration(configViper.GetInt("socket.pong_timeout_seconds")) * time.Second,
			MaxMessageBytes: configViper.GetInt64("socket.max_message_bytes"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TokenIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	switch c.PresenceBackend {
	case PresenceBackendMemory:
	case PresenceBackendRedis:
		if strings.TrimSpace(c.Redis.Address) == "" {
			return fmt.Errorf("redis.address is required for the redis presence backend")
		}
	default:
		return fmt.Errorf("presence.backend %q is not supported", c.PresenceBackend)
	}
	if c.Socket.SendQueueSize <= 0 {
		return fmt.Errorf("socket.send_queue_size must be positive")
	}
	if c.Socket.PingInterval <= 0 || c.Socket.PongTimeout <= c.Socket.PingInterval {
		return fmt.Errorf("socket.pong_timeout_seconds must exceed socket.ping_interval_seconds")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

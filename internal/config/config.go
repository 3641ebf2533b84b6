package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "AVATAR_MIRROR"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "avatar-mirror.db"
	defaultLogLevel          = "info"
	defaultMetadataBackend   = BackendSQLite
	defaultRedisAddress      = "localhost:6379"
	defaultCacheRoot         = "avatar-cache"
	defaultCachePublicURL    = "/avatars"
	defaultAvatarPolicy      = "mystery"
	defaultPlaceholderURL    = "/assets/mystery.svg"
	defaultAvatarSize        = 128
	defaultMaxImageBytes     = 8 << 20
	defaultGravatarBaseURL   = "https://www.gravatar.com"
	defaultLibravatarBaseURL = "https://seccdn.libravatar.org"
	defaultProviderUserAgent = "avatar-mirror"
	defaultAMQPQueue         = "avatar.downloaded"
	defaultHookTokenTTL      = 365 * 24 * time.Hour
	defaultCORSAllowedOrigin = "*"
	BackendSQLite            = "sqlite"
	BackendRedis             = "redis"
)

// AppConfig captures runtime configuration for the service.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabasePath    string
	MetadataBackend string
	RedisAddress    string
	RedisPassword   string
	RedisDB         int

	CacheRoot      string
	CachePublicURL string

	AvatarDefault        string
	AvatarPlaceholderURL string
	AvatarSize           int
	MaxImageBytes        int64

	GravatarBaseURL          string
	LibravatarDefaultBaseURL string
	ProviderTimeout          time.Duration
	ProviderUserAgent        string

	HookSigningSecret string
	HookTokenTTL      time.Duration

	AMQPURL   string
	AMQPQueue string

	CORSAllowedOrigins []string
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
	configViper.SetDefault("http.cors_allowed_origins", []string{defaultCORSAllowedOrigin})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("metadata.backend", defaultMetadataBackend)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("cache.root", defaultCacheRoot)
	configViper.SetDefault("cache.public_url", defaultCachePublicURL)
	configViper.SetDefault("avatar.default", defaultAvatarPolicy)
	configViper.SetDefault("avatar.placeholder_url", defaultPlaceholderURL)
	configViper.SetDefault("avatar.size", defaultAvatarSize)
	configViper.SetDefault("mirror.max_image_bytes", defaultMaxImageBytes)
	configViper.SetDefault("providers.gravatar_base_url", defaultGravatarBaseURL)
	configViper.SetDefault("providers.libravatar_default_base_url", defaultLibravatarBaseURL)
	configViper.SetDefault("providers.timeout", time.Duration(0))
	configViper.SetDefault("providers.user_agent", defaultProviderUserAgent)
	configViper.SetDefault("hook.signing_secret", "")
	configViper.SetDefault("hook.token_ttl", defaultHookTokenTTL)
	configViper.SetDefault("amqp.url", "")
	configViper.SetDefault("amqp.queue", defaultAMQPQueue)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:              configViper.GetString("http.address"),
		LogLevel:                 configViper.GetString("log.level"),
		DatabasePath:             configViper.GetString("database.path"),
		MetadataBackend:          strings.ToLower(strings.TrimSpace(configViper.GetString("metadata.backend"))),
		RedisAddress:             configViper.GetString("redis.address"),
		RedisPassword:            configViper.GetString("redis.password"),
		RedisDB:                  configViper.GetInt("redis.db"),
		CacheRoot:                configViper.GetString("cache.root"),
		CachePublicURL:           configViper.GetString("cache.public_url"),
		AvatarDefault:            configViper.GetString("avatar.default"),
		AvatarPlaceholderURL:     configViper.GetString("avatar.placeholder_url"),
		AvatarSize:               configViper.GetInt("avatar.size"),
		MaxImageBytes:            configViper.GetInt64("mirror.max_image_bytes"),
		GravatarBaseURL:          strings.TrimRight(configViper.GetString("providers.gravatar_base_url"), "/"),
		LibravatarDefaultBaseURL: strings.TrimRight(configViper.GetString("providers.libravatar_default_base_url"), "/"),
		ProviderTimeout:          configViper.GetDuration("providers.timeout"),
		ProviderUserAgent:        configViper.GetString("providers.user_agent"),
		HookSigningSecret:        configViper.GetString("hook.signing_secret"),
		HookTokenTTL:             configViper.GetDuration("hook.token_ttl"),
		AMQPURL:                  configViper.GetString("amqp.url"),
		AMQPQueue:                configViper.GetString("amqp.queue"),
		CORSAllowedOrigins:       configViper.GetStringSlice("http.cors_allowed_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HookSigningSecret) == "" {
		return fmt.Errorf("hook.signing_secret is required")
	}
	switch c.MetadataBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required")
		}
	default:
		return fmt.Errorf("metadata.backend must be %q or %q", BackendSQLite, BackendRedis)
	}
	if strings.TrimSpace(c.CacheRoot) == "" {
		return fmt.Errorf("cache.root is required")
	}
	if c.AvatarSize <= 0 {
		return fmt.Errorf("avatar.size must be positive")
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("mirror.max_image_bytes must be positive")
	}
	if c.ProviderTimeout < 0 {
		return fmt.Errorf("providers.timeout must not be negative")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "VYON"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DatabaseDriverSQLite
	defaultDatabasePath      = "vyon.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "vyon_session"
	defaultTokenTTLMinutes   = 60 * 24
	defaultOIDCProviderName  = "oidc"
	defaultMediaBackend      = MediaBackendPreset
	defaultMediaMaxUploadMB  = 512
	defaultPresetBaseURL     = "https://api.cloudinary.com"
	defaultHeartbeatSeconds  = 25
	defaultMaxAdjustAttempts = 8
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Supported media backends.
const (
	MediaBackendPreset = "preset"
	MediaBackendS3     = "s3"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	LogLevel          string
	DatabaseDriver    string
	DatabasePath      string
	DatabaseDSN       string
	SigningSecret     string
	CookieName        string
	TokenTTL          time.Duration
	OIDC              OIDCConfig
	AllowedOrigins    []string
	Media             MediaConfig
	HeartbeatInterval time.Duration
	MaxAdjustAttempts int
}

// OIDCConfig enables third-party sign-in when IssuerURL is set.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ProviderName string
}

// Enabled reports whether an OIDC issuer has been configured.
func (c OIDCConfig) Enabled() bool {
	return strings.TrimSpace(c.IssuerURL) != ""
}

// MediaConfig selects and configures the media upload backend.
type MediaConfig struct {
	Backend        string
	MaxUploadBytes int64
	PresetBaseURL  string
	CloudName      string
	UploadPreset   string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKeyID  string
	S3SecretKey    string
	S3PublicURL    string
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
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.oidc.provider_name", defaultOIDCProviderName)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("media.backend", defaultMediaBackend)
	configViper.SetDefault("media.max_upload_mb", defaultMediaMaxUploadMB)
	configViper.SetDefault("media.preset.base_url", defaultPresetBaseURL)
	configViper.SetDefault("realtime.heartbeat_seconds", defaultHeartbeatSeconds)
	configViper.SetDefault("store.max_adjust_attempts", defaultMaxAdjustAttempts)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		LogLevel:       configViper.GetString("log.level"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		CookieName:     configViper.GetString("auth.cookie_name"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		OIDC: OIDCConfig{
			IssuerURL:    configViper.GetString("auth.oidc.issuer_url"),
			ClientID:     configViper.GetString("auth.oidc.client_id"),
			ProviderName: configViper.GetString("auth.oidc.provider_name"),
		},
		AllowedOrigins: configViper.GetStringSlice("cors.allowed_origins"),
		Media: MediaConfig{
			Backend:        strings.ToLower(strings.TrimSpace(configViper.GetString("media.backend"))),
			MaxUploadBytes: configViper.GetInt64("media.max_upload_mb") << 20,
			PresetBaseURL:  configViper.GetString("media.preset.base_url"),
			CloudName:      configViper.GetString("media.preset.cloud_name"),
			UploadPreset:   configViper.GetString("media.preset.upload_preset"),
			S3Bucket:       configViper.GetString("media.s3.bucket"),
			S3Region:       configViper.GetString("media.s3.region"),
			S3Endpoint:     configViper.GetString("media.s3.endpoint"),
			S3AccessKeyID:  configViper.GetString("media.s3.access_key_id"),
			S3SecretKey:    configViper.GetString("media.s3.secret_access_key"),
			S3PublicURL:    configViper.GetString("media.s3.public_base_url"),
		},
		HeartbeatInterval: time.Duration(configViper.GetInt("realtime.heartbeat_seconds")) * time.Second,
		MaxAdjustAttempts: configViper.GetInt("store.max_adjust_attempts"),
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
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	if c.OIDC.Enabled() && strings.TrimSpace(c.OIDC.ClientID) == "" {
		return fmt.Errorf("auth.oidc.client_id is required when auth.oidc.issuer_url is set")
	}
	switch c.Media.Backend {
	case MediaBackendPreset:
		if strings.TrimSpace(c.Media.CloudName) == "" || strings.TrimSpace(c.Media.UploadPreset) == "" {
			return fmt.Errorf("media.preset.cloud_name and media.preset.upload_preset are required")
		}
	case MediaBackendS3:
		if strings.TrimSpace(c.Media.S3Bucket) == "" || strings.TrimSpace(c.Media.S3Region) == "" {
			return fmt.Errorf("media.s3.bucket and media.s3.region are required")
		}
	default:
		return fmt.Errorf("unsupported media.backend %q", c.Media.Backend)
	}
	if c.Media.MaxUploadBytes <= 0 {
		return fmt.Errorf("media.max_upload_mb must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_seconds must be positive")
	}
	if c.MaxAdjustAttempts <= 0 {
		return fmt.Errorf("store.max_adjust_attempts must be positive")
	}
	return nil
}

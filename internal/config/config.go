package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/spf13/viper"
)

const devJWTSecret = "kolesa-development-secret-do-not-use"

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Upload    UploadConfig
	MinIO     MinIOConfig
	Mail      MailConfig
	SMS       SMSConfig
	Payments  PaymentsConfig
	App       AppConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	PublicURL    string
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr is host:port, empty when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string

	// AllowInsecure accepts unsigned ID tokens; integration environments only.
	AllowInsecure bool
}

type JWTConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type UploadConfig struct {
	MaxBytes          int64
	AllowedExtensions []string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type MailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

type SMSConfig struct {
	Provider string
	APIKey   string
	Sender   string
}

type ProviderCredentials struct {
	MerchantID string
	SecretKey  string
}

type PaymentsConfig struct {
	Kaspi      ProviderCredentials
	Halyk      ProviderCredentials
	PayBox     ProviderCredentials
	ResultURL  string
	SuccessURL string
}

type AppConfig struct {
	Name            string
	Languages       []string
	DefaultLanguage string
	Timezone        string
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5000")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("CORS_ORIGINS", "*")
	viper.SetDefault("PUBLIC_URL", "http://localhost:5000")
	viper.SetDefault("MONGODB_DATABASE", "kolesa")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 60)
	viper.SetDefault("JWT_REFRESH_TOKEN_TTL", 43200)
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_USE_REDIS", true)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 3600)
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_TTL_SECONDS", 300)
	viper.SetDefault("UPLOAD_MAX_BYTES", 16*1024*1024)
	viper.SetDefault("UPLOAD_ALLOWED_EXTENSIONS", "jpg,jpeg,png,gif,webp,mp4,mov,pdf,doc,docx,txt")
	viper.SetDefault("MINIO_BUCKET", "kolesa-media")
	viper.SetDefault("MAIL_FROM_ADDRESS", "noreply@kolesa.kz")
	viper.SetDefault("MAIL_FROM_NAME", "Kolesa.kz")
	viper.SetDefault("SMS_PROVIDER", "log")
	viper.SetDefault("SMS_SENDER", "KOLESA")
	viper.SetDefault("APP_NAME", "Kolesa.kz API")
	viper.SetDefault("APP_LANGUAGES", "ru,kk,en")
	viper.SetDefault("APP_DEFAULT_LANGUAGE", "ru")
	viper.SetDefault("APP_TIMEZONE", "Asia/Almaty")

	env := viper.GetString("SERVER_ENVIRONMENT")

	// "1000 per hour" in development, "200 per hour" in production.
	perHour := 1000.0
	if strings.EqualFold(env, "production") {
		perHour = 200
	}
	viper.SetDefault("RATE_LIMIT_RPS", perHour/3600)
	viper.SetDefault("RATE_LIMIT_BURST", 20)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  env,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORSOrigins:  splitList(viper.GetString("CORS_ORIGINS")),
			PublicURL:    strings.TrimRight(viper.GetString("PUBLIC_URL"), "/"),
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Keycloak: KeycloakConfig{
			URL:           viper.GetString("KEYCLOAK_URL"),
			Realm:         viper.GetString("KEYCLOAK_REALM"),
			ClientID:      viper.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret:  viper.GetString("KEYCLOAK_CLIENT_SECRET"),
			AllowInsecure: viper.GetBool("ALLOW_INSECURE_TOKEN"),
		},
		JWT: JWTConfig{
			Secret:          viper.GetString("JWT_SECRET"),
			AccessTokenTTL:  time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RefreshTokenTTL: time.Duration(viper.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Cache: CacheConfig{
			Enabled: viper.GetBool("CACHE_ENABLED"),
			TTL:     time.Duration(viper.GetInt("CACHE_TTL_SECONDS")) * time.Second,
		},
		Upload: UploadConfig{
			MaxBytes:          viper.GetInt64("UPLOAD_MAX_BYTES"),
			AllowedExtensions: splitList(viper.GetString("UPLOAD_ALLOWED_EXTENSIONS")),
		},
		MinIO: MinIOConfig{
			Endpoint:  viper.GetString("MINIO_ENDPOINT"),
			AccessKey: viper.GetString("MINIO_ACCESS_KEY"),
			SecretKey: viper.GetString("MINIO_SECRET_KEY"),
			UseSSL:    viper.GetBool("MINIO_USE_SSL"),
			Bucket:    viper.GetString("MINIO_BUCKET"),
		},
		Mail: MailConfig{
			SendGridAPIKey: viper.GetString("SENDGRID_API_KEY"),
			FromAddress:    viper.GetString("MAIL_FROM_ADDRESS"),
			FromName:       viper.GetString("MAIL_FROM_NAME"),
		},
		SMS: SMSConfig{
			Provider: viper.GetString("SMS_PROVIDER"),
			APIKey:   viper.GetString("SMS_API_KEY"),
			Sender:   viper.GetString("SMS_SENDER"),
		},
		Payments: PaymentsConfig{
			Kaspi:      ProviderCredentials{MerchantID: viper.GetString("KASPI_MERCHANT_ID"), SecretKey: viper.GetString("KASPI_SECRET_KEY")},
			Halyk:      ProviderCredentials{MerchantID: viper.GetString("HALYK_MERCHANT_ID"), SecretKey: viper.GetString("HALYK_SECRET_KEY")},
			PayBox:     ProviderCredentials{MerchantID: viper.GetString("PAYBOX_MERCHANT_ID"), SecretKey: viper.GetString("PAYBOX_SECRET_KEY")},
			ResultURL:  viper.GetString("PAYMENT_RESULT_URL"),
			SuccessURL: viper.GetString("PAYMENT_SUCCESS_URL"),
		},
		App: AppConfig{
			Name:            viper.GetString("APP_NAME"),
			Languages:       splitList(viper.GetString("APP_LANGUAGES")),
			DefaultLanguage: viper.GetString("APP_DEFAULT_LANGUAGE"),
			Timezone:        viper.GetString("APP_TIMEZONE"),
		},
	}

	if cfg.JWT.Secret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		logger.Warn("JWT_SECRET is not set; using an insecure development secret")
		cfg.JWT.Secret = devJWTSecret
	}
	if cfg.Keycloak.AllowInsecure && cfg.IsProduction() {
		return nil, fmt.Errorf("ALLOW_INSECURE_TOKEN must not be set in production")
	}
	if _, err := time.LoadLocation(cfg.App.Timezone); err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", cfg.App.Timezone, err)
	}

	return cfg, nil
}

// Location returns the configured time zone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

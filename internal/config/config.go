package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	JWTIssuer       string        `mapstructure:"JWT_ISSUER"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	GeminiAPIKey string   `mapstructure:"GEMINI_API_KEY"`
	GeminiModels []string `mapstructure:"GEMINI_MODELS"`

	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	S3Endpoint     string `mapstructure:"S3_ENDPOINT"`
	S3Region       string `mapstructure:"S3_REGION"`
	S3Bucket       string `mapstructure:"S3_BUCKET"`
	S3AccessKey    string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey    string `mapstructure:"S3_SECRET_KEY"`

	MinRecordingBytes   int           `mapstructure:"MIN_RECORDING_BYTES"`
	RecordingSessionTTL time.Duration `mapstructure:"RECORDING_SESSION_TTL"`

	DefaultDeviceLimit int           `mapstructure:"DEFAULT_DEVICE_LIMIT"`
	TrialPeriod        time.Duration `mapstructure:"TRIAL_PERIOD"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("JWT_ISSUER", "whiskr")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "720h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("GEMINI_MODELS", "gemini-2.0-flash,gemini-1.5-flash,gemini-1.5-pro")
	v.SetDefault("STORAGE_BACKEND", "memory")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_BUCKET", "whiskr")
	v.SetDefault("MIN_RECORDING_BYTES", 10*1024)
	v.SetDefault("RECORDING_SESSION_TTL", "30m")
	v.SetDefault("DEFAULT_DEVICE_LIMIT", 5)
	v.SetDefault("TRIAL_PERIOD", "336h")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_ISSUER")
	v.BindEnv("ACCESS_TOKEN_TTL")
	v.BindEnv("REFRESH_TOKEN_TTL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("GEMINI_API_KEY")
	v.BindEnv("GEMINI_MODELS")
	v.BindEnv("STORAGE_BACKEND")
	v.BindEnv("S3_ENDPOINT")
	v.BindEnv("S3_REGION")
	v.BindEnv("S3_BUCKET")
	v.BindEnv("S3_ACCESS_KEY")
	v.BindEnv("S3_SECRET_KEY")
	v.BindEnv("MIN_RECORDING_BYTES")
	v.BindEnv("RECORDING_SESSION_TTL")
	v.BindEnv("DEFAULT_DEVICE_LIMIT")
	v.BindEnv("TRIAL_PERIOD")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated env values arrive as a single string
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.GeminiModels == nil {
		if models := v.GetString("GEMINI_MODELS"); models != "" {
			cfg.GeminiModels = strings.Split(models, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-do-not-use-in-production"
		log.Println("WARNING: JWT_SECRET not set, using insecure development secret")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production requires
// a real JWT secret, a Gemini API key for the AI endpoints, and S3 storage.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSecret == "" || c.JWTSecret == "dev-secret-do-not-use-in-production" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required in production")
		}
		if c.StorageBackend != "s3" {
			return fmt.Errorf("STORAGE_BACKEND must be \"s3\" in production, got %q", c.StorageBackend)
		}
	}

	switch c.StorageBackend {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is \"s3\"")
		}
		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"memory\" or \"s3\", got %q", c.StorageBackend)
	}

	if len(c.GeminiModels) == 0 {
		return fmt.Errorf("GEMINI_MODELS must list at least one model")
	}
	if c.MinRecordingBytes <= 0 {
		return fmt.Errorf("MIN_RECORDING_BYTES must be positive, got %d", c.MinRecordingBytes)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.DefaultDeviceLimit <= 0 {
		return fmt.Errorf("DEFAULT_DEVICE_LIMIT must be positive, got %d", c.DefaultDeviceLimit)
	}

	return nil
}

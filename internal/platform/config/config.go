// Package config builds the process configuration from environment
// variables so main stays lean. Every knob has a development default except
// the secrets, which are required outside dev mode.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string
	Env  string // "dev" or "prod"

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	Tokens     TokenConfig
	Encryption EncryptionConfig
	SMTP       SMTPConfig

	FaceService      UpstreamConfig
	DocumentRegistry UpstreamConfig
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	StepUpTTL     time.Duration
}

type EncryptionConfig struct {
	// Key is the field-encryption key material: 64 hex chars, base64 of 32
	// bytes, or a passphrase of at least 32 bytes.
	Key string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type UpstreamConfig struct {
	URL    string
	APIKey string
}

func (c Config) IsDev() bool { return c.Env != "prod" }

// FromEnv reads the CIVIS_* environment. It returns an error rather than
// panicking so main can log and exit cleanly.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr: getenv("CIVIS_ADDR", ":8080"),
		Env:  getenv("CIVIS_ENV", "dev"),
		Database: DatabaseConfig{
			URL: os.Getenv("CIVIS_DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("CIVIS_REDIS_URL"),
			PoolSize:     getint("CIVIS_REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("CIVIS_REDIS_MIN_IDLE", 2),
			DialTimeout:  getdur("CIVIS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getdur("CIVIS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getdur("CIVIS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    split(os.Getenv("CIVIS_KAFKA_BROKERS")),
			AuditTopic: getenv("CIVIS_KAFKA_AUDIT_TOPIC", "civis.audit.v1"),
		},
		Tokens: TokenConfig{
			AccessSecret:  os.Getenv("CIVIS_ACCESS_SECRET"),
			RefreshSecret: os.Getenv("CIVIS_REFRESH_SECRET"),
			Issuer:        getenv("CIVIS_TOKEN_ISSUER", "civis"),
			AccessTTL:     getdur("CIVIS_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:    getdur("CIVIS_REFRESH_TTL", 7*24*time.Hour),
			StepUpTTL:     getdur("CIVIS_STEPUP_TTL", 5*time.Minute),
		},
		Encryption: EncryptionConfig{
			Key: os.Getenv("CIVIS_ENCRYPTION_KEY"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("CIVIS_SMTP_HOST"),
			Port:     getint("CIVIS_SMTP_PORT", 587),
			Username: os.Getenv("CIVIS_SMTP_USERNAME"),
			Password: os.Getenv("CIVIS_SMTP_PASSWORD"),
			From:     os.Getenv("CIVIS_SMTP_FROM"),
		},
		FaceService: UpstreamConfig{
			URL:    os.Getenv("CIVIS_FACE_SERVICE_URL"),
			APIKey: os.Getenv("CIVIS_FACE_SERVICE_API_KEY"),
		},
		DocumentRegistry: UpstreamConfig{
			URL:    os.Getenv("CIVIS_REGISTRY_URL"),
			APIKey: os.Getenv("CIVIS_REGISTRY_API_KEY"),
		},
	}

	if cfg.IsDev() {
		if cfg.Tokens.AccessSecret == "" {
			cfg.Tokens.AccessSecret = "dev-access-secret-not-for-production!"
		}
		if cfg.Tokens.RefreshSecret == "" {
			cfg.Tokens.RefreshSecret = "dev-refresh-secret-not-for-production"
		}
		if cfg.Encryption.Key == "" {
			cfg.Encryption.Key = "dev-encryption-key-not-for-production"
		}
	}

	if cfg.Tokens.AccessSecret == "" || cfg.Tokens.RefreshSecret == "" {
		return Config{}, fmt.Errorf("CIVIS_ACCESS_SECRET and CIVIS_REFRESH_SECRET are required")
	}
	if cfg.Encryption.Key == "" {
		return Config{}, fmt.Errorf("CIVIS_ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func split(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

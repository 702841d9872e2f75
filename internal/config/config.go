package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	GRPC    GRPCConfig
	DB      DatabaseConfig
	Logging LoggingConfig
	Ledger  LedgerConfig
	Audit   AuditConfig
	Auth    AuthConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	RateLimit      float64 // requests per second per client
	RateBurst      int
	MaxUploadBytes int64
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type LedgerConfig struct {
	Owner              string
	ConflictRetries    int
	ScorePrecision     int
	ProbabilityTol     float64
	MissingFactorScore float64
	ClassifierWeight   float64
}

type AuditConfig struct {
	Workers         int
	BufferSize      int
	DeliveryTimeout time.Duration
	KafkaBrokers    []string
	KafkaTopic      string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "localhost"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RateLimit:      getEnvFloat("RATE_LIMIT_RPS", 10),
			RateBurst:      getEnvInt("RATE_LIMIT_BURST", 20),
			MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/relief-ledger.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Ledger: LedgerConfig{
			Owner:              getEnv("LEDGER_OWNER", ""),
			ConflictRetries:    getEnvInt("LEDGER_CONFLICT_RETRIES", 3),
			ScorePrecision:     getEnvInt("SEVERITY_PRECISION", 2),
			ProbabilityTol:     getEnvFloat("SEVERITY_PROBABILITY_TOLERANCE", 0.01),
			MissingFactorScore: getEnvFloat("SEVERITY_MISSING_FACTOR_SCORE", 50),
			ClassifierWeight:   getEnvFloat("SEVERITY_CLASSIFIER_WEIGHT", 0.5),
		},
		Audit: AuditConfig{
			Workers:         getEnvInt("AUDIT_WORKERS", 2),
			BufferSize:      getEnvInt("AUDIT_BUFFER_SIZE", 256),
			DeliveryTimeout: getEnvDuration("AUDIT_DELIVERY_TIMEOUT", 5*time.Second),
			KafkaBrokers:    getEnvList("AUDIT_KAFKA_BROKERS", nil),
			KafkaTopic:      getEnv("AUDIT_KAFKA_TOPIC", "relief-ledger.audit"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("TOKEN_TTL", 24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst < 1 {
		return fmt.Errorf("rate limit must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Ledger.Owner == "" {
		return fmt.Errorf("LEDGER_OWNER is required")
	}
	if c.Ledger.ConflictRetries < 0 {
		return fmt.Errorf("conflict retries must not be negative")
	}
	if c.Audit.Workers < 1 || c.Audit.BufferSize < 1 {
		return fmt.Errorf("audit workers and buffer size must be at least 1")
	}
	if len(c.Audit.KafkaBrokers) > 0 && c.Audit.KafkaTopic == "" {
		return fmt.Errorf("AUDIT_KAFKA_TOPIC is required when brokers are set")
	}

	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.Auth.TokenTTL < time.Minute {
		return fmt.Errorf("token TTL must be at least 1 minute")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

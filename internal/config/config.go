package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string `env:"GATEKEEPER_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GATEKEEPER_GRPC_ADDR" envDefault:":9090"`

	// DB
	Env    string `env:"GATEKEEPER_ENV" envDefault:"dev"`                      // "dev" | "prod"
	Store  string `env:"GATEKEEPER_STORE" envDefault:"sqlite"`                 // "sqlite" | "memory"
	DBPath string `env:"GATEKEEPER_DB_PATH" envDefault:"./data/gatekeeper.db"` // e.g. "./data/gatekeeper.db"

	// Events and code delivery.  Both are disabled when NATSURL is empty.
	NATSURL       string `env:"GATEKEEPER_NATS_URL"`
	EventEncoding string `env:"GATEKEEPER_EVENT_ENCODING" envDefault:"json"` // "json" | "cbor"
	NotifySubject string `env:"GATEKEEPER_NOTIFY_SUBJECT" envDefault:"gatekeeper.notify.otp"`

	// OTP
	OTPTTL         time.Duration `env:"GATEKEEPER_OTP_TTL" envDefault:"5m"`
	OTPCodeLength  int           `env:"GATEKEEPER_OTP_CODE_LENGTH" envDefault:"6"`
	OTPMaxAttempts int           `env:"GATEKEEPER_OTP_MAX_ATTEMPTS" envDefault:"5"`
	OTPCooldown    time.Duration `env:"GATEKEEPER_OTP_COOLDOWN" envDefault:"30s"`
	OTPHashSecret  string        `env:"GATEKEEPER_OTP_HASH_SECRET"`

	// Challenge retention
	ChallengeRetention time.Duration `env:"GATEKEEPER_CHALLENGE_RETENTION" envDefault:"168h"` // 0 = service default, floor 1h
	PruneInterval      time.Duration `env:"GATEKEEPER_PRUNE_INTERVAL" envDefault:"6h"`

	// Channels
	SkipSelfServiceVerification bool    `env:"GATEKEEPER_SKIP_SELF_SERVICE_VERIFICATION"`
	MinFacialConfidence         float64 `env:"GATEKEEPER_MIN_FACIAL_CONFIDENCE" envDefault:"0.85"`
	BulkParallelism             int     `env:"GATEKEEPER_BULK_PARALLELISM" envDefault:"8"`

	// Tracing is off unless an OTLP/HTTP endpoint is set.
	OTELEndpoint string `env:"GATEKEEPER_OTEL_ENDPOINT"`
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env != "dev" && cfg.Env != "prod" {
		// fail-soft: treat unknown as dev
		cfg.Env = "dev"
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.Store != "sqlite" && cfg.Store != "memory" {
		return Config{}, fmt.Errorf("GATEKEEPER_STORE: unknown backend %q", cfg.Store)
	}
	if cfg.MinFacialConfidence < 0 || cfg.MinFacialConfidence > 1 {
		return Config{}, fmt.Errorf("GATEKEEPER_MIN_FACIAL_CONFIDENCE: %v is outside [0,1]", cfg.MinFacialConfidence)
	}
	if cfg.OTPMaxAttempts < 1 {
		return Config{}, errors.New("GATEKEEPER_OTP_MAX_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

// LoadDotEnv loads path into the environment when the file exists.
// Variables already set take precedence.  A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Package config loads service configuration from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	DriverMongo  = "mongo"
	DriverBadger = "badger"
)

type Config struct {
	Port      string    `yaml:"port"`
	Store     Store     `yaml:"store"`
	Auth      Auth      `yaml:"auth"`
	HTTP      HTTP      `yaml:"http"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type Store struct {
	Driver        string `yaml:"driver"`
	MongoURI      string `yaml:"mongoURI"`
	MongoDatabase string `yaml:"mongoDatabase"`
	// BadgerPath "" keeps the badger store in memory.
	BadgerPath string `yaml:"badgerPath"`
}

type Auth struct {
	JWTSecret string `yaml:"jwtSecret"`
	// TokenTTL is a time.ParseDuration string; "" or "0" issues tokens
	// without expiry.
	TokenTTL string `yaml:"tokenTTL"`
	// LoginPassword is the single password every user logs in with. It is a
	// placeholder until users get their own credentials.
	LoginPassword  string  `yaml:"loginPassword"`
	LoginRateLimit float64 `yaml:"loginRateLimit"`
	LoginBurst     int     `yaml:"loginBurst"`
}

type HTTP struct {
	CORSOrigins     []string `yaml:"corsOrigins"`
	Playground      bool     `yaml:"playground"`
	ShutdownTimeout string   `yaml:"shutdownTimeout"`
	// ComplexityLimit 0 disables the operation complexity check.
	ComplexityLimit int `yaml:"complexityLimit"`
}

type Log struct {
	Verbosity int `yaml:"verbosity"`
}

type Telemetry struct {
	// OTLPEndpoint "" disables tracing.
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

func Default() *Config {
	return &Config{
		Port: "4000",
		Store: Store{
			Driver:        DriverMongo,
			MongoDatabase: "library",
		},
		Auth: Auth{
			LoginPassword:  "secret",
			LoginRateLimit: 5,
			LoginBurst:     10,
		},
		HTTP: HTTP{
			CORSOrigins:     []string{"*"},
			Playground:      true,
			ShutdownTimeout: "10s",
			ComplexityLimit: 200,
		},
		Telemetry: Telemetry{
			ServiceName: "libraryql",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalWithOptions(b, cfg, yaml.Strict()); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.MongoURI = getEnv("MONGODB_URI", cfg.Store.MongoURI)
	cfg.Store.MongoDatabase = getEnv("MONGODB_DATABASE", cfg.Store.MongoDatabase)
	cfg.Store.BadgerPath = getEnv("BADGER_PATH", cfg.Store.BadgerPath)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenTTL = getEnv("TOKEN_TTL", cfg.Auth.TokenTTL)
	cfg.Auth.LoginPassword = getEnv("LOGIN_PASSWORD", cfg.Auth.LoginPassword)
	cfg.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("LOG_VERBOSITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOG_VERBOSITY: %w", err)
		}
		cfg.Log.Verbosity = n
	}
	if v := os.Getenv("COMPLEXITY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COMPLEXITY_LIMIT: %w", err)
		}
		cfg.HTTP.ComplexityLimit = n
	}
	return nil
}

func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.Auth.LoginPassword == "" {
		errs = append(errs, errors.New("login password must not be empty"))
	}
	switch cfg.Store.Driver {
	case DriverMongo:
		if cfg.Store.MongoURI == "" {
			errs = append(errs, errors.New("MONGODB_URI is required for the mongo store"))
		}
	case DriverBadger:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", cfg.Store.Driver))
	}
	if _, err := cfg.Auth.TTL(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.HTTP.ShutdownDuration(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Auth.LoginRateLimit <= 0 || cfg.Auth.LoginBurst <= 0 {
		errs = append(errs, errors.New("login rate limit and burst must be positive"))
	}
	if cfg.HTTP.ComplexityLimit < 0 {
		errs = append(errs, fmt.Errorf("complexity limit must not be negative, got %d", cfg.HTTP.ComplexityLimit))
	}
	if len(errs) != 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (a Auth) TTL() (time.Duration, error) {
	return parseDuration("token TTL", a.TokenTTL)
}

func (h HTTP) ShutdownDuration() (time.Duration, error) {
	return parseDuration("shutdown timeout", h.ShutdownTimeout)
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

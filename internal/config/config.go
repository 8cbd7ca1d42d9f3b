package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" validate:"omitempty,numeric"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		// TTL is the ownership lease of a live session.
		TTL string `yaml:"ttl" validate:"omitempty,duration"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" validate:"omitempty,url"`
	} `yaml:"postgres"`
	Definitions struct {
		TTL string `yaml:"ttl" validate:"omitempty,duration"`
	} `yaml:"definitions"`
	Engine    Engine    `yaml:"engine"`
	Store     Store     `yaml:"store"`
	Reconnect Reconnect `yaml:"reconnect"`
	Reaper    struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"reaper"`
	Auth struct {
		// Secret is the HS256 key for bearer tokens. Empty disables auth.
		Secret string `yaml:"secret"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
		Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	} `yaml:"log"`
	Instance struct {
		ID string `yaml:"id"`
	} `yaml:"instance"`
}

type Engine struct {
	GracePeriod      string `yaml:"gracePeriod" validate:"omitempty,duration"`
	AllowRevision    bool   `yaml:"allowRevision"`
	PartialCredit    bool   `yaml:"partialCredit"`
	FuzzyText        bool   `yaml:"fuzzyText"`
	FuzzyDistance    int    `yaml:"fuzzyDistance" validate:"gte=0,lte=5"`
	DefaultTimeLimit string `yaml:"defaultTimeLimit" validate:"omitempty,duration"`
	MaxDuration      string `yaml:"maxDuration" validate:"omitempty,duration"`
	DeliveryBuffer   int    `yaml:"deliveryBuffer" validate:"gte=0"`
}

type Store struct {
	WriteTimeout string `yaml:"writeTimeout" validate:"omitempty,duration"`
	RetryInitial string `yaml:"retryInitial" validate:"omitempty,duration"`
	RetryMax     string `yaml:"retryMax" validate:"omitempty,duration"`
}

type Reconnect struct {
	MaxAttempts    int    `yaml:"maxAttempts" validate:"gte=0,lte=50"`
	InitialBackoff string `yaml:"initialBackoff" validate:"omitempty,duration"`
	MaxBackoff     string `yaml:"maxBackoff" validate:"omitempty,duration"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	return v
}

// Load reads YAML config from path. A missing file yields the zero config,
// so every section falls back to its defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field formats and ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// defaultEnvPrefix namespaces the environment variables that override
// file values (e.g. OUTBOUND_LOGGING_LEVEL).
const defaultEnvPrefix = "OUTBOUND"

// LoaderConfig holds optional loader overrides.
type LoaderConfig struct {
	// EnvFile is an explicit .env path. When empty, ./.env is loaded if
	// it exists.
	EnvFile string
	// EnvPrefix overrides the environment variable prefix.
	EnvPrefix string
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = prefix }
}

// Load reads a registry file, layers .env and process environment
// variables over it, expands ${VAR} references in string values,
// applies defaults and validates the result.
func Load(path string, opts ...LoaderOption) (*Config, error) {
	lc := LoaderConfig{EnvPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		opt(&lc)
	}

	if err := loadEnvFile(lc.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(lc.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expandEnvValues(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := validateStruct(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadEnvFile loads the explicit .env file, or ./.env best effort.
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err == nil {
			_ = godotenv.Load()
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}

// expandEnvValues expands ${VAR} references in every string value so
// secrets can be referenced from the registry file instead of stored
// in it.
func expandEnvValues(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		if s, ok := v.Get(key).(string); ok && strings.Contains(s, "${") {
			v.Set(key, os.ExpandEnv(s))
		}
	}
}

// validateStruct runs the declarative struct-tag checks over the loaded
// registry and folds violations into one readable error.
func validateStruct(cfg *Config) error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: validate: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config: validate: %s", strings.Join(msgs, "; "))
}

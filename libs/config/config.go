package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrNilConfig = errors.New("config: nil destination")

var dotenvOnce sync.Once

// Load fills v from the process environment using `env` struct tags.
// A .env file in the working directory is applied first when present; real
// environment variables always win over it.
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilConfig
	}
	if err := env.Parse(v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func RequiredString(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func Port(key, fallback string) (string, error) {
	return ValidPort(key, String(key, fallback))
}

// ValidPort checks an already-loaded port value; key is only used in the error.
func ValidPort(key, v string) (string, error) {
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}

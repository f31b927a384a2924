package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrSecretNotFound is returned when the source has no value for a name.
var ErrSecretNotFound = errors.New("secret not found")

// SecretSource looks up raw secret strings by name.
type SecretSource interface {
	Secret(ctx context.Context, name string) (string, error)
}

// EnvSecretSource reads secrets from environment variables, looking up the
// name as given and then upper-cased.
type EnvSecretSource struct {
	lookup func(string) (string, bool)
}

// NewEnvSecretSource loads the given dotenv files into the process environment
// (missing files are skipped, existing variables win) and returns a source
// over it.
func NewEnvSecretSource(dotenvFiles ...string) (*EnvSecretSource, error) {
	var present []string
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return nil, fmt.Errorf("load dotenv: %w", err)
		}
	}
	return &EnvSecretSource{lookup: os.LookupEnv}, nil
}

// Secret implements SecretSource.
func (s *EnvSecretSource) Secret(ctx context.Context, name string) (string, error) {
	for _, key := range []string{name, strings.ToUpper(name)} {
		if v, ok := s.lookup(key); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// StaticSecretSource serves secrets from a map.
type StaticSecretSource map[string]string

// Secret implements SecretSource.
func (s StaticSecretSource) Secret(ctx context.Context, name string) (string, error) {
	if v, ok := s[name]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

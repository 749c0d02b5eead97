package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Option customises how the environment is assembled and how Load resolves secrets.
type Option func(*settings)

type settings struct {
	envFile       string
	overrides     map[string]string
	systemEnv     bool
	resolver      SecretResolver
	required      []string
	panicOnSecret bool
}

func newSettings(opts []Option) settings {
	s := settings{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// WithEnvFile points the loader at a dotenv file. An empty path disables dotenv reading.
func WithEnvFile(path string) Option {
	return func(s *settings) { s.envFile = path }
}

// WithEnvMap layers explicit values over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(s *settings) { s.overrides = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(s *settings) { s.systemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(s *settings) { s.resolver = resolver }
}

// WithRequiredSecrets names secret fields ("Rates.APIToken", "Auth.LocalSecret") that must resolve
// to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(s *settings) { s.required = append(s.required, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(s *settings) { s.panicOnSecret = true }
}

// environment is a stack of key/value layers; later layers win.
type environment struct {
	layers []map[string]string
}

func buildEnvironment(s settings) (environment, error) {
	var env environment
	dotenv, err := readDotEnv(s.envFile)
	if err != nil {
		return env, err
	}
	env.push(dotenv)
	if s.systemEnv {
		env.push(processEnv())
	}
	env.push(s.overrides)
	return env, nil
}

func (e *environment) push(layer map[string]string) {
	if len(layer) > 0 {
		e.layers = append(e.layers, layer)
	}
}

func (e environment) lookup(key string) (string, bool) {
	for i := len(e.layers) - 1; i >= 0; i-- {
		if value, ok := e.layers[i][key]; ok {
			return value, true
		}
	}
	return "", false
}

func (e environment) flatten() map[string]string {
	out := make(map[string]string)
	for _, layer := range e.layers {
		for key, value := range layer {
			out[key] = value
		}
	}
	return out
}

func (e environment) text(key, fallback string) string {
	if value, ok := e.lookup(key); ok {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return fallback
}

func (e environment) duration(key string, fallback time.Duration) time.Duration {
	raw := e.text(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func (e environment) number(key string, fallback float64) float64 {
	raw := e.text(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return n
}

// EnvironmentValues returns the merged environment Load would see: dotenv, then the process
// environment, then WithEnvMap values. main uses it to configure the secret fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	env, err := buildEnvironment(newSettings(opts))
	if err != nil {
		return nil, err
	}
	return env.flatten(), nil
}

func processEnv() map[string]string {
	out := make(map[string]string)
	for _, pair := range os.Environ() {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			out[key] = value
		}
	}
	return out
}

// readDotEnv parses KEY=VALUE lines. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if ok {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func parseDotEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, raw, ok := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", false
	}
	return key, dotEnvValue(strings.TrimSpace(raw)), true
}

func dotEnvValue(raw string) string {
	if len(raw) >= 2 {
		switch quote := raw[0]; quote {
		case '"', '\'':
			if end := strings.IndexByte(raw[1:], quote); end >= 0 {
				value := raw[1 : end+1]
				if quote == '"' {
					value = strings.ReplaceAll(value, `\n`, "\n")
				}
				return value
			}
		}
	}
	if idx := strings.Index(raw, " #"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw)
}

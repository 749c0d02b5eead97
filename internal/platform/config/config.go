// Package config loads the bridge's SYNC_* settings from dotenv files, the process environment
// and Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultStoreBackend     = "memory"
	defaultFeedBackend      = "memory"
	defaultRateSource       = "static"
	defaultSQLitePath       = "storefront-sync.db"
	defaultPubSubTopic      = "collection-changes"
	defaultRatePoll         = 5 * time.Minute
	defaultRateTimeout      = 10 * time.Second
	defaultCurrency         = "INR"
	defaultLocale           = "en-IN"
	defaultCheckoutWindow   = 10 * time.Minute
	defaultCheckoutTick     = time.Second
	defaultAuthMode         = "local"
	defaultLocalTokenIssuer = "storefront-sync"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	SQLite    SQLiteConfig
	Rates     RatesConfig
	Checkout  CheckoutConfig
	Auth      AuthConfig
}

// ServerConfig configures the local HTTP bridge.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BackendConfig selects the authoritative store and change feed implementations.
type BackendConfig struct {
	Store      string
	ChangeFeed string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures the change notification topic.
type PubSubConfig struct {
	ProjectID    string
	Topic        string
	EmulatorHost string
}

// SQLiteConfig points at the local database file.
type SQLiteConfig struct {
	Path string
}

// RatesConfig controls where commodity rates come from and how they are rendered.
type RatesConfig struct {
	Source       string
	APIURL       string
	APIToken     string
	Timeout      time.Duration
	PollInterval time.Duration
	Currency     string
	Locale       string
	Default22K   float64
	Default24K   float64
}

// CheckoutConfig bounds how long checkout may hold a rate snapshot.
type CheckoutConfig struct {
	Window time.Duration
	Tick   time.Duration
}

// AuthConfig selects how sign-in tokens are verified.
type AuthConfig struct {
	Mode        string
	LocalSecret string
	LocalIssuer string
}

// ValidationError lists the config fields that are missing or hold unsupported values.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names in check order.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Load reads SYNC_* settings from the layered environment, resolves secret references and
// validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	s := newSettings(opts)
	env, err := buildEnvironment(s)
	if err != nil {
		return Config{}, err
	}

	cfg := fromEnvironment(env)

	resolved, err := resolveSecrets(ctx, s.resolver, []secretField{
		{name: "Rates.APIToken", value: &cfg.Rates.APIToken},
		{name: "Auth.LocalSecret", value: &cfg.Auth.LocalSecret},
	})
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if missing := missingSecrets(s.required, resolved); missing != nil {
		if s.panicOnSecret {
			fmt.Fprintln(os.Stderr, missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func fromEnvironment(env environment) Config {
	cfg := Config{
		Server: ServerConfig{
			Port:         env.text("SYNC_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("SYNC_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("SYNC_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("SYNC_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Backend: BackendConfig{
			Store:      strings.ToLower(env.text("SYNC_STORE_BACKEND", defaultStoreBackend)),
			ChangeFeed: strings.ToLower(env.text("SYNC_CHANGE_FEED", defaultFeedBackend)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.text("SYNC_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.text("SYNC_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			EmulatorHost: env.text("SYNC_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			Topic:        env.text("SYNC_PUBSUB_TOPIC", defaultPubSubTopic),
			EmulatorHost: env.text("SYNC_PUBSUB_EMULATOR_HOST", ""),
		},
		SQLite: SQLiteConfig{
			Path: env.text("SYNC_SQLITE_PATH", defaultSQLitePath),
		},
		Rates: RatesConfig{
			Source:       strings.ToLower(env.text("SYNC_RATES_SOURCE", defaultRateSource)),
			APIURL:       env.text("SYNC_RATES_API_URL", ""),
			APIToken:     env.text("SYNC_RATES_API_TOKEN", ""),
			Timeout:      env.duration("SYNC_RATES_TIMEOUT", defaultRateTimeout),
			PollInterval: env.duration("SYNC_RATES_POLL_INTERVAL", defaultRatePoll),
			Currency:     strings.ToUpper(env.text("SYNC_RATES_CURRENCY", defaultCurrency)),
			Locale:       env.text("SYNC_RATES_LOCALE", defaultLocale),
			Default22K:   env.number("SYNC_RATES_DEFAULT_22K", 0),
			Default24K:   env.number("SYNC_RATES_DEFAULT_24K", 0),
		},
		Checkout: CheckoutConfig{
			Window: env.duration("SYNC_CHECKOUT_WINDOW", defaultCheckoutWindow),
			Tick:   env.duration("SYNC_CHECKOUT_TICK", defaultCheckoutTick),
		},
		Auth: AuthConfig{
			Mode:        strings.ToLower(env.text("SYNC_AUTH_MODE", defaultAuthMode)),
			LocalSecret: env.text("SYNC_AUTH_LOCAL_SECRET", ""),
			LocalIssuer: env.text("SYNC_AUTH_LOCAL_ISSUER", defaultLocalTokenIssuer),
		},
	}
	// Firestore inherits the Firebase project and Pub/Sub inherits Firestore's.
	cfg.Firestore.ProjectID = env.text("SYNC_FIRESTORE_PROJECT_ID", cfg.Firebase.ProjectID)
	cfg.PubSub.ProjectID = env.text("SYNC_PUBSUB_PROJECT_ID", cfg.Firestore.ProjectID)
	return cfg
}

func (c Config) validate() error {
	usesFirestore := c.Backend.Store == "firestore" || c.Backend.ChangeFeed == "firestore" || c.Rates.Source == "firestore"
	usesPubSub := c.Backend.ChangeFeed == "pubsub"

	checks := []struct {
		field  string
		failed bool
	}{
		{"Server.Port", c.Server.Port == ""},
		{"Backend.Store", !oneOf(c.Backend.Store, "firestore", "sqlite", "memory")},
		{"Backend.ChangeFeed", !oneOf(c.Backend.ChangeFeed, "firestore", "pubsub", "memory")},
		{"Rates.Source", !oneOf(c.Rates.Source, "http", "firestore", "static")},
		{"Auth.Mode", !oneOf(c.Auth.Mode, "firebase", "local")},
		{"Firestore.ProjectID", usesFirestore && c.Firestore.ProjectID == ""},
		{"PubSub.ProjectID", usesPubSub && c.PubSub.ProjectID == ""},
		{"PubSub.Topic", usesPubSub && c.PubSub.Topic == ""},
		{"SQLite.Path", c.Backend.Store == "sqlite" && c.SQLite.Path == ""},
		{"Rates.APIURL", c.Rates.Source == "http" && c.Rates.APIURL == ""},
		{"Rates.PollInterval", c.Rates.PollInterval < 0},
		{"Rates.Defaults", c.Rates.Default22K < 0 || c.Rates.Default24K < 0},
		{"Checkout.Window", c.Checkout.Window <= 0},
		{"Checkout.Tick", c.Checkout.Tick <= 0},
		{"Firebase.ProjectID", c.Auth.Mode == "firebase" && c.Firebase.ProjectID == ""},
		{"Auth.LocalSecret", c.Auth.Mode == "local" && c.Auth.LocalSecret == ""},
	}

	var fields []string
	for _, check := range checks {
		if check.failed {
			fields = append(fields, check.field)
		}
	}
	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

// Package config handles loading and validation of engine configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all engine configuration. Environment determines whether
// store credentials load from env vars (development) or Secret Manager
// (production).
type Config struct {
	// Server settings
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// GCP settings (required in production)
	GCPProject string `envconfig:"GCP_PROJECT"`

	// StoreID selects which store's credentials to load.
	StoreID string `envconfig:"STORE_ID"`

	// Store-specific configuration (loaded from secrets)
	Store StoreConfig `ignored:"true"`
}

// StoreConfig contains store-specific settings. In production this is loaded
// from Secret Manager as JSON; in development from STORE_* env vars or
// CONFIG_FILE.
type StoreConfig struct {
	StoreURL  string `json:"store_url" envconfig:"URL"`
	APIKey    string `json:"api_key" envconfig:"API_KEY"`
	APISecret string `json:"api_secret" envconfig:"API_SECRET"`

	// Currency for provider charges, ISO 4217.
	Currency string `json:"currency,omitempty" envconfig:"CURRENCY" default:"EUR"`

	// StatePath is where the cart snapshot persists between sessions.
	StatePath string `json:"state_path,omitempty" envconfig:"STATE_PATH" default:"cart-state.json"`

	// DepositPercent overrides the default deposit fraction, e.g. "0.40".
	DepositPercent string `json:"deposit_percent,omitempty" envconfig:"DEPOSIT_PERCENT"`

	// PointValue is the monetary value of one loyalty point in minor units.
	PointValue int64 `json:"point_value,omitempty" envconfig:"POINT_VALUE" default:"1"`

	// CustomerID and CustomerEmail identify the logged-in customer for
	// loyalty points, gift eligibility, and coupon email restrictions.
	// Zero/empty means guest.
	CustomerID    int    `json:"customer_id,omitempty" envconfig:"CUSTOMER_ID"`
	CustomerEmail string `json:"customer_email,omitempty" envconfig:"CUSTOMER_EMAIL"`

	// AsyncMethods lists payment method ids settled by server-to-server
	// callback, each served by a redirect gateway of the same name.
	AsyncMethods []string `json:"async_methods,omitempty" envconfig:"ASYNC_METHODS"`

	// FallbackShippingCost is the locally synthesized flat rate, minor units.
	FallbackShippingCost int64 `json:"fallback_shipping_cost,omitempty" envconfig:"FALLBACK_SHIPPING_COST" default:"500"`

	// Debounce windows. Zero values take the engine defaults.
	CouponWindow   time.Duration `json:"coupon_window,omitempty" envconfig:"COUPON_WINDOW"`
	GiftWindow     time.Duration `json:"gift_window,omitempty" envconfig:"GIFT_WINDOW"`
	ShippingWindow time.Duration `json:"shipping_window,omitempty" envconfig:"SHIPPING_WINDOW"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set), then env vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.StoreID == "" {
			return nil, fmt.Errorf("STORE_ID required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = envconfig.Process("STORE", &cfg.Store)
	}
	if err != nil {
		return nil, fmt.Errorf("loading store config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFromFile reads all configuration from a JSON file. Used for local
// development to avoid juggling env vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port        string      `json:"port"`
		Environment string      `json:"environment"`
		LogLevel    string      `json:"log_level"`
		StoreID     string      `json:"store_id"`
		Store       StoreConfig `json:"store"`
	}
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:        withDefault(fileConfig.Port, "8080"),
		Environment: withDefault(fileConfig.Environment, "development"),
		LogLevel:    withDefault(fileConfig.LogLevel, "info"),
		StoreID:     fileConfig.StoreID,
		Store:       fileConfig.Store,
	}
	cfg.Store.Currency = withDefault(cfg.Store.Currency, "EUR")
	cfg.Store.StatePath = withDefault(cfg.Store.StatePath, "cart-state.json")
	if cfg.Store.PointValue == 0 {
		cfg.Store.PointValue = 1
	}
	if cfg.Store.FallbackShippingCost == 0 {
		cfg.Store.FallbackShippingCost = 500
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches store config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{store_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StoreID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Store); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Store.StoreURL == "" {
		return fmt.Errorf("store_url is required")
	}
	if c.Store.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.Store.APISecret == "" {
		return fmt.Errorf("api_secret is required")
	}
	if _, err := url.Parse(c.Store.StoreURL); err != nil {
		return fmt.Errorf("invalid store_url: %w", err)
	}
	return nil
}

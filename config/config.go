/*
config.go - Server configuration

PURPOSE:
  Collects every tunable of the server in one struct.

PRECEDENCE (lowest to highest):
  1. Defaults
  2. .env file (missing file is fine)
  3. Environment variables
  4. Command-line flags

COMMAND-LINE FLAGS:
  -port       HTTP server port
  -db         Database URL (sqlite://path, :memory:, postgres://...)
  -log-level  debug, info, warn, error
  -env        Path of the .env file (default: .env)

GATEWAYS:
  The redirect gateway is enabled when REDIRECT_BASE_URL is set, the QR
  gateway when QR_BANK_ID is set. An enabled gateway must have its secret.
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/costledger/core"
)

// Config holds all application configuration.
type Config struct {
	Port              int
	DatabaseURL       string
	LogLevel          string
	JWTSecret         string
	DevAuth           bool
	Currency          string
	DueDays           int
	InvoiceDueDays    int
	GatewayTimeout    time.Duration
	PaymentTTL        time.Duration
	SchedulerInterval time.Duration
	CallbackRetries   int
	AllowedOrigins    []string

	Redirect RedirectConfig
	QR       QRConfig
}

// RedirectConfig configures the redirect gateway.
type RedirectConfig struct {
	BaseURL      string
	MerchantCode string
	HashSecret   string
	ReturnURL    string
}

// Enabled reports whether the gateway should be registered.
func (c RedirectConfig) Enabled() bool { return c.BaseURL != "" }

// QRConfig configures the QR bank-transfer gateway.
type QRConfig struct {
	BankID        string
	AccountNo     string
	AccountName   string
	WebhookSecret string
	APIURL        string
	ClientID      string
	APIKey        string
}

// Enabled reports whether the gateway should be registered.
func (c QRConfig) Enabled() bool { return c.BankID != "" }

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:              8080,
		DatabaseURL:       "sqlite://costledger.db",
		LogLevel:          "info",
		DevAuth:           false,
		Currency:          core.DefaultCurrency,
		DueDays:           30,
		InvoiceDueDays:    15,
		GatewayTimeout:    10 * time.Second,
		PaymentTTL:        30 * time.Minute,
		SchedulerInterval: time.Hour,
		CallbackRetries:   3,
		AllowedOrigins:    []string{"http://localhost:5173", "http://localhost:8080"},
	}
}

// Load builds the configuration from defaults, the .env file, the
// environment and args (typically os.Args[1:]).
func Load(args []string) (*Config, error) {
	cfg := Default()

	fset := flag.NewFlagSet("costledger", flag.ContinueOnError)
	port := fset.Int("port", cfg.Port, "HTTP server port")
	db := fset.String("db", cfg.DatabaseURL, "database URL (sqlite://path, :memory:, postgres://...)")
	level := fset.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	envFile := fset.String("env", ".env", "path of the .env file")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", *envFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "db":
			cfg.DatabaseURL = *db
		case "log-level":
			cfg.LogLevel = *level
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	num("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("JWT_SECRET", &c.JWTSecret)
	boolean("DEV_AUTH", &c.DevAuth)
	str("CURRENCY", &c.Currency)
	num("DUE_DAYS", &c.DueDays)
	num("INVOICE_DUE_DAYS", &c.InvoiceDueDays)
	dur("GATEWAY_TIMEOUT", &c.GatewayTimeout)
	dur("PAYMENT_TTL", &c.PaymentTTL)
	dur("SCHEDULER_INTERVAL", &c.SchedulerInterval)
	num("CALLBACK_RETRIES", &c.CallbackRetries)
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}

	str("REDIRECT_BASE_URL", &c.Redirect.BaseURL)
	str("REDIRECT_MERCHANT_CODE", &c.Redirect.MerchantCode)
	str("REDIRECT_HASH_SECRET", &c.Redirect.HashSecret)
	str("REDIRECT_RETURN_URL", &c.Redirect.ReturnURL)

	str("QR_BANK_ID", &c.QR.BankID)
	str("QR_ACCOUNT_NO", &c.QR.AccountNo)
	str("QR_ACCOUNT_NAME", &c.QR.AccountName)
	str("QR_WEBHOOK_SECRET", &c.QR.WebhookSecret)
	str("QR_API_URL", &c.QR.APIURL)
	str("QR_CLIENT_ID", &c.QR.ClientID)
	str("QR_API_KEY", &c.QR.APIKey)

	c.Currency = core.NormalizeCurrency(c.Currency)
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database url is required"))
	}
	if c.JWTSecret == "" && !c.DevAuth {
		errs = append(errs, errors.New("JWT_SECRET is required unless DEV_AUTH is enabled"))
	}
	if c.DueDays < 0 || c.InvoiceDueDays < 0 {
		errs = append(errs, errors.New("due days must not be negative"))
	}
	if c.GatewayTimeout <= 0 || c.PaymentTTL <= 0 || c.SchedulerInterval <= 0 {
		errs = append(errs, errors.New("gateway timeout, payment ttl and scheduler interval must be positive"))
	}
	if c.CallbackRetries < 1 {
		errs = append(errs, errors.New("callback retries must be at least 1"))
	}
	if c.Redirect.Enabled() && (c.Redirect.MerchantCode == "" || c.Redirect.HashSecret == "") {
		errs = append(errs, errors.New("redirect gateway requires REDIRECT_MERCHANT_CODE and REDIRECT_HASH_SECRET"))
	}
	if c.QR.Enabled() && (c.QR.AccountNo == "" || c.QR.WebhookSecret == "") {
		errs = append(errs, errors.New("qr gateway requires QR_ACCOUNT_NO and QR_WEBHOOK_SECRET"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

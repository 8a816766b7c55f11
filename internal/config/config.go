// Package config provides functionality for managing configuration options
// for the server using command-line flags, a config file and environment
// variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// Stock backends.
const (
	StockFile   = "file"
	StockSQLite = "sqlite"
)

// Options holds the configuration values for the server.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"port" toml:"port"`

	// DatabaseDSN holds the PostgreSQL connection string.
	DatabaseDSN string `json:"database_dsn" toml:"database_dsn"`

	// Config is the path to the config file (.json or .toml).
	Config string `json:"-" toml:"-"`

	// LogLevel is the minimum zap level.
	LogLevel string `json:"log_level" toml:"log_level"`

	// StockBackend selects the pool storage: "file" or "sqlite".
	StockBackend string `json:"stock_backend" toml:"stock_backend"`
	// StockDir is the directory of <service>.txt pools for the file backend.
	StockDir string `json:"stock_dir" toml:"stock_dir"`
	// StockDB is the SQLite database path for the sqlite backend.
	StockDB string `json:"stock_db" toml:"stock_db"`
	// Services lists the services shown by the catalogue. When empty, the
	// pools present in the stock backend are listed.
	Services []string `json:"services" toml:"services"`

	// ReservationTTL is how long a reservation may stay open before the
	// sweeper resolves it.
	ReservationTTL string `json:"reservation_ttl" toml:"reservation_ttl"`
	// SweepInterval is how often the sweeper runs.
	SweepInterval string `json:"sweep_interval" toml:"sweep_interval"`

	// TLS material used to serve HTTPS and issue client certificates.
	CertFile  string `json:"cert_file" toml:"cert_file"`
	KeyFile   string `json:"key_file" toml:"key_file"`
	CAFile    string `json:"ca_file" toml:"ca_file"`
	CAKeyFile string `json:"ca_key_file" toml:"ca_key_file"`

	// MaxInflight caps concurrently served requests.
	MaxInflight int `json:"max_inflight" toml:"max_inflight"`

	PayPal PayPal `json:"paypal" toml:"paypal"`
}

// PayPal holds checkout provider settings.
type PayPal struct {
	ClientID     string `json:"client_id" toml:"client_id"`
	ClientSecret string `json:"client_secret" toml:"client_secret"`
	// Mode is "sandbox" or "live".
	Mode string `json:"mode" toml:"mode"`
	// ReceiverEmail is the expected receiver of IPN notifications.
	ReceiverEmail string `json:"receiver_email" toml:"receiver_email"`
	// VerifyTimeout bounds the IPN verification round trip.
	VerifyTimeout string `json:"verify_timeout" toml:"verify_timeout"`
}

// Default returns the built-in defaults.
func Default() *Options {
	return &Options{
		Port:           "localhost:8080",
		Config:         "config.json",
		LogLevel:       "info",
		StockBackend:   StockFile,
		StockDir:       "stocks",
		StockDB:        "stock.db",
		ReservationTTL: "5m",
		SweepInterval:  "1m",
		CertFile:       "certs/server.crt",
		KeyFile:        "certs/server.key",
		CAFile:         "certs/ca.crt",
		CAKeyFile:      "certs/ca.key",
		MaxInflight:    100,
		PayPal: PayPal{
			Mode:          "sandbox",
			VerifyTimeout: "10s",
		},
	}
}

// BindFlags registers the command-line flags on fs, writing into o.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Port, "addr", "a", o.Port, "run on ip:port server")
	fs.StringVarP(&o.DatabaseDSN, "dsn", "d", o.DatabaseDSN, "postgres connection string")
	fs.StringVarP(&o.Config, "config", "c", o.Config, "path to config file (.json or .toml)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level")
	fs.StringVar(&o.StockBackend, "stock-backend", o.StockBackend, "stock backend: file | sqlite")
	fs.StringVar(&o.StockDir, "stock-dir", o.StockDir, "directory of <service>.txt pools")
	fs.StringVar(&o.StockDB, "stock-db", o.StockDB, "sqlite stock database path")
}

// Load overlays the config file and environment variables onto o. Flags
// explicitly set on fs win over both. fs may be nil.
func (o *Options) Load(fs *pflag.FlagSet) error {
	explicit := map[string]string{}
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) { explicit[f.Name] = f.Value.String() })
	}

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		o.Config = configPath
	}
	if p, ok := explicit["config"]; ok {
		o.Config = p
	}

	if o.Config != "" {
		if _, err := os.Stat(o.Config); err == nil {
			if err := o.readFile(o.Config); err != nil {
				return err
			}
		}
	}

	o.applyEnv()

	if fs != nil {
		for name, value := range explicit {
			if err := fs.Set(name, value); err != nil {
				return fmt.Errorf("reapply flag %s: %w", name, err)
			}
		}
	}

	return o.Validate()
}

func (o *Options) readFile(path string) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, o); err != nil {
			return fmt.Errorf("error while parsing config file: %w", err)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

func (o *Options) applyEnv() {
	env := map[string]*string{
		"SERVER_ADDRESS":       &o.Port,
		"DATABASE_DSN":         &o.DatabaseDSN,
		"LOG_LEVEL":            &o.LogLevel,
		"STOCK_BACKEND":        &o.StockBackend,
		"STOCK_DIR":            &o.StockDir,
		"STOCK_DB":             &o.StockDB,
		"PAYPAL_CLIENT_ID":     &o.PayPal.ClientID,
		"PAYPAL_CLIENT_SECRET": &o.PayPal.ClientSecret,
		"PAYPAL_EMAIL":         &o.PayPal.ReceiverEmail,
		"PAYPAL_MODE":          &o.PayPal.Mode,
	}
	for name, dst := range env {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
}

// Validate checks enumerations and duration strings.
func (o *Options) Validate() error {
	switch o.StockBackend {
	case StockFile, StockSQLite:
	default:
		return fmt.Errorf("unknown stock backend %q", o.StockBackend)
	}
	switch o.PayPal.Mode {
	case "sandbox", "live":
	default:
		return fmt.Errorf("unknown paypal mode %q", o.PayPal.Mode)
	}
	for name, v := range map[string]string{
		"reservation_ttl":       o.ReservationTTL,
		"sweep_interval":        o.SweepInterval,
		"paypal.verify_timeout": o.PayPal.VerifyTimeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s has invalid duration %q: %w", name, v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", name, v)
		}
	}
	return nil
}

// ReservationTTLDuration returns ReservationTTL parsed. Call after Validate.
func (o *Options) ReservationTTLDuration() time.Duration { return mustDuration(o.ReservationTTL) }

// SweepIntervalDuration returns SweepInterval parsed. Call after Validate.
func (o *Options) SweepIntervalDuration() time.Duration { return mustDuration(o.SweepInterval) }

// VerifyTimeoutDuration returns PayPal.VerifyTimeout parsed. Call after Validate.
func (o *Options) VerifyTimeoutDuration() time.Duration { return mustDuration(o.PayPal.VerifyTimeout) }

func mustDuration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

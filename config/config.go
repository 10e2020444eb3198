/*
config.go - Server configuration

PURPOSE:
  Loads configuration for cmd/server from, in increasing precedence:
  built-in defaults, an optional YAML file, a .env file, TIMESHEET_*
  environment variables, and command-line flags.

KEYS:
  server.port, server.read_timeout, server.write_timeout, server.shutdown_timeout
  database.driver (sqlite|postgres), database.dsn
  log.level, log.format (json|console)
  cors.allowed_origins
  billing.timezone, billing.payment_term_days,
  billing.invoice_number_template, billing.first_invoice_number

  Environment names replace "." with "_": TIMESHEET_DATABASE_DSN.
  The billing.* keys only seed the settings row on first start; after
  that the stored settings win and are edited through the API.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/warp/timesheet/billing"
)

const envPrefix = "TIMESHEET"

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Log      LogConfig
	CORS     CORSConfig
	Billing  billing.Settings
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "timesheet.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("billing.timezone", "UTC")
	v.SetDefault("billing.payment_term_days", 30)
	v.SetDefault("billing.invoice_number_template", billing.DefaultInvoiceNumberTemplate)
	v.SetDefault("billing.first_invoice_number", 1)
}

// Flags registers the command-line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("timesheet", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.Int("port", 8080, "HTTP server port")
	fs.String("db-driver", "sqlite", "database driver (sqlite|postgres)")
	fs.String("db", "timesheet.db", "database DSN; a file path or :memory: for sqlite")
	fs.String("log-level", "info", "log level (debug|info|warn|error)")
	fs.String("log-format", "json", "log encoding (json|console)")
	return fs
}

// flag name -> config key
var flagKeys = map[string]string{
	"port":       "server.port",
	"db-driver":  "database.driver",
	"db":         "database.dsn",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// Load parses args against Flags and resolves the configuration.
func Load(args []string) (Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return Config{}, err
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			DSN:    v.GetString("database.dsn"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		CORS: CORSConfig{AllowedOrigins: v.GetStringSlice("cors.allowed_origins")},
		Billing: billing.Settings{
			NextInvoiceNumber:     v.GetInt64("billing.first_invoice_number"),
			InvoiceNumberTemplate: v.GetString("billing.invoice_number_template"),
			PaymentTermDays:       v.GetInt("billing.payment_term_days"),
			Timezone:              v.GetString("billing.timezone"),
		},
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if err := billing.ValidateSettings(c.Billing); err != nil {
		return fmt.Errorf("invalid billing settings: %w", err)
	}
	return nil
}

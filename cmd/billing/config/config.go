// Package config loads the billing CLI configuration from file, environment
// and flags, and turns it into the configurations of the internal packages.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"recurring-billing-service/internal/api"
	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/notify"
	"recurring-billing-service/internal/parsers"
	"recurring-billing-service/internal/reconciler"
	"recurring-billing-service/internal/reporter"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// EnvPrefix prefixes every environment variable read by the CLI
// (BILLING_DB_DSN, BILLING_NOTIFY_EMAIL_API_KEY, ...).
const EnvPrefix = "BILLING"

// Config is the complete CLI configuration
type Config struct {
	Owner    string            `mapstructure:"owner"`
	Database store.Config      `mapstructure:"db"`
	Payments reconciler.Config `mapstructure:"payments"`
	Notify   NotifyConfig      `mapstructure:"notify"`
	Server   api.Config        `mapstructure:"server"`
	Log      logger.Config     `mapstructure:"log"`
	Report   ReportSettings    `mapstructure:"report"`
	Catalog  CatalogSettings   `mapstructure:"catalog"`
	Import   ImportSettings    `mapstructure:"import"`
}

// NotifyConfig selects the notification channels
type NotifyConfig struct {
	Log   bool               `mapstructure:"log"`
	Email notify.EmailConfig `mapstructure:"email"`
}

// ReportSettings holds the report options that may be set in a file
type ReportSettings struct {
	Format       string `mapstructure:"format"`
	Colors       bool   `mapstructure:"colors"`
	MaxWidth     int    `mapstructure:"max_width"`
	MaxRows      int    `mapstructure:"max_rows"`
	CSVDelimiter string `mapstructure:"csv_delimiter"`
}

// CatalogSettings points at an optional custom category table
type CatalogSettings struct {
	File string `mapstructure:"file"`
}

// ImportSettings describes the layout of item import files
type ImportSettings struct {
	Delimiter        string `mapstructure:"delimiter"`
	HasHeader        bool   `mapstructure:"has_header"`
	DefaultFrequency string `mapstructure:"default_frequency"`
}

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	db := store.DefaultConfig()
	v.SetDefault("owner", "default")
	v.SetDefault("db.driver", string(db.Driver))
	v.SetDefault("db.dsn", db.DSN)
	v.SetDefault("db.max_open_conns", db.MaxOpenConns)
	v.SetDefault("db.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("db.auto_migrate", db.AutoMigrate)

	payments := reconciler.DefaultConfig()
	v.SetDefault("payments.enforce_balance", payments.EnforceBalance)
	v.SetDefault("payments.inter_item_delay", payments.InterItemDelay)
	v.SetDefault("payments.notify_on_batch", payments.NotifyOnBatch)

	v.SetDefault("notify.log", true)
	v.SetDefault("notify.email.api_key", "")
	v.SetDefault("notify.email.from", "")
	v.SetDefault("notify.email.to", []string{})
	v.SetDefault("notify.email.endpoint", "")
	v.SetDefault("notify.email.timeout", "10s")

	server := api.DefaultConfig()
	v.SetDefault("server.addr", server.Addr)
	v.SetDefault("server.default_owner", server.DefaultOwner)
	v.SetDefault("server.read_timeout", server.ReadTimeout)
	v.SetDefault("server.write_timeout", server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", server.ShutdownTimeout)

	log := logger.DefaultConfig()
	v.SetDefault("log.level", string(log.Level))
	v.SetDefault("log.format", string(log.Format))
	v.SetDefault("log.output", string(log.Output))
	v.SetDefault("log.file", "")
	v.SetDefault("log.caller_info", false)

	report := reporter.DefaultReportConfig()
	v.SetDefault("report.format", string(report.Format))
	v.SetDefault("report.colors", report.UseColors)
	v.SetDefault("report.max_width", report.TableMaxWidth)
	v.SetDefault("report.max_rows", report.MaxRows)
	v.SetDefault("report.csv_delimiter", string(report.CSVDelimiter))

	v.SetDefault("catalog.file", "")

	imp := parsers.DefaultItemImportConfig()
	v.SetDefault("import.delimiter", string(imp.Delimiter))
	v.SetDefault("import.has_header", imp.HasHeader)
	v.SetDefault("import.default_frequency", string(imp.DefaultFrequency))
}

// NewViper returns a viper instance with defaults and environment binding
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isMissing(err) {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "env_file", f, err).
				WithSuggestion("check the syntax of the .env file")
		}
	}
	return nil
}

func isMissing(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist)
}

// Load reads the optional config file into v and decodes the result
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", path, err).
				WithSuggestion("check that the file exists and is valid YAML, JSON or TOML")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "owner", c.Owner, nil)
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Payments.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log.Level, err)
	}
	if c.Notify.Email.APIKey != "" {
		if err := c.Notify.Email.Validate(); err != nil {
			return err
		}
	}
	if _, err := c.ReportConfig(""); err != nil {
		return err
	}
	if _, err := c.ImportConfig(); err != nil {
		return err
	}
	return nil
}

// ReportConfig builds the reporter configuration. A non-empty format
// overrides the configured one.
func (c *Config) ReportConfig(format string) (*reporter.ReportConfig, error) {
	rc := reporter.DefaultReportConfig()
	rc.Format = reporter.OutputFormat(c.Report.Format)
	if format != "" {
		rc.Format = reporter.OutputFormat(format)
	}
	rc.UseColors = c.Report.Colors
	rc.MaxRows = c.Report.MaxRows
	if c.Report.MaxWidth > 0 {
		rc.TableMaxWidth = c.Report.MaxWidth
	}
	delim, err := singleRune("report.csv_delimiter", c.Report.CSVDelimiter)
	if err != nil {
		return nil, err
	}
	rc.CSVDelimiter = delim

	if err := rc.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report", rc.Format, err).
			WithSuggestion("use one of the formats console, json, csv, xlsx")
	}
	return rc, nil
}

// ImportConfig builds the item import layout
func (c *Config) ImportConfig() (*parsers.ItemImportConfig, error) {
	ic := parsers.DefaultItemImportConfig()
	ic.HasHeader = c.Import.HasHeader

	delim, err := singleRune("import.delimiter", c.Import.Delimiter)
	if err != nil {
		return nil, err
	}
	ic.Delimiter = delim

	ic.DefaultFrequency = ""
	if c.Import.DefaultFrequency != "" {
		freq, err := models.ParseFrequency(c.Import.DefaultFrequency)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "import.default_frequency", c.Import.DefaultFrequency, err)
		}
		ic.DefaultFrequency = freq
	}

	if err := ic.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "import", string(ic.Delimiter), err)
	}
	return ic, nil
}

// Notifier builds the configured notification channels. It returns nil
// when every channel is off.
func (c *Config) Notifier() (notify.Notifier, error) {
	var channels notify.Multi
	if c.Notify.Log {
		channels = append(channels, notify.NewLogNotifier())
	}
	if c.Notify.Email.Enabled() {
		email, err := notify.NewEmailNotifier(&c.Notify.Email)
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}
	if len(channels) == 0 {
		return nil, nil
	}
	return channels, nil
}

func singleRune(setting, s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, errors.ConfigurationError(errors.CodeInvalidConfig, setting, s,
			fmt.Errorf("expected a single character"))
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

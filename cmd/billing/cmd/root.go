package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"recurring-billing-service/cmd/billing/config"
	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

var (
	cfgFile    string
	envFile    string
	verbose    bool
	ownerFlag  string
	formatFlag string
	outputFlag string

	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// cfg is loaded before every subcommand runs
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "billing",
	Short: "Recurring bills and installment tracker",
	Long: `Billing keeps track of recurring charges (subscriptions, rent, yearly fees)
and installment purchases, and pays them against a personal ledger.

Every payment is recorded as a ledger expense in the same transaction that
advances the item's schedule, so a bill is never charged twice for one cycle.

Examples:
  billing ledger deposit 3500 --description "Salary"
  billing item add Netflix --amount 39.90 --frequency monthly --anchor-day 10
  billing item due
  billing pay-all --start 2024-06-01 --end 2024-06-30 --progress
  billing installment create "New phone" --total 3000 --count 10 --first 2024-07-05
  billing serve`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	return NewCLIErrorHandler().HandleError(err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "owner whose data is used (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "", "output format: console, json, csv, xlsx")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "", "write the report to this file instead of stdout")
}

// initConfig reads the dotenv file, the config file and the environment,
// then installs the configured logger.
func initConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	loaded, err := config.Load(config.NewViper(), cfgFile)
	if err != nil {
		return err
	}
	if ownerFlag != "" {
		loaded.Owner = ownerFlag
	}

	logCfg := loaded.Log
	if verbose {
		logCfg.Level = logger.DebugLevel
	}
	log, err := logger.NewLogger(&logCfg)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", logCfg.Level, err)
	}
	logger.SetGlobalLogger(log)

	if verbose && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", cfgFile)
	}

	cfg = loaded
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

// parseDateFlag parses a YYYY-MM-DD flag value. An empty value yields def.
func parseDateFlag(name, value string, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}
	d, err := models.ParseDate(value)
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, name, value, err).
			WithSuggestion("use the YYYY-MM-DD format")
	}
	return d, nil
}

// optionalDateFlag is parseDateFlag for flags that may stay unset
func optionalDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	d, err := parseDateFlag(name, value, time.Time{})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseAmountArg accepts plain decimals as well as "R$ 1.234,56"
func parseAmountArg(name, value string) (decimal.Decimal, error) {
	d, err := models.ParseDecimalFromString(value)
	if err != nil {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, name, value, err).
			WithSuggestion("use a positive decimal amount such as 39.90")
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, name, value, nil).
			WithSuggestion("amounts must be greater than zero")
	}
	return d.Round(2), nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"recurring-billing-service/internal/ledger"
	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/reporter"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
)

var (
	entryDescription string
	entryCategory    string
	entryDate        string

	ledgerKind  string
	ledgerFrom  string
	ledgerTo    string
	ledgerItem  string
	ledgerLimit int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Record income and expenses and inspect the balance",
}

var ledgerDepositCmd = &cobra.Command{
	Use:   "deposit AMOUNT",
	Short: "Record income",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEntry(cmd, args[0], func(l *ledger.Service) entryFunc { return l.Deposit })
	},
}

var ledgerSpendCmd = &cobra.Command{
	Use:   "spend AMOUNT",
	Short: "Record a one-off expense",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEntry(cmd, args[0], func(l *ledger.Service) entryFunc { return l.Spend })
	},
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries",
	Long: `List ledger entries, newest first, with their totals.

Examples:
  billing ledger list --from 2024-06-01 --to 2024-06-30
  billing ledger list --kind expense --format csv --output june.csv
  billing ledger list --format xlsx --output ledger.xlsx`,
	Args: cobra.NoArgs,
	RunE: runLedgerList,
}

var ledgerBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the current balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			balance, err := a.ledger.Balance(cmd.Context(), a.config.Owner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), balance.StringFixed(2))
			return nil
		})
	},
}

type entryFunc func(ctx context.Context, req ledger.EntryRequest) (*models.LedgerEntry, error)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerDepositCmd, ledgerSpendCmd, ledgerListCmd, ledgerBalanceCmd)

	for _, c := range []*cobra.Command{ledgerDepositCmd, ledgerSpendCmd} {
		c.Flags().StringVarP(&entryDescription, "description", "d", "", "what the entry is for")
		c.Flags().StringVar(&entryCategory, "category", "", "category id")
		c.Flags().StringVar(&entryDate, "date", "", "date of the entry (default today)")
	}

	ledgerListCmd.Flags().StringVar(&ledgerKind, "kind", "", "income or expense")
	ledgerListCmd.Flags().StringVar(&ledgerFrom, "from", "", "first day (YYYY-MM-DD)")
	ledgerListCmd.Flags().StringVar(&ledgerTo, "to", "", "last day (YYYY-MM-DD)")
	ledgerListCmd.Flags().StringVar(&ledgerItem, "item", "", "only payments of this recurring item")
	ledgerListCmd.Flags().IntVar(&ledgerLimit, "limit", 0, "maximum number of entries (0 for all)")
}

func runEntry(cmd *cobra.Command, raw string, pick func(*ledger.Service) entryFunc) error {
	amount, err := parseAmountArg("amount", raw)
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		on, err := parseDateFlag("date", entryDate, a.now())
		if err != nil {
			return err
		}
		entry, err := pick(a.ledger)(cmd.Context(), ledger.EntryRequest{
			OwnerID:     a.config.Owner,
			Amount:      amount,
			Description: entryDescription,
			CategoryID:  entryCategory,
			OccurredOn:  on,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s %s on %s (%s)\n",
			entry.Kind, entry.Amount.StringFixed(2), entry.OccurredOn.Format(models.DateLayout), entry.ID)
		return nil
	})
}

// ledgerFilter builds the list filter from the flags
func ledgerFilter(owner string) (store.LedgerFilter, error) {
	filter := store.LedgerFilter{
		OwnerID:         owner,
		RecurringItemID: ledgerItem,
		Limit:           ledgerLimit,
	}

	switch models.EntryKind(ledgerKind) {
	case "", models.EntryIncome, models.EntryExpense:
		filter.Kind = models.EntryKind(ledgerKind)
	default:
		return filter, errors.ValidationError(errors.CodeInvalidFormat, "kind", ledgerKind, nil).
			WithSuggestion("use income or expense")
	}
	if ledgerLimit < 0 {
		return filter, errors.ValidationError(errors.CodeOutOfRange, "limit", ledgerLimit, nil)
	}

	var err error
	if filter.From, err = optionalDateFlag("from", ledgerFrom); err != nil {
		return filter, err
	}
	if filter.To, err = optionalDateFlag("to", ledgerTo); err != nil {
		return filter, err
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return filter, errors.ValidationError(errors.CodeOutOfRange, "from", ledgerFrom, nil).
			WithSuggestion("the start date cannot be after the end date")
	}
	return filter, nil
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		filter, err := ledgerFilter(a.config.Owner)
		if err != nil {
			return err
		}
		entries, err := a.ledger.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		balance, err := a.ledger.Balance(cmd.Context(), a.config.Owner)
		if err != nil {
			return err
		}
		return a.render(cmd, reporter.LedgerReport(entries, balance))
	})
}

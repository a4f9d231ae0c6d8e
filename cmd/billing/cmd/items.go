package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/parsers"
	"recurring-billing-service/internal/recurring"
	"recurring-billing-service/internal/reporter"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
)

var (
	itemAmount      string
	itemFrequency   string
	itemAnchorDay   int
	itemFirstCharge string
	itemLastCharged string
	itemCategory    string
	itemIcon        string
	updName         string
	updAmount       string
	updFrequency    string
	updAnchorDay    int
	updCategory     string
	updIcon         string
	updActive       bool
	itemListAll     bool
	itemDate        string
	itemFrom        string
	itemTo          string
	itemDays        int
	itemDryRun      bool
)

var itemCmd = &cobra.Command{
	Use:     "item",
	Aliases: []string{"items"},
	Short:   "Manage recurring items",
}

var itemAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a recurring item",
	Long: `Create a recurring item that is charged on a fixed schedule.

The anchor day is taken from --anchor-day, then from --first-charge, then
from --last-charged, and finally from today. When --last-charged is given the
current cycle counts as already paid outside the app.

Examples:
  billing item add Netflix --amount 39.90 --frequency monthly --anchor-day 10
  billing item add "Car insurance" --amount "R$ 2.400,00" --frequency annually --first-charge 2024-09-01
  billing item add Rent --amount 1800 --last-charged 2024-06-05`,
	Args: cobra.ExactArgs(1),
	RunE: runItemAdd,
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recurring items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			items, err := a.items.List(cmd.Context(), a.config.Owner, !itemListAll)
			if err != nil {
				return err
			}
			return a.render(cmd, reporter.ItemsReport(items))
		})
	},
}

var itemDueCmd = &cobra.Command{
	Use:   "due",
	Short: "Classify every active item as upcoming, due today, overdue or settled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			now, err := parseDateFlag("date", itemDate, a.now())
			if err != nil {
				return err
			}
			rows, err := a.items.DueList(cmd.Context(), a.config.Owner, now)
			if err != nil {
				return err
			}
			return a.render(cmd, reporter.DueReport(rows, now))
		})
	},
}

var itemUpcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "List the charges expected in a date range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			from, err := parseDateFlag("from", itemFrom, a.now())
			if err != nil {
				return err
			}
			to, err := parseDateFlag("to", itemTo, from.AddDate(0, 0, itemDays))
			if err != nil {
				return err
			}
			occurrences, err := a.items.Upcoming(cmd.Context(), a.config.Owner, from, to)
			if err != nil {
				return err
			}
			return a.render(cmd, reporter.UpcomingReport(occurrences, from, to))
		})
	},
}

var itemUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Change fields of a recurring item",
	Long: `Change fields of a recurring item. Only the flags given are applied.

Examples:
  billing item update 3f2c... --amount 44.90
  billing item update 3f2c... --active=false`,
	Args: cobra.ExactArgs(1),
	RunE: runItemUpdate,
}

var itemDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a recurring item (its ledger history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.items.Delete(cmd.Context(), a.config.Owner, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted item %s\n", args[0])
			return nil
		})
	},
}

var itemPayCmd = &cobra.Command{
	Use:   "pay ID",
	Short: "Pay the current cycle of a recurring item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			on, err := parseDateFlag("date", itemDate, a.now())
			if err != nil {
				return err
			}
			effect, err := a.items.Pay(cmd.Context(), a.config.Owner, args[0], on)
			return a.renderPayment(cmd, effect, err)
		})
	},
}

var itemImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Create recurring items from a CSV file",
	Long: `Create recurring items from a CSV file.

Columns are matched by header name in English or Portuguese (name/nome,
amount/valor, frequency/frequencia, anchor_day/dia, last_charged/ultima_cobranca,
category/categoria, icon/icone). Rows that fail to parse are reported and
skipped; the other rows are still imported.

Examples:
  billing item import subscriptions.csv
  billing item import assinaturas.csv --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runItemImport,
}

func init() {
	rootCmd.AddCommand(itemCmd)
	itemCmd.AddCommand(itemAddCmd, itemListCmd, itemDueCmd, itemUpcomingCmd,
		itemUpdateCmd, itemDeleteCmd, itemPayCmd, itemImportCmd)

	itemAddCmd.Flags().StringVarP(&itemAmount, "amount", "a", "", "amount charged every cycle (required)")
	itemAddCmd.Flags().StringVar(&itemFrequency, "frequency", "monthly", "daily, weekly, monthly, semiannually or annually")
	itemAddCmd.Flags().IntVar(&itemAnchorDay, "anchor-day", 0, "day of month the charge falls on (1-31)")
	itemAddCmd.Flags().StringVar(&itemFirstCharge, "first-charge", "", "date of the first charge (YYYY-MM-DD)")
	itemAddCmd.Flags().StringVar(&itemLastCharged, "last-charged", "", "date the item was last paid outside the app (YYYY-MM-DD)")
	itemAddCmd.Flags().StringVar(&itemCategory, "category", "", "category id (guessed from the name when empty)")
	itemAddCmd.Flags().StringVar(&itemIcon, "icon", "", "icon shown next to the name")
	itemAddCmd.MarkFlagRequired("amount")

	itemListCmd.Flags().BoolVar(&itemListAll, "all", false, "include inactive items")

	itemDueCmd.Flags().StringVar(&itemDate, "date", "", "classify as of this date (default today)")
	itemPayCmd.Flags().StringVar(&itemDate, "date", "", "payment date (default today)")

	itemUpcomingCmd.Flags().StringVar(&itemFrom, "from", "", "first day of the range (default today)")
	itemUpcomingCmd.Flags().StringVar(&itemTo, "to", "", "last day of the range")
	itemUpcomingCmd.Flags().IntVar(&itemDays, "days", 30, "range length when --to is not given")

	itemUpdateCmd.Flags().StringVar(&updName, "name", "", "new name")
	itemUpdateCmd.Flags().StringVarP(&updAmount, "amount", "a", "", "new amount")
	itemUpdateCmd.Flags().StringVar(&updFrequency, "frequency", "", "new frequency")
	itemUpdateCmd.Flags().IntVar(&updAnchorDay, "anchor-day", 0, "new anchor day")
	itemUpdateCmd.Flags().StringVar(&updCategory, "category", "", "new category id")
	itemUpdateCmd.Flags().StringVar(&updIcon, "icon", "", "new icon")
	itemUpdateCmd.Flags().BoolVar(&updActive, "active", true, "whether the item is still charged")

	itemImportCmd.Flags().BoolVar(&itemDryRun, "dry-run", false, "parse and report without creating items")
}

func runItemAdd(cmd *cobra.Command, args []string) error {
	req, err := buildCreateRequest(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		req.OwnerID = a.config.Owner
		item, err := a.items.Create(cmd.Context(), req)
		if err != nil {
			return err
		}
		return a.render(cmd, reporter.ItemsReport([]*models.RecurringItem{item}))
	})
}

// buildCreateRequest validates the add flags without touching storage
func buildCreateRequest(name string) (recurring.CreateRequest, error) {
	var req recurring.CreateRequest

	amount, err := parseAmountArg("amount", itemAmount)
	if err != nil {
		return req, err
	}
	freq, err := parseFrequencyFlag(itemFrequency)
	if err != nil {
		return req, err
	}
	if itemAnchorDay < 0 || itemAnchorDay > 31 {
		return req, errors.ValidationError(errors.CodeOutOfRange, "anchor-day", itemAnchorDay, nil).
			WithSuggestion("use a day between 1 and 31")
	}
	first, err := optionalDateFlag("first-charge", itemFirstCharge)
	if err != nil {
		return req, err
	}
	last, err := optionalDateFlag("last-charged", itemLastCharged)
	if err != nil {
		return req, err
	}

	return recurring.CreateRequest{
		Name:        name,
		Amount:      amount,
		Frequency:   freq,
		AnchorDay:   itemAnchorDay,
		FirstCharge: first,
		LastCharged: last,
		CategoryID:  itemCategory,
		Icon:        itemIcon,
	}, nil
}

// buildPatch collects the update flags the user actually set
func buildPatch(cmd *cobra.Command) (store.ItemPatch, error) {
	var patch store.ItemPatch
	flags := cmd.Flags()

	if flags.Changed("name") {
		patch.Name = &updName
	}
	if flags.Changed("amount") {
		amount, err := parseAmountArg("amount", updAmount)
		if err != nil {
			return patch, err
		}
		patch.Amount = &amount
	}
	if flags.Changed("frequency") {
		freq, err := parseFrequencyFlag(updFrequency)
		if err != nil {
			return patch, err
		}
		patch.Frequency = &freq
	}
	if flags.Changed("anchor-day") {
		if updAnchorDay < 1 || updAnchorDay > 31 {
			return patch, errors.ValidationError(errors.CodeOutOfRange, "anchor-day", updAnchorDay, nil)
		}
		patch.AnchorDay = &updAnchorDay
	}
	if flags.Changed("category") {
		patch.CategoryID = &updCategory
	}
	if flags.Changed("icon") {
		patch.Icon = &updIcon
	}
	if flags.Changed("active") {
		patch.Active = &updActive
	}

	if patch.IsEmpty() {
		return patch, errors.ValidationError(errors.CodeMissingField, "update", nil, nil).
			WithSuggestion("pass at least one of --name, --amount, --frequency, --anchor-day, --category, --icon, --active")
	}
	return patch, nil
}

func runItemUpdate(cmd *cobra.Command, args []string) error {
	patch, err := buildPatch(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		item, err := a.items.Update(cmd.Context(), a.config.Owner, args[0], patch)
		if err != nil {
			return err
		}
		return a.render(cmd, reporter.ItemsReport([]*models.RecurringItem{item}))
	})
}

func runItemImport(cmd *cobra.Command, args []string) error {
	importCfg, err := cfg.ImportConfig()
	if err != nil {
		return err
	}
	parser, err := parsers.NewItemParser(importCfg)
	if err != nil {
		return err
	}

	records, stats, err := parser.ParseFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", stats)
	for _, sample := range stats.GetSampleErrors(10) {
		fmt.Fprintf(out, "  skipped: %s\n", sample)
	}
	if itemDryRun {
		for _, r := range records {
			fmt.Fprintf(out, "  line %d: %s %s %s\n", r.Line, r.Name, r.Amount.StringFixed(2), r.Frequency)
		}
		return nil
	}

	return withApp(cmd, func(a *app) error {
		var created []*models.RecurringItem
		var failures []*errors.BillingError
		for _, r := range records {
			item, err := a.items.Create(cmd.Context(), recordRequest(a.config.Owner, r))
			if err != nil {
				failures = append(failures, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "create item").
					WithContext("line", r.Line))
				continue
			}
			created = append(created, item)
		}

		if err := a.render(cmd, reporter.ItemsReport(created)); err != nil {
			return err
		}
		if len(failures) > 0 {
			return errors.NewErrorSummary(failures)
		}
		return nil
	})
}

func parseFrequencyFlag(value string) (models.Frequency, error) {
	freq, err := models.ParseFrequency(value)
	if err != nil {
		return "", errors.ValidationError(errors.CodeInvalidFormat, "frequency", value, err).
			WithSuggestion("use daily, weekly, monthly, semiannually or annually")
	}
	return freq, nil
}

func recordRequest(owner string, r *parsers.ItemRecord) recurring.CreateRequest {
	return recurring.CreateRequest{
		OwnerID:     owner,
		Name:        r.Name,
		Amount:      r.Amount,
		Frequency:   r.Frequency,
		AnchorDay:   r.AnchorDay,
		LastCharged: r.LastCharged,
		CategoryID:  r.CategoryID,
		Icon:        r.Icon,
	}
}

// renderPayment prints a recorded payment. A cycle that is already paid is
// reported as such and is not an error.
func (a *app) renderPayment(cmd *cobra.Command, effect *models.Effect, err error) error {
	if errors.IsCode(err, errors.CodeAlreadyProcessing) {
		billingErr, _ := errors.AsBillingError(err)
		fmt.Fprintf(cmd.OutOrStdout(), "Nothing to pay: %v", billingErr.Context["reason"])
		if next, ok := billingErr.Context["next_due"]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), " (next due %v)", next)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	}
	if err != nil {
		return err
	}
	return a.render(cmd, reporter.PaymentReport(effect))
}

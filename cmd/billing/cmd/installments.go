package cmd

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"recurring-billing-service/internal/installment"
	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/reporter"
	"recurring-billing-service/pkg/errors"
)

var (
	instTotal       string
	instPerLine     string
	instCount       int
	instFirst       string
	instCategory    string
	instAlreadyPaid int
	instOpenOnly    bool
	instDate        string
)

var installmentCmd = &cobra.Command{
	Use:     "installment",
	Aliases: []string{"installments", "inst"},
	Short:   "Manage installment purchases",
}

var installmentCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Split a purchase into monthly installments",
	Long: `Split a purchase into monthly installment lines.

Give either --total, which is divided evenly with the leftover cents on the
last line, or --per-line, the amount of every line. --already-paid marks the
first lines as paid outside the app; no ledger entry is written for them.

Examples:
  billing installment create "New phone" --total 3000 --count 10 --first 2024-07-05
  billing installment create Sofa --per-line 250 --count 12 --first 2024-01-20 --already-paid 5`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateInstallmentFlags,
	RunE:    runInstallmentCreate,
}

var installmentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installment purchases with their lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			purchases, err := a.installments.List(cmd.Context(), a.config.Owner, instOpenOnly)
			if err != nil {
				return err
			}
			return a.render(cmd, reporter.PurchasesReport(purchases))
		})
	},
}

var installmentShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one installment purchase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			purchase, err := a.installments.Get(cmd.Context(), a.config.Owner, args[0])
			if err != nil {
				return err
			}
			return a.render(cmd, reporter.PurchasesReport([]*models.InstallmentPurchase{purchase}))
		})
	},
}

var installmentPayCmd = &cobra.Command{
	Use:   "pay LINE_ID",
	Short: "Pay one installment line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			on, err := parseDateFlag("date", instDate, a.now())
			if err != nil {
				return err
			}
			effect, err := a.installments.Pay(cmd.Context(), a.config.Owner, args[0], on)
			return a.renderPayment(cmd, effect, err)
		})
	},
}

var installmentPayNextCmd = &cobra.Command{
	Use:   "pay-next NAME",
	Short: "Pay the earliest unpaid line of a purchase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			on, err := parseDateFlag("date", instDate, a.now())
			if err != nil {
				return err
			}
			effect, err := a.installments.PayNext(cmd.Context(), a.config.Owner, args[0], on)
			return a.renderPayment(cmd, effect, err)
		})
	},
}

var installmentSetAmountCmd = &cobra.Command{
	Use:   "set-amount LINE_ID AMOUNT",
	Short: "Override the amount of one unpaid line",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmountArg("amount", args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			line, err := a.installments.OverrideLineAmount(cmd.Context(), a.config.Owner, args[0], amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now %s\n", line.Label(), line.Amount.StringFixed(2))
			return nil
		})
	},
}

var installmentDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a fully paid purchase (its ledger entries are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.installments.Delete(cmd.Context(), a.config.Owner, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted purchase %s\n", args[0])
			return nil
		})
	},
}

var installmentCancelCmd = &cobra.Command{
	Use:   "cancel NAME",
	Short: "Remove a purchase and reverse the payments made for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			result, err := a.installments.Cancel(cmd.Context(), a.config.Owner, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s: %d lines removed, %d payments reversed\n",
				result.PurchaseName, result.LinesDeleted, len(result.ReversedEntries))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(installmentCmd)
	installmentCmd.AddCommand(installmentCreateCmd, installmentListCmd, installmentShowCmd,
		installmentPayCmd, installmentPayNextCmd, installmentSetAmountCmd,
		installmentDeleteCmd, installmentCancelCmd)

	installmentCreateCmd.Flags().StringVar(&instTotal, "total", "", "purchase total, split across the lines")
	installmentCreateCmd.Flags().StringVar(&instPerLine, "per-line", "", "amount of every line")
	installmentCreateCmd.Flags().IntVarP(&instCount, "count", "n", 0, "number of lines (required)")
	installmentCreateCmd.Flags().StringVar(&instFirst, "first", "", "due date of the first line (YYYY-MM-DD, required)")
	installmentCreateCmd.Flags().StringVar(&instCategory, "category", "", "category id")
	installmentCreateCmd.Flags().IntVar(&instAlreadyPaid, "already-paid", 0, "lines already paid outside the app")
	installmentCreateCmd.MarkFlagRequired("count")
	installmentCreateCmd.MarkFlagRequired("first")

	installmentListCmd.Flags().BoolVar(&instOpenOnly, "open", false, "only purchases with unpaid lines")

	installmentPayCmd.Flags().StringVar(&instDate, "date", "", "payment date (default today)")
	installmentPayNextCmd.Flags().StringVar(&instDate, "date", "", "payment date (default today)")
}

func validateInstallmentFlags(cmd *cobra.Command, args []string) error {
	if (instTotal == "") == (instPerLine == "") {
		return errors.ValidationError(errors.CodeMissingField, "amount", nil, nil).
			WithSuggestion("pass exactly one of --total and --per-line")
	}
	if instCount < 1 || instCount > installment.MaxLines {
		return errors.ValidationError(errors.CodeOutOfRange, "count", instCount, nil).
			WithSuggestion(fmt.Sprintf("use between 1 and %d lines", installment.MaxLines))
	}
	if instAlreadyPaid < 0 || instAlreadyPaid > instCount {
		return errors.ValidationError(errors.CodeOutOfRange, "already-paid", instAlreadyPaid, nil).
			WithSuggestion("already-paid cannot exceed the number of lines")
	}
	if _, err := parseDateFlag("first", instFirst, time.Time{}); err != nil {
		return err
	}
	return nil
}

func runInstallmentCreate(cmd *cobra.Command, args []string) error {
	first, err := parseDateFlag("first", instFirst, time.Time{})
	if err != nil {
		return err
	}

	var total, perLine decimal.Decimal
	if instTotal != "" {
		if total, err = parseAmountArg("total", instTotal); err != nil {
			return err
		}
	} else {
		if perLine, err = parseAmountArg("per-line", instPerLine); err != nil {
			return err
		}
	}

	return withApp(cmd, func(a *app) error {
		purchase, err := a.installments.Create(cmd.Context(), installment.CreateRequest{
			OwnerID:          a.config.Owner,
			PurchaseName:     args[0],
			Total:            total,
			PerLine:          perLine,
			Count:            instCount,
			FirstPaymentDate: first,
			CategoryID:       instCategory,
			AlreadyPaid:      instAlreadyPaid,
		})
		if err != nil {
			return err
		}
		return a.render(cmd, reporter.PurchasesReport([]*models.InstallmentPurchase{purchase}))
	})
}

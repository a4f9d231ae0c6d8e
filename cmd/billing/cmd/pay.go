package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recurring-billing-service/internal/reconciler"
	"recurring-billing-service/internal/reporter"
	"recurring-billing-service/pkg/errors"
)

var (
	payStart        string
	payEnd          string
	payDate         string
	payInstallments bool
	payProgress     bool
)

var payAllCmd = &cobra.Command{
	Use:   "pay-all",
	Short: "Pay every item due in a period",
	Long: `Pay every active recurring item whose next due date falls in the period
and whose current cycle is open. With --installments the unpaid installment
lines due in the period are paid instead.

Items are paid one at a time. A failing item is reported and does not stop
or undo the others.

Examples:
  billing pay-all --start 2024-06-01 --end 2024-06-30
  billing pay-all --start 2024-06-01 --end 2024-06-30 --installments
  billing pay-all --start 2024-06-01 --end 2024-06-30 --progress --format json`,
	Args:    cobra.NoArgs,
	PreRunE: validatePayAllFlags,
	RunE:    runPayAll,
}

func init() {
	rootCmd.AddCommand(payAllCmd)

	payAllCmd.Flags().StringVar(&payStart, "start", "", "first day of the period (YYYY-MM-DD, required)")
	payAllCmd.Flags().StringVar(&payEnd, "end", "", "last day of the period (YYYY-MM-DD, required)")
	payAllCmd.Flags().StringVar(&payDate, "date", "", "payment date (default today)")
	payAllCmd.Flags().BoolVar(&payInstallments, "installments", false, "pay installment lines instead of recurring items")
	payAllCmd.Flags().BoolVar(&payProgress, "progress", false, "show progress indicators")

	payAllCmd.MarkFlagRequired("start")
	payAllCmd.MarkFlagRequired("end")
}

func validatePayAllFlags(cmd *cobra.Command, args []string) error {
	if payStart == "" || payEnd == "" {
		return errors.ValidationError(errors.CodeMissingField, "period", nil, nil).
			WithSuggestion("pass both --start and --end")
	}
	start, err := parseDateFlag("start", payStart, time.Time{})
	if err != nil {
		return err
	}
	end, err := parseDateFlag("end", payEnd, time.Time{})
	if err != nil {
		return err
	}
	if start.After(end) {
		return errors.ValidationError(errors.CodeOutOfRange, "period", payStart+" to "+payEnd, nil).
			WithSuggestion("the start date cannot be after the end date")
	}
	if _, err := parseDateFlag("date", payDate, time.Time{}); err != nil {
		return err
	}
	return nil
}

func runPayAll(cmd *cobra.Command, args []string) error {
	start, _ := parseDateFlag("start", payStart, time.Time{})
	end, _ := parseDateFlag("end", payEnd, time.Time{})

	return withApp(cmd, func(a *app) error {
		now, _ := parseDateFlag("date", payDate, a.now())

		if payProgress {
			stderr := cmd.ErrOrStderr()
			a.batch.AddProgressCallback(func(p *reconciler.BatchProgress) {
				fmt.Fprintf(stderr, "\r[%d/%d] %s (%.1f%% complete)", p.Processed, p.Total, p.CurrentItem, p.Percent)
			})
		}

		var (
			result *reconciler.BatchResult
			err    error
		)
		if payInstallments {
			result, err = a.batch.PayInstallmentsDueInPeriod(cmd.Context(), a.config.Owner, start, end, now)
		} else {
			result, err = a.batch.PayAllDueForOwner(cmd.Context(), a.config.Owner, start, end, now)
		}
		if payProgress {
			fmt.Fprintln(cmd.ErrOrStderr())
		}
		if err != nil {
			return err
		}

		if failures := result.Err(); failures != nil {
			a.logger.WithError(failures).Warnf("%d payments failed", len(result.Failed))
		}
		return a.render(cmd, reporter.BatchReport(result))
	})
}

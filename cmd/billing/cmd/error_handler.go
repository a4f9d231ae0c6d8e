package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// CLIErrorHandler turns command errors into messages and exit codes
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: verbose,
	}
}

// HandleError prints err and returns the exit code for it
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	var summary *errors.ErrorSummary
	if stderrors.As(err, &summary) {
		return h.handleSummary(summary)
	}
	if billingErr, ok := errors.AsBillingError(err); ok {
		return h.handleBillingError(billingErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleBillingError(err *errors.BillingError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := h.getCategoryHelp(err.Category, err.Code); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleSummary(summary *errors.ErrorSummary) int {
	errs := make([]error, 0, len(summary.Errors))
	for _, e := range summary.Errors {
		errs = append(errs, e)
	}
	fmt.Fprintln(h.out, FormatValidationErrors(errs))
	return summary.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case stderrors.Is(err, os.ErrNotExist):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case stderrors.Is(err, os.ErrPermission):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions\n")
		return 2
	}

	// cobra reports unknown flags and bad arguments as plain errors
	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'billing --help' for usage.\n")
	return 1
}

func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory, code errors.ErrorCode) string {
	switch category {
	case errors.CategoryPayment:
		switch code {
		case errors.CodeInsufficientBalance:
			return `Payment help:
• Record income first with 'billing ledger deposit'
• Check the current balance with 'billing ledger balance'
• Set payments.enforce_balance to false to allow a negative balance`
		case errors.CodeAlreadyProcessing:
			return `Payment help:
• The current cycle is already paid or a payment is in progress
• Use 'billing item due' to see when the next cycle opens`
		case errors.CodePurchaseNotSettled:
			return `Installment help:
• Pay the remaining lines, or
• Use 'billing installment cancel' to remove the purchase and reverse its payments`
		}
		return ""

	case errors.CategorySchedule:
		return `Schedule help:
• Frequencies are daily, weekly, monthly, semiannually and annually
• Anchor days run from 1 to 31 and are clamped to the length of the month`

	case errors.CategoryValidation:
		return `Validation help:
• Dates use the YYYY-MM-DD format
• Amounts are positive decimals such as 39.90 or R$ 1.234,56
• Check that all required flags have values`

	case errors.CategoryConfiguration:
		return `Configuration help:
• Check the syntax of the file given with --config
• Environment variables use the BILLING_ prefix (BILLING_DB_DSN, ...)
• Try running with default settings first`

	case errors.CategoryNotFound:
		return `Use the list commands ('billing item list', 'billing installment list') to find valid ids.`

	case errors.CategoryStorage:
		return `Storage help:
• Check that the database in db.dsn is reachable and writable
• Run 'billing migrate up' if the schema is missing`
	}
	return ""
}

// FormatValidationErrors lists up to ten errors, one per line
func FormatValidationErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) == 1 {
		return fmt.Sprintf("Validation error: %v", errs[0])
	}

	lines := []string{fmt.Sprintf("Found %d validation errors:", len(errs))}
	for i, err := range errs {
		if i == 10 {
			lines = append(lines, fmt.Sprintf("  ... and %d more errors", len(errs)-10))
			break
		}
		lines = append(lines, fmt.Sprintf("  %d. %v", i+1, err))
	}
	return strings.Join(lines, "\n")
}

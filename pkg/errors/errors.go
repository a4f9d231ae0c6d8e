package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryPayment       ErrorCategory = "payment"
	CategorySchedule      ErrorCategory = "schedule"
	CategoryStorage       ErrorCategory = "storage"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Payment errors
	CodeInsufficientBalance ErrorCode = "insufficient_balance"
	CodeAlreadyProcessing   ErrorCode = "already_processing"
	CodePurchaseNotSettled  ErrorCode = "purchase_not_settled"

	// Schedule errors
	CodeInvalidSchedule ErrorCode = "invalid_schedule"

	// Storage errors
	CodeStorageFailure ErrorCode = "storage_failure"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"
	CodeOutOfRange    ErrorCode = "out_of_range"
	CodeInvalidFormat ErrorCode = "invalid_format"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Lookup errors
	CodeNotFound ErrorCode = "not_found"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// BillingError is the base error type for all application errors
type BillingError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *BillingError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *BillingError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *BillingError) GetExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategorySchedule:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryPayment:
		return 5
	case CategoryStorage, CategoryInternal:
		return 6
	case CategoryNotFound:
		return 7
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *BillingError) WithContext(key string, value interface{}) *BillingError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *BillingError) WithSuggestion(suggestion string) *BillingError {
	e.Suggestion = suggestion
	return e
}

// New creates a new BillingError
func New(category ErrorCategory, code ErrorCode, message string) *BillingError {
	return &BillingError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with BillingError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *BillingError {
	if err == nil {
		return nil
	}

	return &BillingError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *BillingError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// PaymentError creates a payment-related error for the given item
func PaymentError(code ErrorCode, itemID string, err error) *BillingError {
	var message string
	var suggestion string

	switch code {
	case CodeInsufficientBalance:
		message = fmt.Sprintf("insufficient balance to pay %s", itemID)
		suggestion = "deposit funds or disable the balance check before paying"
	case CodeAlreadyProcessing:
		message = fmt.Sprintf("payment for %s is already processed or in flight", itemID)
		suggestion = "refresh the item; the current cycle is settled or being settled"
	case CodePurchaseNotSettled:
		message = fmt.Sprintf("purchase %s still has unpaid installments", itemID)
		suggestion = "pay every installment first, or cancel the purchase to reverse it"
	default:
		message = fmt.Sprintf("payment error for %s", itemID)
		suggestion = "review the item and try again"
	}

	return build(CategoryPayment, code, message, err).
		WithSuggestion(suggestion).
		WithContext("item_id", itemID)
}

// ScheduleError creates a schedule arithmetic error
func ScheduleError(field string, value interface{}, err error) *BillingError {
	return build(CategorySchedule, CodeInvalidSchedule,
		fmt.Sprintf("invalid schedule in field '%s': %v", field, value), err).
		WithSuggestion("use a known frequency and an anchor day between 1 and 31").
		WithContext("field", field).
		WithContext("value", value)
}

// StorageError creates a persistence error for the given operation
func StorageError(operation string, err error) *BillingError {
	return build(CategoryStorage, CodeStorageFailure,
		fmt.Sprintf("storage failure during %s", operation), err).
		WithSuggestion("nothing was written; retry the operation manually").
		WithContext("operation", operation)
}

// NotFoundError creates an error for a missing record
func NotFoundError(kind, id string) *BillingError {
	return New(CategoryNotFound, CodeNotFound, fmt.Sprintf("%s not found: %s", kind, id)).
		WithSuggestion("the record may have been deleted; refresh and try again").
		WithContext("kind", kind).
		WithContext("id", id)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *BillingError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts must be positive decimals (e.g., '12.34')"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use date format YYYY-MM-DD"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in field '%s': %v", field, value)
		suggestion = "check the value against the documented format"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *BillingError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting in the config file or BILLING_ environment"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *BillingError {
	return build(CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation), err).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*BillingError       `json:"errors"`
	SampleErrors []*BillingError       `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*BillingError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*BillingError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// AsBillingError extracts a BillingError from an error chain
func AsBillingError(err error) (*BillingError, bool) {
	var billingErr *BillingError
	if errors.As(err, &billingErr) {
		return billingErr, true
	}
	return nil, false
}

// IsCode reports whether err carries a BillingError with the given code
func IsCode(err error, code ErrorCode) bool {
	billingErr, ok := AsBillingError(err)
	return ok && billingErr.Code == code
}

// CodeOf returns the code of the first BillingError in the chain, or ""
func CodeOf(err error) ErrorCode {
	if billingErr, ok := AsBillingError(err); ok {
		return billingErr.Code
	}
	return ""
}

// WrapIfNeeded wraps an error if it's not already a BillingError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *BillingError {
	if err == nil {
		return nil
	}

	if billingErr, ok := AsBillingError(err); ok {
		return billingErr
	}

	return Wrap(err, category, code, message)
}

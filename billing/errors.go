/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is against the
  sentinels, or errors.As against the structured types to get offending ids.

ERROR CATEGORIES:
  1. Lookup errors      - NotFound (404)
  2. Precondition errors - NoBillableItems, validation, immutability (400/409)
  3. Concurrency errors  - ConcurrentInvoicing (409, safe to retry)
  4. Persistence errors  - TransactionFailed (500, rolled back, safe to retry)

SEE ALSO:
  - generator.go: produces these errors
  - api/handlers.go: statusFor maps them to HTTP statuses
*/
package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced client, project or invoice doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrNoBillableItems is returned when selection finds nothing to invoice.
	ErrNoBillableItems = errors.New("no billable items")

	// ErrConcurrentInvoicing is returned when another transaction consumed the
	// selected items first. Re-running selection is safe.
	ErrConcurrentInvoicing = errors.New("concurrent invoicing conflict")

	// ErrTransactionFailed wraps any persistence failure inside the invoice transaction.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrInvoicedImmutable is returned when editing or deleting an invoiced source record.
	ErrInvoicedImmutable = errors.New("record is invoiced and cannot be changed")

	// ErrInvalidTransition is returned for an invoice status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid invoice status transition")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "client", "project", "invoice", ...
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NoBillableItemsError reports an empty selection.
type NoBillableItemsError struct {
	ProjectIDs []ProjectID
	UpTo       time.Time
}

func (e *NoBillableItemsError) Error() string {
	ids := make([]string, len(e.ProjectIDs))
	for i, id := range e.ProjectIDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("no uninvoiced time or billable expenses up to %s for project(s) %s",
		e.UpTo.Format(DateLayout), strings.Join(ids, ", "))
}

func (e *NoBillableItemsError) Unwrap() error { return ErrNoBillableItems }

// ConflictError names a source record another transaction invoiced first.
type ConflictError struct {
	Kind string // "time_entry" or "expense"
	ID   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d was invoiced by a concurrent request", e.Kind, e.ID)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentInvoicing }

// ImmutableError names an invoiced record that a caller tried to change.
type ImmutableError struct {
	Kind      string
	ID        int64
	InvoiceID InvoiceID
}

func (e *ImmutableError) Error() string {
	return fmt.Sprintf("%s %d belongs to invoice %d", e.Kind, e.ID, e.InvoiceID)
}

func (e *ImmutableError) Unwrap() error { return ErrInvoicedImmutable }

// TransactionError wraps a persistence failure with the step that failed.
// errors.Is matches both ErrTransactionFailed and the underlying cause.
type TransactionError struct {
	Step string
	Err  error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("invoice transaction failed at %s: %v", e.Step, e.Err)
}

func (e *TransactionError) Unwrap() []error { return []error{ErrTransactionFailed, e.Err} }

// TransitionError reports a forbidden status change.
type TransitionError struct {
	From, To InvoiceStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move invoice from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-running the whole operation might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentInvoicing) || errors.Is(err, ErrTransactionFailed)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoBillableItems) ||
		errors.Is(err, ErrValidation)
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentInvoicing) ||
		errors.Is(err, ErrInvoicedImmutable) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// isDomainError reports errors the generator passes through without wrapping.
func isDomainError(err error) bool {
	return IsNotFound(err) || IsClientError(err) || IsConflict(err)
}

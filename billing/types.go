/*
Package billing provides the invoice-generation engine.

PURPOSE:
  Turns uninvoiced, billable work (time entries and expenses) into a draft
  invoice. Selection, aggregation into line items, invoice numbering and the
  marking of source records all happen inside one persistence transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client / Project: who is billed and at which hourly rate
  - TimeEntry / Expense: billable source records, immutable once invoiced
  - Settings: the singleton row holding the invoice-number counter
  - Invoice / LineItem: the generated document and its rows
  - LineItemDraft: a line computed by the aggregator, not yet persisted

DESIGN PRINCIPLES:
  1. Precision: money and hours use decimal.Decimal, never float64
  2. Type Safety: each entity has its own ID type
  3. Closed discriminators: LineType and InvoiceStatus are exhaustive enums

SEE ALSO:
  - selector.go: which items are billable
  - aggregator.go: items -> line-item drafts
  - generator.go: the transactional orchestrator
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID int64
type ProjectID int64
type TimeEntryID int64
type ExpenseID int64
type InvoiceID int64
type LineItemID int64

// =============================================================================
// CATALOG - Clients and projects (rate source)
// =============================================================================

type Client struct {
	ID        ClientID
	Name      string
	Email     string
	Address   string
	CreatedAt time.Time
}

type Project struct {
	ID         ProjectID
	ClientID   ClientID
	Name       string
	HourlyRate decimal.Decimal
	Active     bool
	CreatedAt  time.Time
}

// =============================================================================
// BILLABLE SOURCES
// =============================================================================

// TimeEntry is a span of work on a project.
//
// INVARIANT: IsInvoiced implies InvoiceID != nil and EndAt != nil.
type TimeEntry struct {
	ID         TimeEntryID
	ProjectID  ProjectID
	StartAt    time.Time
	EndAt      *time.Time // nil while the entry is still running
	TotalHours decimal.Decimal
	Note       string
	IsInvoiced bool
	InvoiceID  *InvoiceID
}

// Running reports whether the entry has no end time yet.
func (e TimeEntry) Running() bool { return e.EndAt == nil }

type Expense struct {
	ID          ExpenseID
	ProjectID   ProjectID
	ExpenseDate time.Time // calendar date, midnight UTC
	Description string
	Amount      decimal.Decimal
	IsBillable  bool
	IsInvoiced  bool
	InvoiceID   *InvoiceID
}

// =============================================================================
// SETTINGS - Singleton row, sole source of invoice sequence numbers
// =============================================================================

type Settings struct {
	NextInvoiceNumber     int64
	InvoiceNumberTemplate string
	PaymentTermDays       int
	Timezone              string
}

// Calendar returns the business calendar for the configured timezone.
func (s Settings) Calendar() (Calendar, error) {
	return NewCalendar(s.Timezone)
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusSent      InvoiceStatus = "sent"
	StatusPaid      InvoiceStatus = "paid"
	StatusCancelled InvoiceStatus = "cancelled"
)

// ParseInvoiceStatus validates a status string.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch st := InvoiceStatus(s); st {
	case StatusDraft, StatusSent, StatusPaid, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown invoice status %q", ErrValidation, s)
	}
}

type Invoice struct {
	ID           InvoiceID
	Number       string
	Sequence     int64
	ClientID     ClientID
	ProjectID    *ProjectID // nil for client-level invoices
	DateInvoiced time.Time
	DueDate      time.Time
	Status       InvoiceStatus
	Subtotal     decimal.Decimal
	Total        decimal.Decimal
	Notes        string
	CreatedAt    time.Time
}

// =============================================================================
// LINE ITEMS
// =============================================================================

type LineType string

const (
	LineTime    LineType = "time"
	LineExpense LineType = "expense"
	LineManual  LineType = "manual"
)

// LineItemDraft is a computed line that has not been persisted yet.
// At most one of LinkedTimeEntryID / LinkedExpenseID is set, and only for the
// matching Type.
type LineItemDraft struct {
	Type              LineType
	Description       string
	Quantity          decimal.Decimal
	UnitPrice         decimal.Decimal
	Amount            decimal.Decimal
	LinkedTimeEntryID *TimeEntryID
	LinkedExpenseID   *ExpenseID
}

// Validate checks that the back-references agree with the line type.
func (d LineItemDraft) Validate() error {
	switch d.Type {
	case LineTime:
		if d.LinkedExpenseID != nil {
			return fmt.Errorf("%w: time line linked to an expense", ErrValidation)
		}
	case LineExpense:
		if d.LinkedTimeEntryID != nil || d.LinkedExpenseID == nil {
			return fmt.Errorf("%w: expense line must link exactly one expense", ErrValidation)
		}
	case LineManual:
		if d.LinkedTimeEntryID != nil || d.LinkedExpenseID != nil {
			return fmt.Errorf("%w: manual line cannot link a source record", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown line type %q", ErrValidation, d.Type)
	}
	return nil
}

type LineItem struct {
	ID        LineItemID
	InvoiceID InvoiceID
	LineItemDraft
}

// GeneratedInvoice is what the generator hands back to its caller.
type GeneratedInvoice struct {
	Invoice   Invoice
	LineItems []LineItem
}

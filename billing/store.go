/*
store.go - Persistence interface for the billing engine

PURPOSE:
  Defines the interface between the domain logic and the database.
  Every read and write runs through a Tx handed out by Store.WithTx, so
  the invoice generator's select/insert/mark sequence is one unit of work.

KEY INTERFACES:
  Store:         Transaction boundary plus health check
  Tx:            Everything a unit of work can do, grouped below
  SettingsRepo:  Singleton settings row and the invoice-number counter
  CatalogRepo:   Clients and projects
  EntryRepo:     Time entries and expenses
  InvoiceRepo:   Invoices and their line items

UNIT OF WORK:
  WithTx(ctx, fn) commits when fn returns nil and rolls back otherwise.
  A rollback undoes everything fn did, including a reserved invoice number.

LOOKUPS:
  Get* / Lock* return a *NotFoundError (errors.Is ErrNotFound) for a missing row.
  Lock* additionally take a row lock where the backend supports it.

MARKING:
  Mark*Invoiced only touches rows that are still uninvoiced. It reports
  false when the row was already consumed, which the generator turns into
  a ConflictError.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite (default) and PostgreSQL via sqlx
  - billing/memstore: In-memory for testing

SEE ALSO:
  - generator.go: the main consumer
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Transaction boundary
// =============================================================================

type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// Tx is the transactional view handed to WithTx callbacks.
type Tx interface {
	SettingsRepo
	CatalogRepo
	EntryRepo
	InvoiceRepo
}

// =============================================================================
// SETTINGS
// =============================================================================

type SettingsRepo interface {
	GetSettings(ctx context.Context) (Settings, error)
	// UpdateSettings fails with ErrValidation when s.NextInvoiceNumber is
	// behind the stored counter at write time.
	UpdateSettings(ctx context.Context, s Settings) error

	// ReserveInvoiceNumber atomically increments the counter and returns the
	// value it held before the increment.
	ReserveInvoiceNumber(ctx context.Context) (int64, error)
}

// =============================================================================
// CATALOG
// =============================================================================

type ProjectFilter struct {
	ClientID *ClientID
	Active   *bool
}

type CatalogRepo interface {
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id ClientID) (Client, error)
	ListClients(ctx context.Context) ([]Client, error)

	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id ProjectID) (Project, error)
	LockProject(ctx context.Context, id ProjectID) (Project, error)
	ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error)
	UpdateProject(ctx context.Context, p Project) error
}

// =============================================================================
// TIME ENTRIES & EXPENSES
// =============================================================================

type ItemFilter struct {
	ProjectID      ProjectID
	UninvoicedOnly bool
}

type EntryRepo interface {
	CreateTimeEntry(ctx context.Context, e *TimeEntry) error
	GetTimeEntry(ctx context.Context, id TimeEntryID) (TimeEntry, error)
	UpdateTimeEntry(ctx context.Context, e TimeEntry) error
	DeleteTimeEntry(ctx context.Context, id TimeEntryID) error
	ListTimeEntries(ctx context.Context, f ItemFilter) ([]TimeEntry, error)

	// UninvoicedTimeEntries returns finished, uninvoiced entries of the given
	// projects with StartAt strictly before the cutoff instant, by StartAt.
	UninvoicedTimeEntries(ctx context.Context, projectIDs []ProjectID, cutoff time.Time) ([]TimeEntry, error)
	MarkTimeEntryInvoiced(ctx context.Context, id TimeEntryID, invoiceID InvoiceID) (bool, error)

	CreateExpense(ctx context.Context, e *Expense) error
	GetExpense(ctx context.Context, id ExpenseID) (Expense, error)
	UpdateExpense(ctx context.Context, e Expense) error
	DeleteExpense(ctx context.Context, id ExpenseID) error
	ListExpenses(ctx context.Context, f ItemFilter) ([]Expense, error)

	// BillableExpenses returns billable, uninvoiced expenses of the given
	// projects dated on or before upTo, by ExpenseDate.
	BillableExpenses(ctx context.Context, projectIDs []ProjectID, upTo time.Time) ([]Expense, error)
	MarkExpenseInvoiced(ctx context.Context, id ExpenseID, invoiceID InvoiceID) (bool, error)
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceFilter struct {
	ClientID *ClientID
	Status   *InvoiceStatus
}

type InvoiceRepo interface {
	InsertInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (Invoice, error)
	LockInvoice(ctx context.Context, id InvoiceID) (Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)
	UpdateInvoiceTotals(ctx context.Context, id InvoiceID, subtotal, total decimal.Decimal) error
	UpdateInvoiceStatus(ctx context.Context, id InvoiceID, status InvoiceStatus) error

	// DeleteInvoice removes the header and its line items.
	DeleteInvoice(ctx context.Context, id InvoiceID) error

	// ReleaseInvoiceItems clears isInvoiced/invoiceId on every source record
	// pointing at the invoice.
	ReleaseInvoiceItems(ctx context.Context, id InvoiceID) error

	InsertLineItem(ctx context.Context, li *LineItem) error
	ListLineItems(ctx context.Context, id InvoiceID) ([]LineItem, error)
}
